// Package httpapi exposes the webhook endpoint and the dashboard API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/danielolaszy/feedbacksync/internal/health"
	"github.com/danielolaszy/feedbacksync/internal/logging"
	"github.com/danielolaszy/feedbacksync/internal/notify"
	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/internal/syncer"
	"github.com/danielolaszy/feedbacksync/internal/vault"
	"github.com/danielolaszy/feedbacksync/internal/webhook"
)

const (
	headerUserID    = "X-User-Id"
	headerRequestID = "X-Request-Id"
	headerSignature = "X-Hub-Signature-256"
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
)

type ServerConfig struct {
	MaxBodyBytes int64
}

// Services are the components the server dispatches to.
type Services struct {
	Store         *store.Store
	Vault         *vault.Vault
	Verifier      *webhook.Verifier
	Engine        *syncer.Engine
	Notifications *notify.Service
	Health        *health.Monitor
}

type Server struct {
	svc Services
	cfg ServerConfig
}

func NewServer(svc Services) *Server {
	return NewServerWithConfig(svc, ServerConfig{})
}

func NewServerWithConfig(svc Services, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{svc: svc, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "route not found", getRequestID(r))
		return
	}

	// webhook deliveries authenticate by signature, not by user
	if len(parts) == 4 && parts[1] == "webhooks" && parts[2] == "github" && r.Method == http.MethodPost {
		s.handleWebhook(w, r, parts[3])
		return
	}

	var route string
	switch {
	case len(parts) == 4 && parts[1] == "feedback" && parts[3] == "close" && r.Method == http.MethodPost:
		route = "close_feedback"
	case len(parts) == 4 && parts[1] == "feedback" && parts[3] == "progress" && r.Method == http.MethodPost:
		route = "progress_feedback"
	case len(parts) == 4 && parts[1] == "issues" && parts[3] == "activity" && r.Method == http.MethodGet:
		route = "issue_activity"
	case len(parts) == 2 && parts[1] == "notifications" && r.Method == http.MethodGet:
		route = "notifications"
	case len(parts) == 3 && parts[1] == "notifications" && parts[2] == "read-all" && r.Method == http.MethodPost:
		route = "notifications_read_all"
	case len(parts) == 4 && parts[1] == "notifications" && parts[3] == "read" && r.Method == http.MethodPost:
		route = "notification_read"
	case len(parts) == 4 && parts[1] == "projects" && parts[3] == "webhook-secret" && r.Method == http.MethodPost:
		route = "rotate_secret"
	case len(parts) == 4 && parts[1] == "projects" && parts[3] == "webhook-health" && r.Method == http.MethodGet:
		route = "webhook_health"
	default:
		writeError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "route not found", getRequestID(r))
		return
	}

	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "IDENTITY_MISSING", "missing "+headerUserID+" header", getRequestID(r))
		return
	}

	switch route {
	case "close_feedback":
		s.handleCloseFeedback(w, r, userID, parts[2])
	case "progress_feedback":
		s.handleStartProgress(w, r, userID, parts[2])
	case "issue_activity":
		s.handleIssueActivity(w, r, userID, parts[2])
	case "notifications":
		s.handleNotifications(w, r, userID)
	case "notifications_read_all":
		s.handleMarkAllRead(w, r, userID)
	case "notification_read":
		s.handleMarkRead(w, r, userID, parts[2])
	case "rotate_secret":
		s.handleRotateSecret(w, r, userID, parts[2])
	case "webhook_health":
		s.handleWebhookHealth(w, r, userID, parts[2])
	}
}

func getRequestID(r *http.Request) string {
	if id := r.Header.Get(headerRequestID); id != "" {
		return id
	}
	return r.Header.Get(headerDelivery)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, requestID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body exceeds configured limit", requestID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "failed to read request body", requestID)
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message, requestID string) {
	writeJSON(w, status, map[string]any{
		"code":      code,
		"message":   message,
		"requestId": requestID,
	})
}

func parseBool(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}
