package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/ledger"
	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

func (s *Server) handleCloseFeedback(w http.ResponseWriter, r *http.Request, userID, feedbackID string) {
	result, err := s.svc.Engine.CloseFromDashboard(r.Context(), userID, feedbackID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback": result.Feedback,
		"issue":    result.Issue,
		"changed":  result.Changed(),
	})
}

func (s *Server) handleStartProgress(w http.ResponseWriter, r *http.Request, userID, feedbackID string) {
	feedback, err := s.svc.Engine.StartProgress(r.Context(), userID, feedbackID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": feedback})
}

func (s *Server) handleIssueActivity(w http.ResponseWriter, r *http.Request, userID, issueID string) {
	ctx := r.Context()
	db := s.svc.Store.DB()
	project, err := store.ProjectForIssue(ctx, db, issueID)
	if err == nil && project.OwnerUserID != userID {
		err = fmt.Errorf("issue %s: %w", issueID, apperr.ErrUnauthorized)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	activities, err := ledger.ListByIssue(ctx, db, issueID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if activities == nil {
		activities = []models.IssueActivity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, userID string) {
	ctx := r.Context()
	unreadOnly := parseBool(r.URL.Query().Get("unread"), false)
	list, err := s.svc.Notifications.List(ctx, userID, unreadOnly)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	unread, err := s.svc.Notifications.UnreadCount(ctx, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"unreadCount":   unread,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, userID, notificationID string) {
	n, err := s.svc.Notifications.MarkAsRead(r.Context(), notificationID, userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": n})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request, userID string) {
	updated, err := s.svc.Notifications.MarkAllAsRead(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (s *Server) handleRotateSecret(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	if err := s.requireOwner(r, userID, projectID); err != nil {
		writeAppError(w, r, err)
		return
	}
	secret, err := s.svc.Vault.Rotate(r.Context(), projectID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (s *Server) handleWebhookHealth(w http.ResponseWriter, r *http.Request, userID, projectID string) {
	if err := s.requireOwner(r, userID, projectID); err != nil {
		writeAppError(w, r, err)
		return
	}
	report, err := s.svc.Health.CheckHealth(r.Context(), projectID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if report.Verified {
		now := time.Now().UTC()
		if err := store.MarkIntegrationVerified(r.Context(), s.svc.Store.DB(), projectID, now); err != nil {
			writeAppError(w, r, err)
			return
		}
		report.LastVerifiedAt = &now
	}
	if report.RecentDeliveries == nil {
		report.RecentDeliveries = []models.DeliveryRecord{}
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) requireOwner(r *http.Request, userID, projectID string) error {
	project, err := store.GetProject(r.Context(), s.svc.Store.DB(), projectID)
	if err != nil {
		return err
	}
	if project.OwnerUserID != userID {
		return fmt.Errorf("project %s: %w", projectID, apperr.ErrUnauthorized)
	}
	return nil
}
