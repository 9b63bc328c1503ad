package httpapi

import (
	"net/http"

	"github.com/danielolaszy/feedbacksync/internal/webhook"
)

type webhookResponse struct {
	Status     string `json:"status"`
	DeliveryID string `json:"deliveryId,omitempty"`
	Changed    bool   `json:"changed"`
}

// handleWebhook accepts a GitHub delivery. The body is read raw and verified
// before any decoding.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, projectID string) {
	requestID := getRequestID(r)
	body, ok := s.readRequestBody(w, r, requestID)
	if !ok {
		return
	}

	payload, err := s.svc.Verifier.Verify(r.Context(), projectID, body, r.Header.Get(headerSignature))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	eventType := r.Header.Get(headerEvent)
	ev, err := webhook.ParseEvent(eventType, payload)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	result, err := s.svc.Engine.ApplyWebhookEvent(r.Context(), projectID, ev)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	status := "accepted"
	if ev.Ignored {
		status = "ignored"
	}
	requestLogger(r).Debug("webhook delivery handled",
		"project_id", projectID,
		"event", eventType,
		"status", status,
		"changed", result.Changed())
	writeJSON(w, http.StatusAccepted, webhookResponse{
		Status:     status,
		DeliveryID: r.Header.Get(headerDelivery),
		Changed:    result.Changed(),
	})
}
