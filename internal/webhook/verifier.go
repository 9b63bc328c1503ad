// Package webhook authenticates inbound GitHub deliveries and turns the
// verified bytes into sync events.
package webhook

import (
	"context"
	"fmt"

	"github.com/google/go-github/v41/github"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/logging"
)

// SecretSource returns the current signing secret of a project.
type SecretSource interface {
	CurrentSecret(ctx context.Context, projectID string) ([]byte, error)
}

// VerifiedPayload is a request body whose signature has been checked. It can
// only be obtained from Verifier.Verify.
type VerifiedPayload struct {
	projectID string
	body      []byte
}

// ProjectID returns the project the payload was verified for.
func (p VerifiedPayload) ProjectID() string { return p.projectID }

// Bytes returns the raw verified body.
func (p VerifiedPayload) Bytes() []byte { return p.body }

// Verifier checks X-Hub-Signature-256 headers against the project secret.
type Verifier struct {
	secrets SecretSource
}

// NewVerifier creates a Verifier reading secrets from src.
func NewVerifier(src SecretSource) *Verifier {
	return &Verifier{secrets: src}
}

// Verify computes the HMAC of payload with the project's current secret and
// compares it with signature in constant time. Every failure, including a
// project without an integration or secret, is reported as
// apperr.ErrSignature. Nothing in payload is parsed before this succeeds.
func (v *Verifier) Verify(ctx context.Context, projectID string, payload []byte, signature string) (VerifiedPayload, error) {
	if signature == "" {
		return VerifiedPayload{}, fmt.Errorf("missing signature header: %w", apperr.ErrSignature)
	}

	secret, err := v.secrets.CurrentSecret(ctx, projectID)
	if err != nil {
		if apperr.Retryable(err) {
			return VerifiedPayload{}, err
		}
		logging.Warn("rejecting delivery for unconfigured project", "project_id", projectID, "error", err)
		return VerifiedPayload{}, fmt.Errorf("project %s: %w", projectID, apperr.ErrSignature)
	}
	if len(secret) == 0 {
		return VerifiedPayload{}, fmt.Errorf("project %s has no secret: %w", projectID, apperr.ErrSignature)
	}

	if err := github.ValidateSignature(signature, payload, secret); err != nil {
		logging.Warn("webhook signature mismatch", "project_id", projectID)
		return VerifiedPayload{}, fmt.Errorf("%w: %v", apperr.ErrSignature, err)
	}

	return VerifiedPayload{projectID: projectID, body: payload}, nil
}
