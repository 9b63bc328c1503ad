// Package vault generates, rotates and serves the per-project webhook
// signing secret.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/logging"
	"github.com/danielolaszy/feedbacksync/internal/store"
)

// SecretBytes is the amount of randomness in a secret (256 bits).
const SecretBytes = 32

// Vault owns the webhook secret column of GitHub integrations. All reads and
// replacements go through it; each is a single-row statement, so concurrent
// readers see either the old or the new secret.
type Vault struct {
	store *store.Store
	rand  io.Reader
	clock func() time.Time
}

// New creates a Vault backed by s.
func New(s *store.Store) *Vault {
	return &Vault{
		store: s,
		rand:  rand.Reader,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Rotate replaces the project's signing secret and returns the new value.
// This is the only time the plaintext is handed out. Deliveries signed with
// the previous secret fail verification as soon as the update commits.
func (v *Vault) Rotate(ctx context.Context, projectID string) (string, error) {
	buf := make([]byte, SecretBytes)
	if _, err := io.ReadFull(v.rand, buf); err != nil {
		return "", fmt.Errorf("generating webhook secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	ok, err := store.ReplaceWebhookSecret(ctx, v.store.DB(), projectID, secret, v.clock())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("project %s: %w", projectID, apperr.ErrNotConfigured)
	}

	logging.Info("rotated webhook secret", "project_id", projectID, "secret", logging.MaskSensitive(secret))
	return secret, nil
}

// CurrentSecret returns the project's signing secret for verification.
// An integration without a secret is reported as not configured.
func (v *Vault) CurrentSecret(ctx context.Context, projectID string) ([]byte, error) {
	gi, err := store.GetIntegration(ctx, v.store.DB(), projectID)
	if err != nil {
		return nil, err
	}
	if gi.WebhookSecret == "" {
		return nil, fmt.Errorf("project %s has no webhook secret: %w", projectID, apperr.ErrNotConfigured)
	}
	return []byte(gi.WebhookSecret), nil
}
