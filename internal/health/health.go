// Package health derives a webhook health verdict from GitHub's record of
// recent deliveries. It never writes sync state.
package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/logging"
	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// DeliveryLister lists recent deliveries of a repository webhook.
type DeliveryLister interface {
	ListHookDeliveries(ctx context.Context, repository string, hookID int64) ([]models.DeliveryRecord, error)
}

// Report is the outcome of a health check.
type Report struct {
	Verified         bool                    `json:"verified"`
	RecentDeliveries []models.DeliveryRecord `json:"recentDeliveries"`
	LastVerifiedAt   *time.Time              `json:"lastVerifiedAt,omitempty"`
}

// Monitor checks webhook delivery health.
type Monitor struct {
	store  *store.Store
	lister DeliveryLister
}

// NewMonitor creates a Monitor.
func NewMonitor(s *store.Store, lister DeliveryLister) *Monitor {
	return &Monitor{store: s, lister: lister}
}

// CheckHealth reports whether the most recent delivery to the project's
// webhook was answered with a 2xx status.
func (m *Monitor) CheckHealth(ctx context.Context, projectID string) (*Report, error) {
	gi, err := store.GetIntegration(ctx, m.store.DB(), projectID)
	if err != nil {
		return nil, err
	}
	if gi.HookID == 0 || gi.Repository == "" {
		return nil, fmt.Errorf("project %s has no webhook: %w", projectID, apperr.ErrNotConfigured)
	}

	deliveries, err := m.lister.ListHookDeliveries(ctx, gi.Repository, gi.HookID)
	if err != nil {
		return nil, apperr.External(err)
	}

	sorted := make([]models.DeliveryRecord, len(deliveries))
	copy(sorted, deliveries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	report := &Report{
		RecentDeliveries: sorted,
		LastVerifiedAt:   gi.LastVerifiedAt,
	}
	if len(sorted) > 0 {
		report.Verified = sorted[0].Succeeded()
	}

	logging.Debug("webhook health checked",
		"project_id", projectID,
		"hook_id", gi.HookID,
		"deliveries", len(sorted),
		"verified", report.Verified)
	return report, nil
}
