// Package storetest opens throwaway in-memory stores and seeds fixtures for
// package tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// New opens a migrated in-memory SQLite store private to the test.
func New(t *testing.T) *store.Store {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=on"
	s, err := store.Open(context.Background(), store.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// Fixture is a project with an integration, one feedback record and its issue.
type Fixture struct {
	Project     *models.Project
	Integration *models.GitHubIntegration
	Feedback    *models.Feedback
	Issue       *models.Issue
}

// Seed creates a Fixture owned by ownerID whose issue maps to GitHub issue
// number externalID. The integration secret is secret.
func Seed(t *testing.T, s *store.Store, ownerID, externalID, secret string) Fixture {
	t.Helper()
	ctx := context.Background()
	db := s.DB()

	syncedAt := time.Now().UTC().Add(-time.Hour)
	fx := Fixture{
		Project: &models.Project{
			ID:          uuid.NewString(),
			Name:        "widget",
			OwnerUserID: ownerID,
		},
	}
	fx.Integration = &models.GitHubIntegration{
		ProjectID:     fx.Project.ID,
		Repository:    "acme/widget",
		HookID:        7,
		WebhookSecret: secret,
	}
	fx.Feedback = &models.Feedback{
		ID:           uuid.NewString(),
		ProjectID:    fx.Project.ID,
		AuthorUserID: "reporter",
		Title:        "Button does nothing",
		Status:       models.FeedbackOpen,
	}
	fx.Issue = &models.Issue{
		ID:              uuid.NewString(),
		FeedbackID:      fx.Feedback.ID,
		ExternalIssueID: externalID,
		ExternalURL:     "https://github.com/acme/widget/issues/" + externalID,
		State:           models.IssueOpen,
		SyncedAt:        syncedAt,
	}

	require.NoError(t, store.CreateProject(ctx, db, fx.Project))
	require.NoError(t, store.CreateIntegration(ctx, db, fx.Integration))
	require.NoError(t, store.CreateFeedback(ctx, db, fx.Feedback))
	require.NoError(t, store.CreateIssue(ctx, db, fx.Issue))
	return fx
}

// Reload fetches the current issue and feedback rows of a fixture.
func Reload(t *testing.T, s *store.Store, fx Fixture) (*models.Issue, *models.Feedback) {
	t.Helper()
	ctx := context.Background()
	issue, err := store.GetIssue(ctx, s.DB(), fx.Issue.ID)
	require.NoError(t, err)
	feedback, err := store.GetFeedback(ctx, s.DB(), fx.Feedback.ID)
	require.NoError(t, err)
	return issue, feedback
}
