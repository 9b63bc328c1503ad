package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// CreateProject inserts a project row.
func CreateProject(ctx context.Context, db bun.IDB, p *models.Project) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := db.NewInsert().Model(p).Exec(ctx)
	return apperr.Storage(err)
}

// GetProject loads a project by id.
func GetProject(ctx context.Context, db bun.IDB, projectID string) (*models.Project, error) {
	p := new(models.Project)
	err := db.NewSelect().Model(p).Where("id = ?", projectID).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "project "+projectID)
	}
	return p, nil
}

// ProjectForFeedback resolves the project that owns a feedback record.
func ProjectForFeedback(ctx context.Context, db bun.IDB, feedbackID string) (*models.Project, error) {
	p := new(models.Project)
	err := db.NewSelect().
		Model(p).
		Join("JOIN feedback AS f ON f.project_id = p.id").
		Where("f.id = ?", feedbackID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "feedback "+feedbackID)
	}
	return p, nil
}

// ProjectForIssue resolves the project that transitively owns an issue.
func ProjectForIssue(ctx context.Context, db bun.IDB, issueID string) (*models.Project, error) {
	p := new(models.Project)
	err := db.NewSelect().
		Model(p).
		Join("JOIN feedback AS f ON f.project_id = p.id").
		Join("JOIN issues AS i ON i.feedback_id = f.id").
		Where("i.id = ?", issueID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "issue "+issueID)
	}
	return p, nil
}

// CreateIntegration inserts the GitHub integration of a project.
func CreateIntegration(ctx context.Context, db bun.IDB, gi *models.GitHubIntegration) error {
	now := time.Now().UTC()
	if gi.CreatedAt.IsZero() {
		gi.CreatedAt = now
	}
	if gi.UpdatedAt.IsZero() {
		gi.UpdatedAt = now
	}
	_, err := db.NewInsert().Model(gi).Exec(ctx)
	return apperr.Storage(err)
}

// GetIntegration loads the GitHub integration of a project. A project without
// one yields apperr.ErrNotConfigured.
func GetIntegration(ctx context.Context, db bun.IDB, projectID string) (*models.GitHubIntegration, error) {
	gi := new(models.GitHubIntegration)
	err := db.NewSelect().Model(gi).Where("project_id = ?", projectID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", projectID, apperr.ErrNotConfigured)
	}
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return gi, nil
}

// ReplaceWebhookSecret swaps the signing secret in a single-row update and
// reports whether an integration row existed.
func ReplaceWebhookSecret(ctx context.Context, db bun.IDB, projectID, secret string, now time.Time) (bool, error) {
	res, err := db.NewUpdate().
		Model((*models.GitHubIntegration)(nil)).
		Set("webhook_secret = ?", secret).
		Set("updated_at = ?", now).
		Where("project_id = ?", projectID).
		Exec(ctx)
	if err != nil {
		return false, apperr.Storage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Storage(err)
	}
	return n == 1, nil
}

// MarkIntegrationVerified stamps the integration's last successful health check.
func MarkIntegrationVerified(ctx context.Context, db bun.IDB, projectID string, at time.Time) error {
	_, err := db.NewUpdate().
		Model((*models.GitHubIntegration)(nil)).
		Set("last_verified_at = ?", at).
		Where("project_id = ?", projectID).
		Exec(ctx)
	return apperr.Storage(err)
}

// CreateFeedback inserts a feedback record.
func CreateFeedback(ctx context.Context, db bun.IDB, f *models.Feedback) error {
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	if f.UpdatedAt.IsZero() {
		f.UpdatedAt = now
	}
	if f.Status == "" {
		f.Status = models.FeedbackOpen
	}
	_, err := db.NewInsert().Model(f).Exec(ctx)
	return apperr.Storage(err)
}

// GetFeedback loads a feedback record.
func GetFeedback(ctx context.Context, db bun.IDB, feedbackID string) (*models.Feedback, error) {
	f := new(models.Feedback)
	err := db.NewSelect().Model(f).Where("id = ?", feedbackID).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "feedback "+feedbackID)
	}
	return f, nil
}

// LockFeedback loads a feedback record under a row lock.
func LockFeedback(ctx context.Context, db bun.IDB, feedbackID string) (*models.Feedback, error) {
	f := new(models.Feedback)
	err := forUpdate(db.NewSelect().Model(f).Where("id = ?", feedbackID)).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "feedback "+feedbackID)
	}
	return f, nil
}

// SetFeedbackStatus updates a feedback status.
func SetFeedbackStatus(ctx context.Context, db bun.IDB, f *models.Feedback, status models.FeedbackStatus, now time.Time) error {
	f.Status = status
	f.UpdatedAt = now
	_, err := db.NewUpdate().Model(f).Column("status", "updated_at").WherePK().Exec(ctx)
	return apperr.Storage(err)
}

// CreateIssue inserts the issue mirror of a feedback record.
func CreateIssue(ctx context.Context, db bun.IDB, issue *models.Issue) error {
	if issue.SyncedAt.IsZero() {
		issue.SyncedAt = time.Now().UTC()
	}
	if issue.State == "" {
		issue.State = models.IssueOpen
	}
	_, err := db.NewInsert().Model(issue).Exec(ctx)
	return apperr.Storage(err)
}

// GetIssue loads an issue by id.
func GetIssue(ctx context.Context, db bun.IDB, issueID string) (*models.Issue, error) {
	issue := new(models.Issue)
	err := db.NewSelect().Model(issue).Where("id = ?", issueID).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "issue "+issueID)
	}
	return issue, nil
}

// IssueByFeedback loads the issue owned by a feedback record without locking.
func IssueByFeedback(ctx context.Context, db bun.IDB, feedbackID string) (*models.Issue, error) {
	issue := new(models.Issue)
	err := db.NewSelect().Model(issue).Where("feedback_id = ?", feedbackID).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "issue for feedback "+feedbackID)
	}
	return issue, nil
}

// LockIssueByFeedback loads the issue owned by a feedback record under a row
// lock. A feedback record without an issue yields apperr.ErrNotFound.
func LockIssueByFeedback(ctx context.Context, db bun.IDB, feedbackID string) (*models.Issue, error) {
	issue := new(models.Issue)
	err := forUpdate(db.NewSelect().Model(issue).Where("feedback_id = ?", feedbackID)).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "issue for feedback "+feedbackID)
	}
	return issue, nil
}

// LockIssueByExternalID finds the issue of a project by its GitHub issue
// number and locks its row.
func LockIssueByExternalID(ctx context.Context, db bun.IDB, projectID, externalIssueID string) (*models.Issue, error) {
	issue := new(models.Issue)
	q := db.NewSelect().
		Model(issue).
		Where("external_issue_id = ?", externalIssueID).
		Where("feedback_id IN (?)", db.NewSelect().
			Table("feedback").
			Column("id").
			Where("project_id = ?", projectID))
	err := forUpdate(q).Scan(ctx)
	if err != nil {
		return nil, notFound(err, "issue #"+externalIssueID)
	}
	return issue, nil
}

// SaveIssueState writes state and syncedAt. syncedAt never moves backwards.
func SaveIssueState(ctx context.Context, db bun.IDB, issue *models.Issue, state models.IssueState, syncedAt time.Time) error {
	issue.State = state
	if syncedAt.After(issue.SyncedAt) {
		issue.SyncedAt = syncedAt
	}
	_, err := db.NewUpdate().Model(issue).Column("state", "synced_at").WherePK().Exec(ctx)
	return apperr.Storage(err)
}
