// Package ledger is the append-only activity history of issues.
//
// The ledger never deduplicates: callers decide whether an entry is
// warranted and the ledger records whatever it is given, in insertion order.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// Entry describes one activity to append.
type Entry struct {
	IssueID  string
	Type     models.ActivityType
	Actor    *string
	Content  string
	Metadata models.ActivityMetadata
}

// Append inserts an activity row using db, which is normally the caller's
// transaction. CreatedAt is taken from now.
func Append(ctx context.Context, db bun.IDB, entry Entry, now time.Time) (*models.IssueActivity, error) {
	if entry.IssueID == "" {
		return nil, fmt.Errorf("ledger entry requires an issue id: %w", apperr.ErrInvalidPayload)
	}
	if entry.Metadata.Type == "" {
		entry.Metadata.Type = entry.Type
	}
	if entry.Metadata.Type != entry.Type {
		return nil, fmt.Errorf("metadata type %q does not match activity type %q: %w", entry.Metadata.Type, entry.Type, apperr.ErrInvalidPayload)
	}
	if err := entry.Metadata.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidPayload, err)
	}

	activity := &models.IssueActivity{
		IssueID:   entry.IssueID,
		Type:      entry.Type,
		Actor:     entry.Actor,
		Content:   entry.Content,
		Metadata:  entry.Metadata,
		CreatedAt: now.UTC(),
	}
	if _, err := db.NewInsert().Model(activity).Exec(ctx); err != nil {
		return nil, apperr.Storage(err)
	}
	return activity, nil
}

// ListByIssue returns every activity of an issue, newest first. Entries with
// the same timestamp keep reverse insertion order.
func ListByIssue(ctx context.Context, db bun.IDB, issueID string) ([]models.IssueActivity, error) {
	var rows []models.IssueActivity
	err := db.NewSelect().
		Model(&rows).
		Where("issue_id = ?", issueID).
		OrderExpr("created_at DESC, id DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	return rows, nil
}

// HasComment reports whether a GitHub comment was already recorded for the
// issue. Comments are matched by GitHub id, or by fingerprint when commentID
// is zero.
func HasComment(ctx context.Context, db bun.IDB, issueID string, commentID int64, fingerprint string) (bool, error) {
	if commentID == 0 && fingerprint == "" {
		return false, nil
	}
	var rows []models.IssueActivity
	err := db.NewSelect().
		Model(&rows).
		Where("issue_id = ?", issueID).
		Where("type = ?", models.ActivityComment).
		Scan(ctx)
	if err != nil {
		return false, apperr.Storage(err)
	}
	for _, row := range rows {
		c := row.Metadata.Comment
		if c == nil {
			continue
		}
		if commentID != 0 && c.CommentID == commentID {
			return true, nil
		}
		if commentID == 0 && fingerprint != "" && c.Fingerprint == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

// Count returns the number of activities recorded for an issue.
func Count(ctx context.Context, db bun.IDB, issueID string) (int, error) {
	n, err := db.NewSelect().
		Model((*models.IssueActivity)(nil)).
		Where("issue_id = ?", issueID).
		Count(ctx)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return n, nil
}
