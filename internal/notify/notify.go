// Package notify derives per-user notifications from ledger entries and
// tracks their read state.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// Policy decides which activity types reach users.
type Policy struct {
	// Comments makes comment entries fan out alongside state changes
	Comments bool
}

// Notifies reports whether an activity of type t produces notifications.
func (p Policy) Notifies(t models.ActivityType) bool {
	switch t {
	case models.ActivityStateChange:
		return true
	case models.ActivityComment:
		return p.Comments
	default:
		return false
	}
}

// Service reads and updates notifications.
type Service struct {
	store *store.Store
	clock func() time.Time
}

// NewService creates a notification service over the given store.
func NewService(s *store.Store) *Service {
	return &Service{
		store: s,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// Fanout creates the notification for recipient triggered by activity, using
// db (the caller's transaction). It returns nil when the policy skips the
// activity or when the notification already exists.
func (p Policy) Fanout(ctx context.Context, db bun.IDB, recipientUserID string, issue *models.Issue, activity *models.IssueActivity) (*models.Notification, error) {
	if recipientUserID == "" || !p.Notifies(activity.Type) {
		return nil, nil
	}

	issueID := activity.IssueID
	n := &models.Notification{
		ID:         uuid.NewString(),
		UserID:     recipientUserID,
		IssueID:    &issueID,
		ActivityID: activity.ID,
		Title:      title(issue, activity),
		Message:    activity.Content,
		CreatedAt:  activity.CreatedAt,
	}
	res, err := db.NewInsert().
		Model(n).
		On("CONFLICT (user_id, activity_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, nil
	}
	return n, nil
}

func title(issue *models.Issue, activity *models.IssueActivity) string {
	ref := "issue"
	if issue != nil && issue.ExternalIssueID != "" {
		ref = "issue #" + issue.ExternalIssueID
	}
	switch activity.Type {
	case models.ActivityStateChange:
		if m := activity.Metadata.StateChange; m != nil {
			return fmt.Sprintf("GitHub %s was %s", ref, pastTense(m.State))
		}
	case models.ActivityComment:
		return fmt.Sprintf("New comment on GitHub %s", ref)
	}
	return fmt.Sprintf("GitHub %s updated", ref)
}

func pastTense(state models.IssueState) string {
	if state == models.IssueClosed {
		return "closed"
	}
	return "reopened"
}

// List returns a user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	var rows []models.Notification
	q := s.store.DB().NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC, activity_id DESC")
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, apperr.Storage(err)
	}
	return rows, nil
}

// UnreadCount returns how many notifications of a user are unread.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.store.DB().NewSelect().
		Model((*models.Notification)(nil)).
		Where("user_id = ?", userID).
		Where("read = ?", false).
		Count(ctx)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return n, nil
}

// MarkAsRead marks one notification of userID as read. Notifications of other
// users are reported as not found. Re-marking keeps the original readAt.
func (s *Service) MarkAsRead(ctx context.Context, notificationID, userID string) (*models.Notification, error) {
	db := s.store.DB()
	now := s.clock()

	_, err := db.NewUpdate().
		Model((*models.Notification)(nil)).
		Set("read = ?", true).
		Set("read_at = ?", now).
		Where("id = ?", notificationID).
		Where("user_id = ?", userID).
		Where("read = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, apperr.Storage(err)
	}

	n := new(models.Notification)
	err = db.NewSelect().
		Model(n).
		Where("id = ?", notificationID).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notification %s: %w", notificationID, apperr.ErrNotFound)
		}
		return nil, apperr.Storage(err)
	}
	return n, nil
}

// MarkAllAsRead marks every unread notification of userID read with one
// shared timestamp and returns how many changed.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	now := s.clock()
	res, err := s.store.DB().NewUpdate().
		Model((*models.Notification)(nil)).
		Set("read = ?", true).
		Set("read_at = ?", now).
		Where("user_id = ?", userID).
		Where("read = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, apperr.Storage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Storage(err)
	}
	return int(n), nil
}
