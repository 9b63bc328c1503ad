// Package syncer is the issue state machine. It keeps a feedback record and
// its GitHub issue mirror consistent across the dashboard and webhook write
// paths, and records every transition in the ledger and notifications in the
// same transaction.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/ledger"
	"github.com/danielolaszy/feedbacksync/internal/logging"
	"github.com/danielolaszy/feedbacksync/internal/notify"
	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/internal/webhook"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// Tracker is the outbound side of the external issue tracker.
type Tracker interface {
	CloseIssue(ctx context.Context, repository, externalIssueID string) error
}

// Result describes the effect of one sync operation. A no-op leaves
// Activities empty.
type Result struct {
	Issue         *models.Issue           `json:"issue,omitempty"`
	Feedback      *models.Feedback        `json:"feedback,omitempty"`
	Activities    []*models.IssueActivity `json:"activities,omitempty"`
	Notifications []*models.Notification  `json:"-"`
}

// Changed reports whether the operation appended to the ledger.
func (r *Result) Changed() bool {
	return r != nil && len(r.Activities) > 0
}

// Engine runs sync operations against the store.
type Engine struct {
	store   *store.Store
	tracker Tracker
	policy  notify.Policy
	clock   func() time.Time
}

// New creates an Engine.
func New(s *store.Store, tracker Tracker, policy notify.Policy) *Engine {
	return &Engine{
		store:   s,
		tracker: tracker,
		policy:  policy,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// authorize returns the project owning feedbackID when userID owns it.
func authorize(ctx context.Context, db bun.IDB, userID, feedbackID string) (*models.Project, error) {
	project, err := store.ProjectForFeedback(ctx, db, feedbackID)
	if err != nil {
		return nil, err
	}
	if userID == "" || project.OwnerUserID != userID {
		return nil, fmt.Errorf("user %q on feedback %s: %w", userID, feedbackID, apperr.ErrUnauthorized)
	}
	return project, nil
}

// StartProgress moves an open feedback record to in-progress. It is a local
// refinement and never reaches GitHub. Calling it on an in-progress record is
// a no-op; a closed record cannot be started.
func (e *Engine) StartProgress(ctx context.Context, userID, feedbackID string) (*models.Feedback, error) {
	var result *models.Feedback
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := authorize(ctx, tx, userID, feedbackID); err != nil {
			return err
		}
		feedback, err := store.LockFeedback(ctx, tx, feedbackID)
		if err != nil {
			return err
		}
		result = feedback

		switch feedback.Status {
		case models.FeedbackInProgress:
			return nil
		case models.FeedbackClosed:
			return fmt.Errorf("feedback %s is closed: %w", feedbackID, apperr.ErrInvalidTransition)
		}
		return store.SetFeedbackStatus(ctx, tx, feedback, models.FeedbackInProgress, e.clock())
	})
	if err != nil {
		return nil, err
	}
	logging.Debug("feedback in progress", "feedback_id", feedbackID, "user_id", userID)
	return result, nil
}

// CloseFromDashboard closes a feedback record and its GitHub issue on behalf
// of the project owner. GitHub is called first, outside any transaction; only
// after it succeeds are the issue, the feedback, the ledger and the owner's
// notification written together. A failed call leaves everything unchanged.
func (e *Engine) CloseFromDashboard(ctx context.Context, userID, feedbackID string) (*Result, error) {
	db := e.store.DB()
	project, err := authorize(ctx, db, userID, feedbackID)
	if err != nil {
		return nil, err
	}

	issue, err := store.IssueByFeedback(ctx, db, feedbackID)
	if errors.Is(err, apperr.ErrNotFound) {
		return e.closeLocal(ctx, feedbackID)
	}
	if err != nil {
		return nil, err
	}

	if issue.State == models.IssueClosed {
		feedback, err := store.GetFeedback(ctx, db, feedbackID)
		if err != nil {
			return nil, err
		}
		if feedback.Status == models.FeedbackClosed {
			return &Result{Issue: issue, Feedback: feedback}, nil
		}
	}

	gi, err := store.GetIntegration(ctx, db, project.ID)
	if err != nil {
		return nil, err
	}
	if err := e.tracker.CloseIssue(ctx, gi.Repository, issue.ExternalIssueID); err != nil {
		if !apperr.Classified(err) {
			err = apperr.External(err)
		}
		return nil, err
	}

	result := &Result{}
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		issue, err := store.LockIssueByFeedback(ctx, tx, feedbackID)
		if err != nil {
			return err
		}
		feedback, err := store.LockFeedback(ctx, tx, feedbackID)
		if err != nil {
			return err
		}
		result.Issue, result.Feedback = issue, feedback
		now := e.clock()

		if issue.State == models.IssueClosed {
			// a webhook got here first
			if err := store.SaveIssueState(ctx, tx, issue, models.IssueClosed, now); err != nil {
				return err
			}
			if feedback.Status != models.FeedbackClosed {
				return store.SetFeedbackStatus(ctx, tx, feedback, models.FeedbackClosed, now)
			}
			return nil
		}

		return e.transition(ctx, tx, result, project.OwnerUserID, models.IssueClosed, &userID, models.StateChangeMetadata{
			State:  models.IssueClosed,
			Source: models.PathDashboard,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	logging.Info("closed feedback from dashboard",
		"feedback_id", feedbackID,
		"issue_id", result.Issue.ID,
		"user_id", userID,
		"changed", result.Changed())
	return result, nil
}

// closeLocal closes a feedback record that has no GitHub issue.
func (e *Engine) closeLocal(ctx context.Context, feedbackID string) (*Result, error) {
	result := &Result{}
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		feedback, err := store.LockFeedback(ctx, tx, feedbackID)
		if err != nil {
			return err
		}
		result.Feedback = feedback
		if feedback.Status == models.FeedbackClosed {
			return nil
		}
		return store.SetFeedbackStatus(ctx, tx, feedback, models.FeedbackClosed, e.clock())
	})
	if err != nil {
		return nil, err
	}
	logging.Info("closed feedback without issue", "feedback_id", feedbackID)
	return result, nil
}

// ApplyWebhookEvent mirrors a verified GitHub event onto the project's issue.
// The issue row is locked for the whole read-compare-write. An event whose
// state already matches only advances syncedAt, so redeliveries add nothing
// to the ledger. Comments already recorded under the same GitHub comment id,
// or with the same fingerprint when GitHub sent no id, are skipped.
func (e *Engine) ApplyWebhookEvent(ctx context.Context, projectID string, ev webhook.Event) (*Result, error) {
	if ev.Ignored {
		return &Result{}, nil
	}
	if ev.ExternalIssueID == "" {
		return nil, fmt.Errorf("event without issue number: %w", apperr.ErrInvalidPayload)
	}
	if ev.State != "" && !ev.State.Valid() {
		return nil, fmt.Errorf("unknown issue state %q: %w", ev.State, apperr.ErrInvalidPayload)
	}

	result := &Result{}
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		project, err := store.GetProject(ctx, tx, projectID)
		if err != nil {
			return err
		}
		issue, err := store.LockIssueByExternalID(ctx, tx, projectID, ev.ExternalIssueID)
		if err != nil {
			return err
		}
		feedback, err := store.LockFeedback(ctx, tx, issue.FeedbackID)
		if err != nil {
			return err
		}
		result.Issue, result.Feedback = issue, feedback
		now := e.clock()

		if ev.State != "" && ev.State != issue.State {
			err = e.transition(ctx, tx, result, project.OwnerUserID, ev.State, nil, models.StateChangeMetadata{
				State:         ev.State,
				Source:        models.PathWebhook,
				ExternalActor: ev.Actor,
			}, now)
		} else {
			err = store.SaveIssueState(ctx, tx, issue, issue.State, now)
		}
		if err != nil {
			return err
		}

		if ev.Comment != nil {
			return e.recordComment(ctx, tx, result, project.OwnerUserID, ev.Comment, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("applied webhook event",
		"project_id", projectID,
		"external_issue_id", ev.ExternalIssueID,
		"state", string(ev.State),
		"changed", result.Changed())
	return result, nil
}

// transition writes the new issue state, the matching feedback status, one
// state_change entry and the owner's notification.
func (e *Engine) transition(ctx context.Context, tx bun.Tx, result *Result, ownerID string, state models.IssueState, actor *string, meta models.StateChangeMetadata, now time.Time) error {
	if err := store.SaveIssueState(ctx, tx, result.Issue, state, now); err != nil {
		return err
	}
	if err := store.SetFeedbackStatus(ctx, tx, result.Feedback, state.FeedbackStatus(), now); err != nil {
		return err
	}

	activity, err := ledger.Append(ctx, tx, ledger.Entry{
		IssueID:  result.Issue.ID,
		Type:     models.ActivityStateChange,
		Actor:    actor,
		Content:  stateContent(state),
		Metadata: models.StateChangeMeta(meta),
	}, now)
	if err != nil {
		return err
	}
	return e.record(ctx, tx, result, ownerID, activity)
}

func (e *Engine) recordComment(ctx context.Context, tx bun.Tx, result *Result, ownerID string, c *webhook.Comment, now time.Time) error {
	var fingerprint string
	if c.ID == 0 {
		fingerprint = models.CommentFingerprint(result.Issue.ExternalIssueID, c.Author, c.Body)
	}
	seen, err := ledger.HasComment(ctx, tx, result.Issue.ID, c.ID, fingerprint)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	content := "New comment on GitHub"
	if c.Author != "" {
		content = c.Author + " commented on GitHub"
	}
	activity, err := ledger.Append(ctx, tx, ledger.Entry{
		IssueID: result.Issue.ID,
		Type:    models.ActivityComment,
		Content: content,
		Metadata: models.CommentMeta(models.CommentMetadata{
			CommentID:   c.ID,
			Author:      c.Author,
			Body:        c.Body,
			Fingerprint: fingerprint,
		}),
	}, now)
	if err != nil {
		return err
	}
	return e.record(ctx, tx, result, ownerID, activity)
}

func (e *Engine) record(ctx context.Context, tx bun.Tx, result *Result, ownerID string, activity *models.IssueActivity) error {
	result.Activities = append(result.Activities, activity)
	n, err := e.policy.Fanout(ctx, tx, ownerID, result.Issue, activity)
	if err != nil {
		return err
	}
	if n != nil {
		result.Notifications = append(result.Notifications, n)
	}
	return nil
}

func stateContent(state models.IssueState) string {
	if state == models.IssueClosed {
		return "Issue closed"
	}
	return "Issue reopened"
}
