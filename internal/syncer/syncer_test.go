package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/internal/ledger"
	"github.com/danielolaszy/feedbacksync/internal/notify"
	"github.com/danielolaszy/feedbacksync/internal/store"
	"github.com/danielolaszy/feedbacksync/internal/store/storetest"
	"github.com/danielolaszy/feedbacksync/internal/webhook"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// mockTracker records CloseIssue calls.
type mockTracker struct {
	mu             sync.Mutex
	calls          []string
	CloseIssueFunc func(ctx context.Context, repository, externalIssueID string) error
}

func (m *mockTracker) CloseIssue(ctx context.Context, repository, externalIssueID string) error {
	m.mu.Lock()
	m.calls = append(m.calls, repository+"#"+externalIssueID)
	m.mu.Unlock()
	if m.CloseIssueFunc != nil {
		return m.CloseIssueFunc(ctx, repository, externalIssueID)
	}
	return nil
}

type harness struct {
	store   *store.Store
	fx      storetest.Fixture
	tracker *mockTracker
	engine  *Engine
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := storetest.New(t)
	h := &harness{
		store:   s,
		fx:      storetest.Seed(t, s, "owner", "42", "secret"),
		tracker: &mockTracker{},
		now:     time.Now().UTC().Truncate(time.Second),
	}
	h.engine = New(s, h.tracker, notify.Policy{})
	h.engine.clock = func() time.Time { return h.now }
	return h
}

func (h *harness) counts(t *testing.T) (activities, notifications int) {
	t.Helper()
	ctx := context.Background()
	activities, err := ledger.Count(ctx, h.store.DB(), h.fx.Issue.ID)
	require.NoError(t, err)
	list, err := notify.NewService(h.store).List(ctx, "owner", false)
	require.NoError(t, err)
	return activities, len(list)
}

// assertConsistent checks that a closed issue always has a closed feedback
// and the other way round.
func assertConsistent(t *testing.T, issue *models.Issue, feedback *models.Feedback) {
	t.Helper()
	assert.Equal(t, issue.State == models.IssueClosed, feedback.Status == models.FeedbackClosed,
		"issue %s / feedback %s", issue.State, feedback.Status)
}

func TestWebhookClosesOpenIssue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{
		ExternalIssueID: "42",
		State:           models.IssueClosed,
		Actor:           "octocat",
	})
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.Empty(t, h.tracker.calls, "webhook path must not call GitHub")

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, models.IssueClosed, issue.State)
	assert.Equal(t, models.FeedbackClosed, feedback.Status)
	assert.True(t, h.now.Equal(issue.SyncedAt))
	assertConsistent(t, issue, feedback)

	activities, err := ledger.ListByIssue(ctx, h.store.DB(), h.fx.Issue.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ActivityStateChange, activities[0].Type)
	assert.Nil(t, activities[0].Actor)
	assert.Equal(t, "Issue closed", activities[0].Content)
	require.NotNil(t, activities[0].Metadata.StateChange)
	assert.Equal(t, models.IssueClosed, activities[0].Metadata.StateChange.State)
	assert.Equal(t, models.PathWebhook, activities[0].Metadata.StateChange.Source)
	assert.Equal(t, "octocat", activities[0].Metadata.StateChange.ExternalActor)

	list, err := notify.NewService(h.store).List(ctx, "owner", false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, activities[0].ID, list[0].ActivityID)
	assert.False(t, list[0].Read)
}

func TestWebhookRedeliveryOnlyAdvancesSyncedAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := webhook.Event{ExternalIssueID: "42", State: models.IssueClosed}

	_, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
	require.NoError(t, err)
	first, _ := storetest.Reload(t, h.store, h.fx)

	h.now = h.now.Add(time.Minute)
	res, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assert.True(t, issue.SyncedAt.After(first.SyncedAt))
	assertConsistent(t, issue, feedback)

	activities, notifications := h.counts(t)
	assert.Equal(t, 1, activities)
	assert.Equal(t, 1, notifications)
}

func TestWebhookMatchingStateIsNoOp(t *testing.T) {
	h := newHarness(t)
	before, _ := storetest.Reload(t, h.store, h.fx)

	res, err := h.engine.ApplyWebhookEvent(context.Background(), h.fx.Project.ID, webhook.Event{
		ExternalIssueID: "42",
		State:           models.IssueOpen,
	})
	require.NoError(t, err)
	assert.False(t, res.Changed())

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, models.IssueOpen, issue.State)
	assert.Equal(t, models.FeedbackOpen, feedback.Status)
	assert.True(t, issue.SyncedAt.After(before.SyncedAt))

	activities, notifications := h.counts(t)
	assert.Zero(t, activities)
	assert.Zero(t, notifications)
}

func TestWebhookReopensClosedIssue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{ExternalIssueID: "42", State: models.IssueClosed})
	require.NoError(t, err)
	h.now = h.now.Add(time.Second)
	res, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{ExternalIssueID: "42", State: models.IssueOpen})
	require.NoError(t, err)
	require.Len(t, res.Activities, 1)
	assert.Equal(t, "Issue reopened", res.Activities[0].Content)

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, models.IssueOpen, issue.State)
	assert.Equal(t, models.FeedbackOpen, feedback.Status)

	list, err := notify.NewService(h.store).List(ctx, "owner", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "GitHub issue #42 was reopened", list[0].Title)
}

func TestWebhookUnknownIssue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{ExternalIssueID: "999", State: models.IssueClosed})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	other := storetest.Seed(t, h.store, "someone-else", "1", "secret")
	_, err = h.engine.ApplyWebhookEvent(ctx, other.Project.ID, webhook.Event{ExternalIssueID: "42", State: models.IssueClosed})
	assert.ErrorIs(t, err, apperr.ErrNotFound, "issue numbers are scoped to the project")

	_, err = h.engine.ApplyWebhookEvent(ctx, "no-such-project", webhook.Event{ExternalIssueID: "42", State: models.IssueClosed})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	activities, _ := h.counts(t)
	assert.Zero(t, activities)
}

func TestWebhookIgnoredAndInvalidEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{Ignored: true})
	require.NoError(t, err)
	assert.False(t, res.Changed())

	_, err = h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{State: models.IssueClosed})
	assert.ErrorIs(t, err, apperr.ErrInvalidPayload)

	_, err = h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{ExternalIssueID: "42", State: "merged"})
	assert.ErrorIs(t, err, apperr.ErrInvalidPayload)
}

func TestWebhookCommentDeduplicatedByCommentID(t *testing.T) {
	h := newHarness(t)
	h.engine.policy = notify.Policy{Comments: true}
	ctx := context.Background()
	ev := webhook.Event{
		ExternalIssueID: "42",
		Comment:         &webhook.Comment{ID: 501, Author: "hubot", Body: "fixed in main"},
	}

	res, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
	require.NoError(t, err)
	require.Len(t, res.Activities, 1)
	assert.Equal(t, models.ActivityComment, res.Activities[0].Type)
	assert.Equal(t, "hubot commented on GitHub", res.Activities[0].Content)
	require.Len(t, res.Notifications, 1)

	res, err = h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	activities, notifications := h.counts(t)
	assert.Equal(t, 1, activities)
	assert.Equal(t, 1, notifications)

	issue, _ := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, models.IssueOpen, issue.State)
}

func TestWebhookCommentWithoutNotificationPolicy(t *testing.T) {
	h := newHarness(t)

	res, err := h.engine.ApplyWebhookEvent(context.Background(), h.fx.Project.ID, webhook.Event{
		ExternalIssueID: "42",
		State:           models.IssueClosed,
		Comment:         &webhook.Comment{Body: "closing"},
	})
	require.NoError(t, err)
	require.Len(t, res.Activities, 2)
	assert.Len(t, res.Notifications, 1, "only the state change notifies")
}

func TestConcurrentDuplicateWebhooks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := webhook.Event{ExternalIssueID: "42", State: models.IssueClosed}

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	activities, notifications := h.counts(t)
	assert.Equal(t, 1, activities)
	assert.Equal(t, 1, notifications)

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assertConsistent(t, issue, feedback)
}

func TestCloseFromDashboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.CloseFromDashboard(ctx, "owner", h.fx.Feedback.ID)
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.Equal(t, []string{"acme/widget#42"}, h.tracker.calls)

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, models.IssueClosed, issue.State)
	assert.Equal(t, models.FeedbackClosed, feedback.Status)
	assert.True(t, h.now.Equal(issue.SyncedAt))

	activities, err := ledger.ListByIssue(ctx, h.store.DB(), h.fx.Issue.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.NotNil(t, activities[0].Actor)
	assert.Equal(t, "owner", *activities[0].Actor)
	assert.Equal(t, "Issue closed", activities[0].Content)
	assert.Equal(t, models.PathDashboard, activities[0].Metadata.StateChange.Source)

	// second close is a no-op and does not reach GitHub
	res, err = h.engine.CloseFromDashboard(ctx, "owner", h.fx.Feedback.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Len(t, h.tracker.calls, 1)
}

func TestCloseFromDashboardExternalFailureChangesNothing(t *testing.T) {
	h := newHarness(t)
	h.tracker.CloseIssueFunc = func(context.Context, string, string) error {
		return errors.New("502 bad gateway")
	}
	before, beforeFeedback := storetest.Reload(t, h.store, h.fx)

	_, err := h.engine.CloseFromDashboard(context.Background(), "owner", h.fx.Feedback.ID)
	assert.ErrorIs(t, err, apperr.ErrExternalUnavailable)

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, before.State, issue.State)
	assert.True(t, before.SyncedAt.Equal(issue.SyncedAt))
	assert.Equal(t, beforeFeedback.Status, feedback.Status)

	activities, notifications := h.counts(t)
	assert.Zero(t, activities)
	assert.Zero(t, notifications)
}

func TestCloseFromDashboardUnauthorized(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.CloseFromDashboard(context.Background(), "intruder", h.fx.Feedback.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	assert.Empty(t, h.tracker.calls)

	_, err = h.engine.CloseFromDashboard(context.Background(), "", h.fx.Feedback.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, models.IssueOpen, issue.State)
	assert.Equal(t, models.FeedbackOpen, feedback.Status)

	_, err = h.engine.CloseFromDashboard(context.Background(), "owner", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCloseFromDashboardAfterWebhookRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// the webhook lands while the GitHub call is in flight
	h.tracker.CloseIssueFunc = func(context.Context, string, string) error {
		_, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{ExternalIssueID: "42", State: models.IssueClosed})
		return err
	}

	h.now = h.now.Add(time.Second)
	res, err := h.engine.CloseFromDashboard(ctx, "owner", h.fx.Feedback.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	activities, notifications := h.counts(t)
	assert.Equal(t, 1, activities)
	assert.Equal(t, 1, notifications)

	issue, feedback := storetest.Reload(t, h.store, h.fx)
	assertConsistent(t, issue, feedback)
}

func TestCloseFromDashboardWithoutIssue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orphan := &models.Feedback{ID: "orphan", ProjectID: h.fx.Project.ID, Title: "no issue yet"}
	require.NoError(t, store.CreateFeedback(ctx, h.store.DB(), orphan))

	res, err := h.engine.CloseFromDashboard(ctx, "owner", orphan.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.Equal(t, models.FeedbackClosed, res.Feedback.Status)
	assert.Empty(t, h.tracker.calls)

	got, err := store.GetFeedback(ctx, h.store.DB(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackClosed, got.Status)
}

func TestStartProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.StartProgress(ctx, "intruder", h.fx.Feedback.ID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	feedback, err := h.engine.StartProgress(ctx, "owner", h.fx.Feedback.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackInProgress, feedback.Status)

	feedback, err = h.engine.StartProgress(ctx, "owner", h.fx.Feedback.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackInProgress, feedback.Status)
	assert.Empty(t, h.tracker.calls)

	// an open report from GitHub keeps the local refinement
	_, err = h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, webhook.Event{ExternalIssueID: "42", State: models.IssueOpen})
	require.NoError(t, err)
	_, got := storetest.Reload(t, h.store, h.fx)
	assert.Equal(t, models.FeedbackInProgress, got.Status)

	_, err = h.engine.CloseFromDashboard(ctx, "owner", h.fx.Feedback.ID)
	require.NoError(t, err)
	_, err = h.engine.StartProgress(ctx, "owner", h.fx.Feedback.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestWebhookRedeliveredFlatCommentIsRecordedOnce(t *testing.T) {
	h := newHarness(t)
	h.engine.policy = notify.Policy{Comments: true}
	ctx := context.Background()

	ev := webhook.Event{
		ExternalIssueID: "42",
		State:           models.IssueClosed,
		Comment:         &webhook.Comment{Body: "fixed in main"},
	}

	res, err := h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
	require.NoError(t, err)
	require.Len(t, res.Activities, 2)
	comment := res.Activities[1].Metadata.Comment
	require.NotNil(t, comment)
	assert.Equal(t, models.CommentFingerprint("42", "", "fixed in main"), comment.Fingerprint)

	h.now = h.now.Add(time.Minute)
	res, err = h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
	require.NoError(t, err)
	assert.False(t, res.Changed())

	activities, notifications := h.counts(t)
	assert.Equal(t, 2, activities)
	assert.Equal(t, 2, notifications)

	// a different body is a new comment
	ev.Comment = &webhook.Comment{Body: "reopening soon"}
	res, err = h.engine.ApplyWebhookEvent(ctx, h.fx.Project.ID, ev)
	require.NoError(t, err)
	assert.Len(t, res.Activities, 1)
}
