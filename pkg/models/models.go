// Package models defines data structures shared across the application.
package models

import (
	"time"

	"github.com/uptrace/bun"
)

// FeedbackStatus is the lifecycle status of a Feedback record.
type FeedbackStatus string

const (
	FeedbackOpen       FeedbackStatus = "open"
	FeedbackInProgress FeedbackStatus = "in-progress"
	FeedbackClosed     FeedbackStatus = "closed"
)

// Valid reports whether s is one of the known feedback statuses.
func (s FeedbackStatus) Valid() bool {
	switch s {
	case FeedbackOpen, FeedbackInProgress, FeedbackClosed:
		return true
	}
	return false
}

// IssueState mirrors the external tracker's issue state vocabulary.
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// Valid reports whether s is a state GitHub can report.
func (s IssueState) Valid() bool {
	return s == IssueOpen || s == IssueClosed
}

// FeedbackStatus returns the feedback status that must accompany this issue state.
// An open issue maps back to an open feedback; in-progress is a local-only refinement.
func (s IssueState) FeedbackStatus() FeedbackStatus {
	if s == IssueClosed {
		return FeedbackClosed
	}
	return FeedbackOpen
}

// Project is the tenant boundary. Its owner receives issue notifications.
type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID          string    `bun:"id,pk" json:"id"`
	Name        string    `bun:"name" json:"name"`
	OwnerUserID string    `bun:"owner_user_id" json:"ownerUserId"`
	CreatedAt   time.Time `bun:"created_at" json:"createdAt"`
}

// GitHubIntegration links a project to a GitHub repository and holds the
// current webhook signing secret.
type GitHubIntegration struct {
	bun.BaseModel `bun:"table:github_integrations,alias:gi"`

	// ProjectID is both the primary key and the owning project
	ProjectID string `bun:"project_id,pk" json:"projectId"`

	// Repository is the linked repository in "owner/repo" form
	Repository string `bun:"repository" json:"repository"`

	// HookID identifies the repository webhook whose deliveries are inspected
	HookID int64 `bun:"hook_id" json:"hookId"`

	// InstallationID is the GitHub App installation, when the app flow is used
	InstallationID int64 `bun:"installation_id" json:"installationId"`

	// WebhookSecret is the sole current signing secret. Never serialized.
	WebhookSecret string `bun:"webhook_secret" json:"-"`

	// LastVerifiedAt is when webhook health was last confirmed
	LastVerifiedAt *time.Time `bun:"last_verified_at" json:"lastVerifiedAt,omitempty"`

	CreatedAt time.Time `bun:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at" json:"updatedAt"`
}

// Feedback is a user-submitted report.
type Feedback struct {
	bun.BaseModel `bun:"table:feedback,alias:f"`

	ID           string         `bun:"id,pk" json:"id"`
	ProjectID    string         `bun:"project_id" json:"projectId"`
	AuthorUserID string         `bun:"author_user_id" json:"authorUserId,omitempty"`
	Title        string         `bun:"title" json:"title"`
	Body         string         `bun:"body" json:"body"`
	Status       FeedbackStatus `bun:"status" json:"status"`
	CreatedAt    time.Time      `bun:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `bun:"updated_at" json:"updatedAt"`
}

// Issue is the internal mirror of a GitHub issue owned by one Feedback.
type Issue struct {
	bun.BaseModel `bun:"table:issues,alias:i"`

	ID         string `bun:"id,pk" json:"id"`
	FeedbackID string `bun:"feedback_id" json:"feedbackId"`

	// ExternalIssueID is the GitHub issue number, kept as text
	ExternalIssueID string `bun:"external_issue_id" json:"externalIssueId"`

	// ExternalURL is the html_url of the GitHub issue
	ExternalURL string `bun:"external_url" json:"externalUrl"`

	State IssueState `bun:"state" json:"state"`

	// SyncedAt is the last time this record was confirmed against GitHub.
	// It never moves backwards.
	SyncedAt time.Time `bun:"synced_at" json:"syncedAt"`
}

// Notification is a per-user record derived from one IssueActivity entry.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID     string `bun:"id,pk" json:"id"`
	UserID string `bun:"user_id" json:"userId"`

	// IssueID is a lookup-only reference; the issue may no longer exist
	IssueID *string `bun:"issue_id" json:"issueId,omitempty"`

	ActivityID int64      `bun:"activity_id" json:"activityId"`
	Title      string     `bun:"title" json:"title"`
	Message    string     `bun:"message" json:"message"`
	Read       bool       `bun:"read" json:"read"`
	ReadAt     *time.Time `bun:"read_at" json:"readAt,omitempty"`
	CreatedAt  time.Time  `bun:"created_at" json:"createdAt"`
}

// DeliveryRecord is one attempted webhook delivery reported by GitHub.
type DeliveryRecord struct {
	// ID is GitHub's delivery id
	ID int64 `json:"id"`

	// GUID matches the X-GitHub-Delivery header of the attempt
	GUID string `json:"guid,omitempty"`

	// Event is the X-GitHub-Event type that was delivered
	Event string `json:"event,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// ResponseStatus is the HTTP status our endpoint answered with
	ResponseStatus int `json:"responseStatus"`

	Redelivery bool `json:"redelivery"`
}

// Succeeded reports whether the delivery was answered with a 2xx status.
func (d DeliveryRecord) Succeeded() bool {
	return d.ResponseStatus >= 200 && d.ResponseStatus < 300
}
