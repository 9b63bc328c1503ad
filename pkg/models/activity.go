package models

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// ActivityType classifies an IssueActivity entry.
type ActivityType string

const (
	ActivityStateChange ActivityType = "state_change"
	ActivityComment     ActivityType = "comment"
	ActivityOther       ActivityType = "other"
)

// SyncPath names the write path that produced a state change.
type SyncPath string

const (
	PathDashboard SyncPath = "dashboard"
	PathWebhook   SyncPath = "webhook"
)

// IssueActivity is one append-only ledger row.
type IssueActivity struct {
	bun.BaseModel `bun:"table:issue_activities,alias:a"`

	// ID increases with insertion order
	ID      int64        `bun:"id,pk,autoincrement" json:"id"`
	IssueID string       `bun:"issue_id" json:"issueId"`
	Type    ActivityType `bun:"type" json:"type"`

	// Actor is the acting user; nil when the change came from GitHub or the system
	Actor *string `bun:"actor" json:"actor"`

	Content   string           `bun:"content" json:"content"`
	Metadata  ActivityMetadata `bun:"metadata" json:"metadata"`
	CreatedAt time.Time        `bun:"created_at" json:"createdAt"`
}

// StateChangeMetadata is the payload of a state_change entry.
type StateChangeMetadata struct {
	State  IssueState `json:"state"`
	Source SyncPath   `json:"source,omitempty"`

	// ExternalActor is the GitHub login reported by the delivery, if any
	ExternalActor string `json:"externalActor,omitempty"`
}

// CommentMetadata is the payload of a comment entry.
type CommentMetadata struct {
	CommentID int64  `json:"commentId,omitempty"`
	Author    string `json:"author,omitempty"`
	Body      string `json:"body"`

	// Fingerprint identifies comments delivered without a GitHub comment id
	Fingerprint string `json:"fingerprint,omitempty"`
}

// CommentFingerprint derives a stable key for a comment that has no GitHub id.
func CommentFingerprint(externalIssueID, author, body string) string {
	sum := sha256.Sum256([]byte(externalIssueID + "|" + author + "|" + body))
	return hex.EncodeToString(sum[:])
}

// ActivityMetadata is a tagged variant keyed by Type. Exactly one of the
// variant fields is set, matching Type.
type ActivityMetadata struct {
	Type        ActivityType
	StateChange *StateChangeMetadata
	Comment     *CommentMetadata
	Other       map[string]any
}

// StateChangeMeta builds state_change metadata.
func StateChangeMeta(m StateChangeMetadata) ActivityMetadata {
	return ActivityMetadata{Type: ActivityStateChange, StateChange: &m}
}

// CommentMeta builds comment metadata.
func CommentMeta(m CommentMetadata) ActivityMetadata {
	return ActivityMetadata{Type: ActivityComment, Comment: &m}
}

// OtherMeta builds free-form metadata.
func OtherMeta(m map[string]any) ActivityMetadata {
	return ActivityMetadata{Type: ActivityOther, Other: m}
}

// Validate checks that the populated variant matches the declared type.
func (m ActivityMetadata) Validate() error {
	switch m.Type {
	case ActivityStateChange:
		if m.StateChange == nil || m.Comment != nil || m.Other != nil {
			return fmt.Errorf("state_change metadata requires only the state_change variant")
		}
		if !m.StateChange.State.Valid() {
			return fmt.Errorf("invalid issue state %q", m.StateChange.State)
		}
	case ActivityComment:
		if m.Comment == nil || m.StateChange != nil || m.Other != nil {
			return fmt.Errorf("comment metadata requires only the comment variant")
		}
	case ActivityOther:
		if m.StateChange != nil || m.Comment != nil {
			return fmt.Errorf("other metadata cannot carry a typed variant")
		}
	default:
		return fmt.Errorf("unknown activity type %q", m.Type)
	}
	return nil
}

// MarshalJSON writes the populated variant with its "type" tag.
func (m ActivityMetadata) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case ActivityStateChange:
		return json.Marshal(struct {
			Type ActivityType `json:"type"`
			*StateChangeMetadata
		}{m.Type, m.StateChange})
	case ActivityComment:
		return json.Marshal(struct {
			Type ActivityType `json:"type"`
			*CommentMetadata
		}{m.Type, m.Comment})
	default:
		out := make(map[string]any, len(m.Other)+1)
		for k, v := range m.Other {
			out[k] = v
		}
		out["type"] = ActivityOther
		return json.Marshal(out)
	}
}

// UnmarshalJSON decodes the variant named by the "type" tag.
func (m *ActivityMetadata) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type ActivityType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case ActivityStateChange:
		var v StateChangeMetadata
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = StateChangeMeta(v)
	case ActivityComment:
		var v CommentMetadata
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*m = CommentMeta(v)
	case ActivityOther, "":
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		delete(v, "type")
		*m = OtherMeta(v)
	default:
		return fmt.Errorf("unknown activity metadata type %q", tag.Type)
	}
	return nil
}

// Value stores the metadata as JSON text.
func (m ActivityMetadata) Value() (driver.Value, error) {
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads metadata previously written by Value.
func (m *ActivityMetadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = OtherMeta(nil)
		return nil
	case string:
		return m.UnmarshalJSON([]byte(v))
	case []byte:
		return m.UnmarshalJSON(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", src)
	}
}
