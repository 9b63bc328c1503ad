package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v41/github"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/danielolaszy/feedbacksync/internal/apperr"
	"github.com/danielolaszy/feedbacksync/pkg/models"
)

// Event is a normalized issue update reported by GitHub.
type Event struct {
	// ExternalIssueID is the GitHub issue number
	ExternalIssueID string

	// State is the reported issue state; empty when the event carries none
	State models.IssueState

	// Actor is the GitHub login that caused the event, if known
	Actor string

	Comment *Comment

	// Ignored marks deliveries that need no processing, such as pings
	Ignored bool
}

// Comment is an issue comment carried by an event.
type Comment struct {
	ID     int64
	Author string
	Body   string
}

const flatSchemaURL = "https://feedbacksync.local/schemas/issue-event.json"

const flatSchemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["externalIssueId", "state"],
	"properties": {
		"externalIssueId": {
			"anyOf": [
				{"type": "string", "pattern": "^[0-9]+$"},
				{"type": "integer", "minimum": 1}
			]
		},
		"state": {"enum": ["open", "closed"]},
		"actor": {"type": ["string", "null"]},
		"comment": {
			"anyOf": [
				{"type": "null"},
				{"type": "string"},
				{
					"type": "object",
					"required": ["body"],
					"properties": {
						"id": {"type": "integer"},
						"author": {"type": "string"},
						"body": {"type": "string"}
					}
				}
			]
		}
	}
}`

var flatSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(flatSchemaDoc))
	if err != nil {
		panic(fmt.Sprintf("webhook schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(flatSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("webhook schema: %v", err))
	}
	sch, err := c.Compile(flatSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("webhook schema: %v", err))
	}
	return sch
}

// ParseEvent decodes a verified payload. eventType is the X-GitHub-Event
// header; when it is empty the body must be the flat form
// {externalIssueId, state, actor?, comment?}.
func ParseEvent(eventType string, payload VerifiedPayload) (Event, error) {
	if eventType == "" {
		return parseFlat(payload.Bytes())
	}
	return parseNative(eventType, payload.Bytes())
}

func parseNative(eventType string, body []byte) (Event, error) {
	switch eventType {
	case "issues", "issue_comment", "ping":
	default:
		// other subscriptions on the same hook are accepted and dropped
		return Event{Ignored: true}, nil
	}

	raw, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", apperr.ErrInvalidPayload, err)
	}

	switch e := raw.(type) {
	case *github.PingEvent:
		return Event{Ignored: true}, nil
	case *github.IssuesEvent:
		if e.GetIssue().GetNumber() == 0 {
			return Event{}, fmt.Errorf("issues event without issue number: %w", apperr.ErrInvalidPayload)
		}
		state := models.IssueState(e.GetIssue().GetState())
		if !state.Valid() {
			return Event{}, fmt.Errorf("unknown issue state %q: %w", state, apperr.ErrInvalidPayload)
		}
		return Event{
			ExternalIssueID: strconv.Itoa(e.GetIssue().GetNumber()),
			State:           state,
			Actor:           e.GetSender().GetLogin(),
		}, nil
	case *github.IssueCommentEvent:
		if e.GetIssue().GetNumber() == 0 {
			return Event{}, fmt.Errorf("comment event without issue number: %w", apperr.ErrInvalidPayload)
		}
		ev := Event{
			ExternalIssueID: strconv.Itoa(e.GetIssue().GetNumber()),
			Actor:           e.GetSender().GetLogin(),
		}
		if e.GetAction() != "created" {
			ev.Ignored = true
			return ev, nil
		}
		ev.Comment = &Comment{
			ID:     e.GetComment().GetID(),
			Author: e.GetComment().GetUser().GetLogin(),
			Body:   e.GetComment().GetBody(),
		}
		return ev, nil
	default:
		return Event{Ignored: true}, nil
	}
}

func parseFlat(body []byte) (Event, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", apperr.ErrInvalidPayload, err)
	}
	if err := flatSchema.Validate(inst); err != nil {
		return Event{}, fmt.Errorf("%w: %v", apperr.ErrInvalidPayload, err)
	}

	// the schema guarantees an object with the required fields
	obj := inst.(map[string]any)
	ev := Event{
		ExternalIssueID: numberText(obj["externalIssueId"]),
		State:           models.IssueState(obj["state"].(string)),
	}
	if actor, ok := obj["actor"].(string); ok {
		ev.Actor = actor
	}

	switch c := obj["comment"].(type) {
	case string:
		ev.Comment = &Comment{Author: ev.Actor, Body: c}
	case map[string]any:
		comment := &Comment{Author: ev.Actor}
		comment.Body, _ = c["body"].(string)
		if author, ok := c["author"].(string); ok {
			comment.Author = author
		}
		if id, ok := c["id"].(json.Number); ok {
			comment.ID, _ = id.Int64()
		}
		ev.Comment = comment
	}
	return ev, nil
}

func numberText(v any) string {
	switch n := v.(type) {
	case json.Number:
		return n.String()
	case string:
		return n
	default:
		return fmt.Sprint(n)
	}
}
