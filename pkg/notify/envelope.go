// Package notify applies record-change notifications from the upstream
// record owner to the retrieval indexes.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/recall/pkg/memory"
)

const (
	// SchemaVersionV1 is the initial notification schema.
	SchemaVersionV1 = "v1"
)

// EventType names a record change.
type EventType string

const (
	EventUpsert EventType = "record.upserted"
	EventDelete EventType = "record.deleted"
	EventClear  EventType = "user.cleared"
)

// Envelope is the wire form of a notification.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	Source        string          `json:"source,omitempty"`
	UserID        string          `json:"user_id"`
	Sequence      int64           `json:"sequence,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Event is a decoded notification.
type Event struct {
	Type       EventType
	UserID     string
	Record     memory.Record
	RecordID   string
	Sequence   int64
	OccurredAt time.Time
}

type upsertPayload struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
}

type deletePayload struct {
	ID string `json:"id"`
}

// BuildEnvelope wraps an event in a v1 envelope with a fresh event ID.
func BuildEnvelope(source string, event Event) (Envelope, error) {
	if event.UserID == "" {
		return Envelope{}, fmt.Errorf("notify: %w", memory.ErrInvalidUserID)
	}

	var payload any
	switch event.Type {
	case EventUpsert:
		if event.Record.ID == "" {
			return Envelope{}, fmt.Errorf("notify: upsert needs a record id")
		}
		payload = upsertPayload{
			ID:        event.Record.ID,
			Text:      event.Record.Text,
			Metadata:  event.Record.Metadata,
			CreatedAt: event.Record.CreatedAt,
		}
	case EventDelete:
		if event.RecordID == "" {
			return Envelope{}, fmt.Errorf("notify: delete needs a record id")
		}
		payload = deletePayload{ID: event.RecordID}
	case EventClear:
		payload = struct{}{}
	default:
		return Envelope{}, fmt.Errorf("notify: unknown event type %q", event.Type)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("notify: marshal payload: %w", err)
	}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     event.Type,
		Timestamp:     ts.UTC(),
		SchemaVersion: SchemaVersionV1,
		Source:        source,
		UserID:        event.UserID,
		Sequence:      event.Sequence,
		Payload:       raw,
	}, nil
}

// DecodeError reports a notification that can never be applied.
type DecodeError struct {
	EventID string
	Reason  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("notify: cannot decode event %q: %s", e.EventID, e.Reason)
}

// Decode validates an envelope and returns its event.
func Decode(env Envelope) (Event, error) {
	if env.SchemaVersion != SchemaVersionV1 {
		return Event{}, &DecodeError{EventID: env.EventID, Reason: fmt.Sprintf("unsupported schema version %q", env.SchemaVersion)}
	}
	if env.UserID == "" {
		return Event{}, &DecodeError{EventID: env.EventID, Reason: "missing user_id"}
	}

	ev := Event{
		Type:       env.EventType,
		UserID:     env.UserID,
		Sequence:   env.Sequence,
		OccurredAt: env.Timestamp,
	}
	switch env.EventType {
	case EventUpsert:
		var p upsertPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, &DecodeError{EventID: env.EventID, Reason: "invalid payload: " + err.Error()}
		}
		if p.ID == "" {
			return Event{}, &DecodeError{EventID: env.EventID, Reason: "missing record id"}
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = env.Timestamp
		}
		ev.Record = memory.Record{
			ID:        p.ID,
			UserID:    env.UserID,
			Text:      p.Text,
			Metadata:  p.Metadata,
			CreatedAt: createdAt,
		}
		ev.RecordID = p.ID
	case EventDelete:
		var p deletePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return Event{}, &DecodeError{EventID: env.EventID, Reason: "invalid payload: " + err.Error()}
		}
		if p.ID == "" {
			return Event{}, &DecodeError{EventID: env.EventID, Reason: "missing record id"}
		}
		ev.RecordID = p.ID
	case EventClear:
	default:
		return Event{}, &DecodeError{EventID: env.EventID, Reason: fmt.Sprintf("unknown event type %q", env.EventType)}
	}
	return ev, nil
}

// DecodeMessage unmarshals and decodes a raw message value.
func DecodeMessage(value []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Event{}, &DecodeError{Reason: "invalid envelope json: " + err.Error()}
	}
	return Decode(env)
}
