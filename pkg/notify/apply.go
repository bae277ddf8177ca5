package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goclaw/recall/pkg/memory"
)

// Sink receives decoded record changes. *memory.HybridRetriever satisfies it
// directly; HubSink adapts a memory.Hub so changes are persisted as well.
type Sink interface {
	Add(ctx context.Context, userID string, record memory.Record) error
	Remove(ctx context.Context, userID, id string) (bool, error)
	Clear(ctx context.Context, userID string) error
}

// Apply translates one event into the matching sink call. Deleting a record
// the sink does not hold is not an error.
func Apply(ctx context.Context, sink Sink, ev Event) error {
	switch ev.Type {
	case EventUpsert:
		rec := ev.Record
		rec.UserID = ev.UserID
		return sink.Add(ctx, ev.UserID, rec)
	case EventDelete:
		_, err := sink.Remove(ctx, ev.UserID, ev.RecordID)
		return err
	case EventClear:
		return sink.Clear(ctx, ev.UserID)
	default:
		return &DecodeError{Reason: fmt.Sprintf("unknown event type %q", ev.Type)}
	}
}

// HubSink routes changes through a memory.Hub.
type HubSink struct {
	Hub memory.Hub
}

// Add upserts the record.
func (s HubSink) Add(ctx context.Context, userID string, record memory.Record) error {
	record.UserID = userID
	return s.Hub.Upsert(ctx, record)
}

// Remove forgets the record.
func (s HubSink) Remove(ctx context.Context, userID, id string) (bool, error) {
	n, err := s.Hub.Forget(ctx, userID, []string{id})
	return n > 0, err
}

// Clear deletes every record of the user.
func (s HubSink) Clear(ctx context.Context, userID string) error {
	_, err := s.Hub.DeleteUser(ctx, userID)
	return err
}

// Applier applies raw messages to a sink, skipping redelivered events whose
// sequence is not newer than the last one applied for the same user.
// Events without a sequence are always applied.
type Applier struct {
	sink   Sink
	logger memory.Logger

	mu      sync.Mutex
	lastSeq map[string]int64
}

// NewApplier creates an applier for sink.
func NewApplier(sink Sink, logger memory.Logger) *Applier {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Applier{sink: sink, logger: logger, lastSeq: make(map[string]int64)}
}

// Handle decodes and applies one message value. Malformed messages return a
// *DecodeError.
func (a *Applier) Handle(ctx context.Context, value []byte) error {
	ev, err := DecodeMessage(value)
	if err != nil {
		return err
	}
	return a.ApplyEvent(ctx, ev)
}

// ApplyEvent applies one decoded event.
func (a *Applier) ApplyEvent(ctx context.Context, ev Event) error {
	if ev.Sequence > 0 {
		a.mu.Lock()
		last := a.lastSeq[ev.UserID]
		a.mu.Unlock()
		if ev.Sequence <= last {
			a.logger.Debug("skipping replayed notification", "user_id", ev.UserID, "sequence", ev.Sequence, "last", last)
			return nil
		}
	}

	if err := Apply(ctx, a.sink, ev); err != nil {
		return fmt.Errorf("notify: apply %s for user %s: %w", ev.Type, ev.UserID, err)
	}

	if ev.Sequence > 0 {
		a.mu.Lock()
		if ev.Sequence > a.lastSeq[ev.UserID] {
			a.lastSeq[ev.UserID] = ev.Sequence
		}
		a.mu.Unlock()
	}
	return nil
}

// IsPermanent reports whether err will recur on every redelivery.
func IsPermanent(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) ||
		errors.Is(err, memory.ErrInvalidUserID) ||
		errors.Is(err, memory.ErrInvalidRecordID) ||
		errors.Is(err, memory.ErrUserMismatch)
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any) {}
func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}
