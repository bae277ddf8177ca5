package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goclaw/recall/pkg/memory"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
	closed    atomic.Bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// flakySink fails the first n calls.
type flakySink struct {
	recordingSink
	failures atomic.Int32
}

func (s *flakySink) Add(ctx context.Context, userID string, rec memory.Record) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("transient")
	}
	return s.recordingSink.Add(ctx, userID, rec)
}

func TestKafkaConsumer_AppliesAndCommits(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 10, Value: mustMessage(t, Event{Type: EventUpsert, UserID: "u", Record: memory.Record{ID: "r1"}})},
		kafka.Message{Offset: 11, Value: []byte("garbage")},
		kafka.Message{Offset: 12, Value: mustMessage(t, Event{Type: EventDelete, UserID: "u", RecordID: "r1"})},
	)
	sink := &recordingSink{}
	c := newKafkaConsumer(reader, NewApplier(sink, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11, 12}, reader.commits(), "malformed messages are committed past")
	assert.Equal(t, []call{{"add", "u", "r1"}, {"remove", "u", "r1"}}, sink.snapshot())
	assert.True(t, reader.closed.Load())
}

func TestKafkaConsumer_RetriesTransientFailures(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Offset: 1, Value: mustMessage(t, Event{Type: EventUpsert, UserID: "u", Record: memory.Record{ID: "r1"}})},
		kafka.Message{Offset: 2, Value: mustMessage(t, Event{Type: EventUpsert, UserID: "u", Record: memory.Record{ID: "r2"}})},
	)
	sink := &flakySink{}
	sink.failures.Store(2)
	c := newKafkaConsumer(reader, NewApplier(sink, nil), nil)
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []call{{"add", "u", "r1"}, {"add", "u", "r2"}}, sink.snapshot(), "order is preserved across retries")
}

func TestNewKafkaConsumer_Validation(t *testing.T) {
	a := NewApplier(&recordingSink{}, nil)

	_, err := NewKafkaConsumer(KafkaConfig{Topic: "records"}, a, nil)
	assert.Error(t, err)

	_, err = NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}, a, nil)
	assert.Error(t, err)

	c, err := NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "records", ConsumerGroup: "recall"}, a, nil)
	require.NoError(t, err)
	require.NoError(t, c.reader.Close())
}
