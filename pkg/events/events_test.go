package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

// memReader hands out queued messages, then blocks until the context ends.
type memReader struct {
	mu        sync.Mutex
	queue     chan kafka.Message
	committed []int64
}

func newMemReader(msgs ...kafka.Message) *memReader {
	r := &memReader{queue: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.queue <- m
	}
	return r
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.queue:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *memReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *memReader) Close() error { return nil }

type touch struct {
	user, other string
	id          int64
}

type memIndex struct {
	mu       sync.Mutex
	touches  []touch
	failures int
}

func (m *memIndex) Touch(_ context.Context, userID, otherUserID string, messageID int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("scylla unavailable")
	}
	m.touches = append(m.touches, touch{userID, otherUserID, messageID})
	return nil
}

func (m *memIndex) Touches() []touch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]touch(nil), m.touches...)
}

func event(t *testing.T, offset int64, msg model.Message) kafka.Message {
	t.Helper()
	value, err := json.Marshal(msg)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func TestPublishKeysByConversation(t *testing.T) {
	w := &memWriter{}
	p := newPublisher(w, zerolog.Nop())
	at := time.UnixMilli(1700000000000).UTC()

	require.NoError(t, p.Publish(t.Context(), model.Message{ID: 1, SenderID: "bob", RecipientID: "alice", Content: "hi", CreatedAt: at}))
	require.NoError(t, p.Publish(t.Context(), model.Message{ID: 2, SenderID: "alice", RecipientID: "bob", Content: "yo", CreatedAt: at}))

	require.Len(t, w.msgs, 2)
	require.Equal(t, "dm:alice:bob", string(w.msgs[0].Key))
	require.Equal(t, w.msgs[0].Key, w.msgs[1].Key)
	require.Equal(t, at, w.msgs[0].Time)

	var decoded model.Message
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.EqualValues(t, 1, decoded.ID)
	require.Equal(t, "hi", decoded.Content)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := newPublisher(&memWriter{err: boom}, zerolog.Nop())
	err := p.Publish(t.Context(), model.Message{ID: 9, SenderID: "a", RecipientID: "b"})
	require.ErrorIs(t, err, boom)
}

func TestIndexerTouchesBothSides(t *testing.T) {
	idx := &memIndex{}
	msg := model.Message{ID: 42, SenderID: "alice", RecipientID: "bob", CreatedAt: time.Now()}
	require.NoError(t, NewIndexer(idx).Handle(t.Context(), msg))
	require.Equal(t, []touch{{"alice", "bob", 42}, {"bob", "alice", 42}}, idx.Touches())
}

func TestConsumerIndexesAndCommits(t *testing.T) {
	idx := &memIndex{}
	r := newMemReader(
		event(t, 0, model.Message{ID: 1, SenderID: "alice", RecipientID: "bob"}),
		kafka.Message{Offset: 1, Value: []byte("{garbage")},
		event(t, 2, model.Message{ID: 3, SenderID: "carol", RecipientID: "alice"}),
	)
	c := newConsumer(r, NewIndexer(idx), zerolog.Nop())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.Committed()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.Equal(t, []int64{0, 1, 2}, r.Committed())
	require.Equal(t, []touch{
		{"alice", "bob", 1}, {"bob", "alice", 1},
		{"carol", "alice", 3}, {"alice", "carol", 3},
	}, idx.Touches())
}

func TestConsumerRetriesFailedHandler(t *testing.T) {
	idx := &memIndex{failures: 2}
	r := newMemReader(event(t, 0, model.Message{ID: 1, SenderID: "alice", RecipientID: "bob"}))
	c := newConsumer(r, NewIndexer(idx), zerolog.Nop())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.Committed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Len(t, idx.Touches(), 2)
}

func TestConsumerStopsWhileRetrying(t *testing.T) {
	var calls int
	var mu sync.Mutex
	h := HandlerFunc(func(context.Context, model.Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("always")
	})
	r := newMemReader(event(t, 0, model.Message{ID: 1, SenderID: "a", RecipientID: "b"}))
	c := newConsumer(r, h, zerolog.Nop())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Empty(t, r.Committed())
}
