package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/presence"
	"github.com/mahaj/dm-relay/pkg/snowflake"
	"github.com/mahaj/dm-relay/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	id string

	mu       sync.Mutex
	received []model.Message
	fail     bool
}

func newConn(id string) *recordingConn {
	return &recordingConn{id: id}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Deliver(msg model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection gone")
	}
	c.received = append(c.received, msg)
	return nil
}

func (c *recordingConn) messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.received...)
}

type failingStore struct {
	store.Store
}

func (failingStore) Append(context.Context, string, string, string) (model.Message, error) {
	return model.Message{}, fmt.Errorf("%w: append: timeout", model.ErrStoreUnavailable)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []model.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, msg)
	return nil
}

type fixture struct {
	router    *Router
	store     store.Store
	directory *presence.Directory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)
	st := store.NewBadgerStore(db, ids, zerolog.Nop())
	dir := presence.NewDirectory(zerolog.Nop())
	return fixture{router: New(st, dir, zerolog.Nop()), store: st, directory: dir}
}

func (f fixture) connect(t *testing.T, userID, connID string) (*Session, *recordingConn) {
	t.Helper()
	conn := newConn(connID)
	s := f.router.Open(conn)
	require.NoError(t, s.Authenticate(userID))
	return s, conn
}

func TestSend_BothOnline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice, aliceConn := f.connect(t, "alice", "a1")
	_, bobConn := f.connect(t, "bob", "b1")

	sent, err := alice.Send(ctx, "bob", "hello")
	req.NoError(err)

	req.Len(bobConn.messages(), 1)
	req.Equal("hello", bobConn.messages()[0].Content)
	req.Len(aliceConn.messages(), 1)
	req.Equal(sent, aliceConn.messages()[0])
	req.False(sent.CreatedAt.IsZero())

	history, err := f.store.History(ctx, "alice", "bob")
	req.NoError(err)
	req.Equal([]model.Message{sent}, history)
}

func TestSend_RecipientOffline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice, aliceConn := f.connect(t, "alice", "a1")
	sent, err := alice.Send(ctx, "bob", "hi")
	req.NoError(err)
	req.Equal([]model.Message{sent}, aliceConn.messages())

	bob, bobConn := f.connect(t, "bob", "b1")
	req.Empty(bobConn.messages())

	history, err := f.router.History(ctx, bob.UserID(), "bob", "alice")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("hi", history[0].Content)
}

func TestSend_ReconnectionSupersedes(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	first, c1 := f.connect(t, "alice", "a1")
	_, c2 := f.connect(t, "alice", "a2")
	carol, _ := f.connect(t, "carol", "c1")

	_, err := carol.Send(ctx, "alice", "which one?")
	req.NoError(err)
	req.Empty(c1.messages())
	req.Len(c2.messages(), 1)

	// the stale connection disconnects late
	first.Close()
	got, ok := f.directory.Lookup("alice")
	req.True(ok)
	req.Same(c2, got)

	_, err = carol.Send(ctx, "alice", "still there?")
	req.NoError(err)
	req.Len(c2.messages(), 2)
	req.Empty(c1.messages())
}

func TestHistoryIsSymmetric(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice, _ := f.connect(t, "alice", "a1")
	bob, _ := f.connect(t, "bob", "b1")
	for i := 0; i < 5; i++ {
		_, err := alice.Send(ctx, "bob", fmt.Sprintf("a%d", i))
		req.NoError(err)
		_, err = bob.Send(ctx, "alice", fmt.Sprintf("b%d", i))
		req.NoError(err)
	}

	ab, err := f.router.History(ctx, "alice", "alice", "bob")
	req.NoError(err)
	ba, err := f.router.History(ctx, "bob", "bob", "alice")
	req.NoError(err)
	req.Len(ab, 10)
	req.Equal(ab, ba)
}

func TestPerSenderOrdering(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice, _ := f.connect(t, "alice", "a1")
	var sent []model.Message
	for i := 0; i < 30; i++ {
		to := "bob"
		if i%3 == 0 {
			to = "carol"
		}
		m, err := alice.Send(ctx, to, fmt.Sprintf("m%d", i))
		req.NoError(err)
		sent = append(sent, m)
	}
	for i := 1; i < len(sent); i++ {
		req.False(sent[i].CreatedAt.Before(sent[i-1].CreatedAt))
		req.Less(sent[i-1].ID, sent[i].ID)
	}

	history, err := f.store.History(ctx, "alice", "bob")
	req.NoError(err)
	var expected []model.Message
	for _, m := range sent {
		if m.RecipientID == "bob" {
			expected = append(expected, m)
		}
	}
	req.Equal(expected, history)
}

func TestExactlyOnePersistEchoPush(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice, aliceConn := f.connect(t, "alice", "a1")
	_, bobConn := f.connect(t, "bob", "b1")
	_, carolConn := f.connect(t, "carol", "c1")

	sent, err := alice.Send(ctx, "bob", "only for bob")
	req.NoError(err)
	req.Equal([]model.Message{sent}, aliceConn.messages())
	req.Equal([]model.Message{sent}, bobConn.messages())
	req.Empty(carolConn.messages())

	// offline recipient: zero pushes, still persisted
	sent2, err := alice.Send(ctx, "dave", "for later")
	req.NoError(err)
	req.Len(aliceConn.messages(), 2)
	history, err := f.store.History(ctx, "dave", "alice")
	req.NoError(err)
	req.Equal([]model.Message{sent2}, history)
}

func TestInvalidSendsRejected(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice, aliceConn := f.connect(t, "alice", "a1")
	_, bobConn := f.connect(t, "bob", "b1")

	_, err := alice.Send(ctx, "bob", "")
	req.ErrorIs(err, model.ErrValidation)
	_, err = alice.Send(ctx, "bob", "   ")
	req.ErrorIs(err, model.ErrValidation)
	_, err = alice.Send(ctx, "alice", "note to self")
	req.ErrorIs(err, model.ErrValidation)

	req.Empty(aliceConn.messages())
	req.Empty(bobConn.messages())
	history, err := f.store.History(ctx, "alice", "bob")
	req.NoError(err)
	req.Empty(history)

	// the connection stays usable
	_, err = alice.Send(ctx, "bob", "valid")
	req.NoError(err)
	req.Len(bobConn.messages(), 1)
}

func TestStoreUnavailable_NothingRouted(t *testing.T) {
	req := require.New(t)
	dir := presence.NewDirectory(zerolog.Nop())
	r := New(failingStore{}, dir, zerolog.Nop())

	aliceConn, bobConn := newConn("a1"), newConn("b1")
	alice := r.Open(aliceConn)
	req.NoError(alice.Authenticate("alice"))
	req.NoError(r.Open(bobConn).Authenticate("bob"))

	_, err := alice.Send(context.Background(), "bob", "lost?")
	req.ErrorIs(err, model.ErrStoreUnavailable)
	req.Empty(aliceConn.messages())
	req.Empty(bobConn.messages())
}

func TestRecipientDeliveryFailureStillEchoes(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, aliceConn := f.connect(t, "alice", "a1")
	_, bobConn := f.connect(t, "bob", "b1")
	bobConn.fail = true

	_, err := alice.Send(context.Background(), "bob", "hello")
	req.NoError(err)
	req.Len(aliceConn.messages(), 1)
}

func TestEchoFailureIsReported(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	alice, aliceConn := f.connect(t, "alice", "a1")
	_, bobConn := f.connect(t, "bob", "b1")
	aliceConn.fail = true

	msg, err := alice.Send(context.Background(), "bob", "hello")
	req.ErrorIs(err, ErrEchoUndelivered)
	req.NotZero(msg.ID)

	// persisted and pushed regardless
	req.Len(bobConn.messages(), 1)
	history, err := f.store.History(context.Background(), "alice", "bob")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal(msg.ID, history[0].ID)
}

func TestSessionStateMachine(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	s := f.router.Open(newConn("x1"))
	req.Equal(StateUnauthenticated, s.State())
	_, err := s.Send(ctx, "bob", "hi")
	req.ErrorIs(err, ErrUnauthenticated)
	req.ErrorIs(s.Authenticate(""), ErrUnauthenticated)

	req.NoError(s.Authenticate("alice"))
	req.Equal(StateAuthenticated, s.State())
	req.NoError(s.Authenticate("alice"))
	req.ErrorIs(s.Authenticate("mallory"), ErrAlreadyAuthenticated)
	req.Equal("alice", s.UserID())

	s.Close()
	req.Equal(StateTerminated, s.State())
	_, ok := f.directory.Lookup("alice")
	req.False(ok)
	_, err = s.Send(ctx, "bob", "hi")
	req.ErrorIs(err, ErrTerminated)
	req.ErrorIs(s.Authenticate("alice"), ErrTerminated)
	s.Close()
}

func TestCloseUnauthenticatedLeavesDirectoryAlone(t *testing.T) {
	f := newFixture(t)
	_, c := f.connect(t, "alice", "a1")

	f.router.Open(newConn("anon")).Close()
	got, ok := f.directory.Lookup("alice")
	require.True(t, ok)
	require.Same(t, c, got)
}

func TestHistoryAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.router.History(ctx, "mallory", "alice", "bob")
	require.ErrorIs(t, err, model.ErrForbidden)
	_, err = f.router.History(ctx, "alice", "alice", "alice")
	require.ErrorIs(t, err, model.ErrSelfConversation)
	history, err := f.router.History(ctx, "alice", "alice", "bob")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestPublisherSeesPersistedMessages(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}
	f.router.WithPublisher(pub)

	alice, _ := f.connect(t, "alice", "a1")
	sent, err := alice.Send(context.Background(), "bob", "publish me")
	require.NoError(t, err)
	_, err = alice.Send(context.Background(), "bob", "")
	require.Error(t, err)

	require.Equal(t, []model.Message{sent}, pub.published)
}

func TestConcurrentSendersKeepTheirOwnOrder(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	alice, _ := f.connect(t, "alice", "a1")
	bob, _ := f.connect(t, "bob", "b1")

	var wg sync.WaitGroup
	for _, s := range []*Session{alice, bob} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			to := "bob"
			if s.UserID() == "bob" {
				to = "alice"
			}
			for i := 0; i < 40; i++ {
				if _, err := s.Send(ctx, to, fmt.Sprintf("%s-%02d", s.UserID(), i)); err != nil {
					t.Error(err)
				}
			}
		}(s)
	}
	wg.Wait()

	history, err := f.store.History(ctx, "alice", "bob")
	req.NoError(err)
	req.Len(history, 80)
	next := map[string]int{}
	for _, m := range history {
		req.Equal(fmt.Sprintf("%s-%02d", m.SenderID, next[m.SenderID]), m.Content)
		next[m.SenderID]++
	}
}
