package presence

import (
	"context"
	"sync"
	"time"

	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/rs/zerolog"
)

// Conn is a live, authenticated connection that messages can be routed to.
type Conn interface {
	ID() string
	Deliver(msg model.Message) error
}

// Mirror publishes presence changes outside this process. Calls happen after
// the in-memory change and never affect it.
type Mirror interface {
	Online(ctx context.Context, userID, connID string, gen uint64) error
	Offline(ctx context.Context, userID, connID string) error
}

// Reader answers "is this user connected somewhere".
type Reader interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// gen orders registrations across processes: it is a microsecond timestamp
// bumped to stay strictly increasing within one directory.
type entry struct {
	conn Conn
	gen  uint64
}

// Directory maps each user to its single live connection. The newest
// registration wins; removal only happens for the connection that is
// currently registered.
type Directory struct {
	mu     sync.Mutex
	conns  map[string]entry
	gen    uint64
	mirror Mirror
	log    zerolog.Logger
}

func NewDirectory(log zerolog.Logger) *Directory {
	return &Directory{
		conns: make(map[string]entry),
		log:   log.With().Str("component", "presence").Logger(),
	}
}

// WithMirror attaches m. It must be called before the directory is shared.
func (d *Directory) WithMirror(m Mirror) *Directory {
	d.mirror = m
	return d
}

// Register binds userID to c, superseding any previous connection, which is
// returned so the caller can log it. The previous connection is not closed.
func (d *Directory) Register(userID string, c Conn) Conn {
	d.mu.Lock()
	prev := d.conns[userID]
	d.gen = max(d.gen+1, uint64(time.Now().UnixMicro()))
	gen := d.gen
	d.conns[userID] = entry{conn: c, gen: gen}
	d.mu.Unlock()

	l := d.log.With().Str("user_id", userID).Str("conn_id", c.ID()).Logger()
	if prev.conn != nil && prev.conn != c {
		l.Info().Str("superseded_conn_id", prev.conn.ID()).Msg("Connection superseded")
	} else {
		l.Info().Msg("User online")
	}

	if d.mirror != nil {
		if err := d.mirror.Online(context.Background(), userID, c.ID(), gen); err != nil {
			l.Warn().Err(err).Msg("Failed to mirror presence")
		}
	}
	return prev.conn
}

func (d *Directory) Lookup(userID string) (Conn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.conns[userID]
	return e.conn, ok
}

// Unregister removes userID only while c is still its registered connection.
// It reports whether the entry was removed; false means a newer connection
// took over and the stale teardown was ignored.
func (d *Directory) Unregister(userID string, c Conn) bool {
	d.mu.Lock()
	e, ok := d.conns[userID]
	removed := ok && e.conn == c
	if removed {
		delete(d.conns, userID)
	}
	d.mu.Unlock()

	l := d.log.With().Str("user_id", userID).Str("conn_id", c.ID()).Logger()
	if !removed {
		l.Debug().Msg("Stale unregister ignored")
		return false
	}
	l.Info().Msg("User offline")

	if d.mirror != nil {
		if err := d.mirror.Offline(context.Background(), userID, c.ID()); err != nil {
			l.Warn().Err(err).Msg("Failed to clear mirrored presence")
		}
	}
	return true
}

func (d *Directory) IsOnline(_ context.Context, userID string) (bool, error) {
	_, ok := d.Lookup(userID)
	return ok, nil
}

func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
