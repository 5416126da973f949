package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/presence"
	"github.com/mahaj/dm-relay/pkg/store"
	"github.com/rs/zerolog"
)

var (
	ErrUnauthenticated      = errors.New("connection is not authenticated")
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated as another user")
	ErrTerminated           = errors.New("connection is closed")

	// ErrEchoUndelivered is returned together with a persisted message whose
	// echo could not be queued to the sender.
	ErrEchoUndelivered = errors.New("message persisted but echo undelivered")
)

// Publisher receives every persisted message, after it has been routed.
type Publisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

// Archive serves conversation history to its participants.
type Archive struct {
	store store.Store
}

func NewArchive(st store.Store) *Archive {
	return &Archive{store: st}
}

// History returns the conversation between userA and userB on behalf of actor,
// who must be one of the two.
func (a *Archive) History(ctx context.Context, actor, userA, userB string) ([]model.Message, error) {
	if userA == userB {
		return nil, model.ErrSelfConversation
	}
	if actor != userA && actor != userB {
		return nil, model.ErrForbidden
	}
	return a.store.History(ctx, userA, userB)
}

// Router persists messages and fans them out to the live connections of the
// sender and the recipient.
type Router struct {
	*Archive
	store     store.Store
	presence  *presence.Directory
	publisher Publisher
	log       zerolog.Logger
}

func New(st store.Store, dir *presence.Directory, log zerolog.Logger) *Router {
	return &Router{
		Archive:  NewArchive(st),
		store:    st,
		presence: dir,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// WithPublisher attaches p. It must be called before the router is shared.
func (r *Router) WithPublisher(p Publisher) *Router {
	r.publisher = p
	return r
}

// Open starts tracking a new, unauthenticated connection.
func (r *Router) Open(conn presence.Conn) *Session {
	return &Session{
		router: r,
		conn:   conn,
		log:    r.log.With().Str("conn_id", conn.ID()).Logger(),
	}
}

// route pushes msg to the recipient's live connection, echoes it to the
// sender and publishes it. Only a failed echo is reported: the recipient can
// always fall back to history, the sender would otherwise never learn the
// outcome of its send.
func (r *Router) route(ctx context.Context, sender presence.Conn, msg model.Message, log zerolog.Logger) error {
	if recipient, ok := r.presence.Lookup(msg.RecipientID); ok {
		if err := recipient.Deliver(msg); err != nil {
			log.Warn().Err(err).Str("recipient_conn_id", recipient.ID()).Int64("message_id", msg.ID).Msg("Push to recipient dropped")
		}
	} else {
		log.Debug().Str("recipient_id", msg.RecipientID).Int64("message_id", msg.ID).Msg("Recipient offline, persisted only")
	}

	var echoErr error
	if err := sender.Deliver(msg); err != nil {
		log.Warn().Err(err).Int64("message_id", msg.ID).Msg("Echo to sender dropped")
		echoErr = fmt.Errorf("%w: %w", ErrEchoUndelivered, err)
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Int64("message_id", msg.ID).Msg("Failed to publish message event")
		}
	}
	return echoErr
}
