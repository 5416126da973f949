package router

import (
	"context"
	"sync"

	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/presence"
	"github.com/rs/zerolog"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the router-side state of one client connection. Its operations
// are serialized, so sends from one connection are persisted and routed in
// the order they were issued.
type Session struct {
	router *Router
	conn   presence.Conn

	mu     sync.Mutex
	state  State
	userID string
	log    zerolog.Logger
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the authenticated identity, or "" before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Authenticate binds the connection to userID and makes it the user's live
// connection. Authenticating again as the same user re-registers.
func (s *Session) Authenticate(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateTerminated:
		return ErrTerminated
	case StateAuthenticated:
		if s.userID != userID {
			return ErrAlreadyAuthenticated
		}
	}
	if userID == "" {
		return ErrUnauthenticated
	}

	if s.state == StateUnauthenticated {
		s.log = s.log.With().Str("user_id", userID).Logger()
	}
	s.userID = userID
	s.state = StateAuthenticated
	s.router.presence.Register(userID, s.conn)
	return nil
}

// Send runs the send pipeline: validate, persist, push to the recipient if
// online, echo to the sender. Nothing is routed unless it was persisted. When
// only the echo fails, the persisted message is returned with an error
// wrapping ErrEchoUndelivered.
func (s *Session) Send(ctx context.Context, recipientID, content string) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnauthenticated:
		return model.Message{}, ErrUnauthenticated
	case StateTerminated:
		return model.Message{}, ErrTerminated
	}

	if _, err := model.NewDraft(s.userID, recipientID, content); err != nil {
		s.log.Debug().Err(err).Msg("Rejected message")
		return model.Message{}, err
	}

	msg, err := s.router.store.Append(ctx, s.userID, recipientID, content)
	if err != nil {
		s.log.Error().Err(err).Str("recipient_id", recipientID).Msg("Failed to persist message")
		return model.Message{}, err
	}

	// the message is persisted either way; callers must not resend it
	return msg, s.router.route(ctx, s.conn, msg, s.log)
}

// Close terminates the session and releases the user's presence entry if this
// connection still holds it. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateAuthenticated {
		s.router.presence.Unregister(s.userID, s.conn)
	}
	s.state = StateTerminated
}
