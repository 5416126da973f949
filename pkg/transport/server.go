package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/router"
	"github.com/rs/zerolog"
)

var (
	errBadFrame      = errors.New("malformed or unknown frame")
	errFrameTooLarge = fmt.Errorf("%w: frame exceeds %d bytes", model.ErrValidation, maxFrameSize)
)

// TokenVerifier turns a bearer token into a user id.
type TokenVerifier func(token string) (string, error)

// Server upgrades HTTP requests to websocket connections and attaches each
// one to a router session.
type Server struct {
	router      *router.Router
	verify      TokenVerifier
	upgrader    websocket.Upgrader
	sendTimeout time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*Server)

// WithSendTimeout bounds each send pipeline run. Defaults to 5s.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Server) { s.sendTimeout = d }
}

// WithOriginCheck replaces the default, which accepts any origin.
func WithOriginCheck(check func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = check }
}

func NewServer(r *router.Router, verify TokenVerifier, log zerolog.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router: r,
		verify: verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sendTimeout: 5 * time.Second,
		log:         log.With().Str("component", "transport").Logger(),
		clients:     make(map[*Client]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP handles websocket requests from the peer. A token in the
// Authorization header or the "token" query parameter authenticates the
// connection immediately; otherwise the peer must send an authenticate frame.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	var userID string
	if token != "" {
		id, err := s.verify(token)
		if err != nil {
			s.log.Info().Err(err).Msg("Unauthorized upgrade")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan model.Envelope, sendBuffer),
		done:   make(chan struct{}),
		server: s,
	}
	client.log = s.log.With().Str("conn_id", client.id).Logger()
	client.session = s.router.Open(client)

	if !s.track(client) {
		_ = conn.Close()
		return
	}
	client.log.Info().Str("remote", r.RemoteAddr).Msg("New client connected")

	if userID != "" {
		client.authenticate(token, "")
	}

	go client.writePump()
	go client.readPump(s.ctx)
}

func (s *Server) track(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) forget(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	s.log.Info().Int("clients", len(clients)).Msg("Transport closed")
}

func codeFor(err error) model.ErrorCode {
	switch {
	case errors.Is(err, model.ErrValidation):
		return model.CodeInvalidMessage
	case errors.Is(err, router.ErrUnauthenticated),
		errors.Is(err, router.ErrAlreadyAuthenticated),
		errors.Is(err, router.ErrTerminated):
		return model.CodeUnauthenticated
	case errors.Is(err, model.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return model.CodeStoreUnavailable
	default:
		return model.CodeBadRequest
	}
}
