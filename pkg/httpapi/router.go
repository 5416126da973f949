package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mahaj/dm-relay/pkg/auth"
	"github.com/mahaj/dm-relay/pkg/db"
	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/presence"
	"github.com/rs/zerolog"
)

type HistoryService interface {
	History(ctx context.Context, actor, userA, userB string) ([]model.Message, error)
}

type ConversationLister interface {
	List(ctx context.Context, userID string) ([]db.Conversation, error)
}

// Config wires the HTTP surface. Presence, Conversations and WebSocket are
// optional; their routes are only mounted when set.
type Config struct {
	Authority     *auth.Authority
	History       HistoryService
	Presence      presence.Reader
	Conversations ConversationLister
	WebSocket     http.Handler
	Log           zerolog.Logger
}

type handler struct {
	cfg Config
	log zerolog.Logger
}

func NewRouter(cfg Config) http.Handler {
	h := &handler{cfg: cfg, log: cfg.Log.With().Str("component", "http").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	// the websocket upgrade stays outside the request logger: the
	// connection outlives the request
	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.requestLogger)

		r.Get("/healthz", h.healthz)
		r.Post("/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Authority.Middleware)

			r.Get("/api/messages/{counterpartID}", h.messagesWith)
			r.Get("/history", h.historyByChannel)
			if cfg.Presence != nil {
				r.Get("/presence/{userID}", h.presence)
			}
			if cfg.Conversations != nil {
				r.Get("/conversations", h.conversations)
			}
		})
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("Request handled")
		}()
		next.ServeHTTP(ww, r)
	})
}
