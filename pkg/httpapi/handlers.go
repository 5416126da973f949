package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mahaj/dm-relay/pkg/auth"
	"github.com/mahaj/dm-relay/pkg/model"
)

type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type PresenceResponse struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// login issues a token for any non-empty user id without a ':'. Account management lives in
// the identity service; this stands in for it.
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id is required"})
		return
	}
	// ':' separates the two ids of a channel_id
	if strings.Contains(req.UserID, ":") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id must not contain ':'"})
		return
	}

	token, err := h.cfg.Authority.GenerateToken(req.UserID)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to generate token")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to generate token"})
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// messagesWith returns the caller's conversation with counterpartID.
func (h *handler) messagesWith(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	h.writeHistory(w, r, actor, actor, chi.URLParam(r, "counterpartID"))
}

// historyByChannel accepts a conversation key "dm:<a>:<b>".
func (h *handler) historyByChannel(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Query().Get("channel_id"), ":")
	if len(parts) != 3 || parts[0] != "dm" || parts[1] == "" || parts[2] == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "channel_id must look like dm:<user>:<user>"})
		return
	}
	h.writeHistory(w, r, actorID(r), parts[1], parts[2])
}

func (h *handler) writeHistory(w http.ResponseWriter, r *http.Request, actor, userA, userB string) {
	messages, err := h.cfg.History.History(r.Context(), actor, userA, userB)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *handler) presence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	online, err := h.cfg.Presence.IsOnline(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch presence")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "presence unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, PresenceResponse{UserID: userID, Online: online})
}

func (h *handler) conversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.cfg.Conversations.List(r.Context(), actorID(r))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list conversations")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "conversations unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrSelfConversation), errors.Is(err, model.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrStoreUnavailable):
		h.log.Error().Err(err).Msg("Store unavailable")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "message store unavailable"})
	default:
		h.log.Error().Err(err).Msg("Unexpected error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func actorID(r *http.Request) string {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
