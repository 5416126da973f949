package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mahaj/dm-relay/pkg/model"
)

// API talks to the HTTP side: login, history and presence.
type API struct {
	base string
	http *http.Client
}

func NewAPI(base string, client *http.Client) *API {
	if client == nil {
		client = http.DefaultClient
	}
	return &API{base: strings.TrimRight(base, "/"), http: client}
}

func (a *API) Login(ctx context.Context, userID string) (string, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Token string `json:"token"`
	}
	if err := a.do(req, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return resp.Token, nil
}

// History returns the caller's conversation with counterpartID, oldest first.
func (a *API) History(ctx context.Context, token, counterpartID string) ([]model.Message, error) {
	req, err := a.authed(ctx, token, "/api/messages/"+url.PathEscape(counterpartID))
	if err != nil {
		return nil, err
	}
	var messages []model.Message
	if err := a.do(req, &messages); err != nil {
		return nil, fmt.Errorf("history with %s: %w", counterpartID, err)
	}
	return messages, nil
}

func (a *API) Online(ctx context.Context, token, userID string) (bool, error) {
	req, err := a.authed(ctx, token, "/presence/"+url.PathEscape(userID))
	if err != nil {
		return false, err
	}
	var resp struct {
		Online bool `json:"online"`
	}
	if err := a.do(req, &resp); err != nil {
		return false, fmt.Errorf("presence of %s: %w", userID, err)
	}
	return resp.Online, nil
}

func (a *API) authed(ctx context.Context, token, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (a *API) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: resp.StatusCode, Message: body.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is a non-200 answer. It matches the model error for its status
// under errors.Is.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusBadRequest:
		if target == model.ErrSelfConversation {
			return e.Message == model.ErrSelfConversation.Error()
		}
		return target == model.ErrValidation
	case http.StatusForbidden:
		return target == model.ErrForbidden
	case http.StatusServiceUnavailable:
		return target == model.ErrStoreUnavailable
	}
	return false
}
