package model

type EventType string

const (
	// client -> server
	TypeAuthenticate EventType = "authenticate"
	TypeSend         EventType = "send"

	// server -> client
	TypeAuthenticated EventType = "authenticated"
	TypeMessage       EventType = "message"
	TypeError         EventType = "error"
)

type ErrorCode string

const (
	CodeInvalidMessage   ErrorCode = "invalid_message"
	CodeUnauthenticated  ErrorCode = "unauthenticated"
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeBadRequest       ErrorCode = "bad_request"
)

// Envelope is the single frame shape exchanged over the websocket. Only the
// fields relevant to Type are set.
type Envelope struct {
	Type        EventType `json:"type"`
	Token       string    `json:"token,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Content     string    `json:"content,omitempty"`
	Ref         string    `json:"ref,omitempty"`
	Message     *Message  `json:"message,omitempty"`
	Code        ErrorCode `json:"code,omitempty"`
	Error       string    `json:"error,omitempty"`
}
