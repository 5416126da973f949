package model

import "errors"

var (
	ErrValidation       = errors.New("invalid message")
	ErrForbidden        = errors.New("not a participant of this conversation")
	ErrSelfConversation = errors.New("cannot hold a conversation with yourself")
	ErrStoreUnavailable = errors.New("message store unavailable")
)
