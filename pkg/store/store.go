package store

import (
	"context"
	"fmt"

	"github.com/mahaj/dm-relay/pkg/model"
)

// Store is the durable, append-only message log.
type Store interface {
	// Append validates and persists one message, assigning its id and timestamp.
	Append(ctx context.Context, senderID, recipientID, content string) (model.Message, error)
	// History returns every message exchanged between userA and userB, oldest first.
	History(ctx context.Context, userA, userB string) ([]model.Message, error)
	Close() error
}

func checkPair(userA, userB string) error {
	if userA == "" || userB == "" {
		return fmt.Errorf("%w: both participants are required", model.ErrValidation)
	}
	if userA == userB {
		return model.ErrSelfConversation
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrStoreUnavailable, op, err)
}
