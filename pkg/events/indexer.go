package events

import (
	"context"
	"fmt"
	"time"

	"github.com/mahaj/dm-relay/pkg/model"
)

type ConversationToucher interface {
	Touch(ctx context.Context, userID, otherUserID string, messageID int64, at time.Time) error
}

// Indexer keeps both participants' conversation lists current.
type Indexer struct {
	index ConversationToucher
}

func NewIndexer(index ConversationToucher) *Indexer {
	return &Indexer{index: index}
}

func (i *Indexer) Handle(ctx context.Context, msg model.Message) error {
	if err := i.index.Touch(ctx, msg.SenderID, msg.RecipientID, msg.ID, msg.CreatedAt); err != nil {
		return fmt.Errorf("index conversation for %s: %w", msg.SenderID, err)
	}
	if err := i.index.Touch(ctx, msg.RecipientID, msg.SenderID, msg.ID, msg.CreatedAt); err != nil {
		return fmt.Errorf("index conversation for %s: %w", msg.RecipientID, err)
	}
	return nil
}
