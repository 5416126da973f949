package db

import (
	"context"
	"time"
)

type Conversation struct {
	UserID        string    `json:"user_id"`
	OtherUserID   string    `json:"other_user_id"`
	LastMessageID int64     `json:"last_message_id,string"`
	LastUpdated   time.Time `json:"last_updated"`
}

// ConversationIndex keeps, per user, the list of counterparts they have
// exchanged messages with.
type ConversationIndex struct {
	session *Session
}

func NewConversationIndex(session *Session) *ConversationIndex {
	return &ConversationIndex{session: session}
}

// Touch records a message between userID and otherUserID. The write timestamp
// is the message time, so a replayed older event never overwrites a newer one.
func (c *ConversationIndex) Touch(ctx context.Context, userID, otherUserID string, messageID int64, at time.Time) error {
	return c.session.Query(
		`INSERT INTO user_conversations (user_id, other_user_id, last_message_id, last_updated) VALUES (?, ?, ?, ?) USING TIMESTAMP ?`,
		userID, otherUserID, messageID, at, at.UnixMicro(),
	).WithContext(ctx).Exec()
}

func (c *ConversationIndex) List(ctx context.Context, userID string) ([]Conversation, error) {
	iter := c.session.Query(
		`SELECT user_id, other_user_id, last_message_id, last_updated FROM user_conversations WHERE user_id = ?`,
		userID,
	).WithContext(ctx).Iter()

	conversations := make([]Conversation, 0)
	var conv Conversation
	for iter.Scan(&conv.UserID, &conv.OtherUserID, &conv.LastMessageID, &conv.LastUpdated) {
		conversations = append(conversations, conv)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return conversations, nil
}
