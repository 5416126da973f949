package model

import (
	"fmt"
	"time"
)

// MaxContentLength caps message content, counted in runes.
const MaxContentLength = 4000

type Message struct {
	ID          int64     `json:"id,string"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// PairKey returns the conversation key for two users. It is the same
// regardless of argument order.
func PairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("dm:%s:%s", userA, userB)
}

// Counterpart returns the other participant of the message relative to userID.
func (m Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// Involves reports whether the message belongs to the conversation between userA and userB.
func (m Message) Involves(userA, userB string) bool {
	return (m.SenderID == userA && m.RecipientID == userB) ||
		(m.SenderID == userB && m.RecipientID == userA)
}
