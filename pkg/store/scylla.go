package store

import (
	"context"

	"github.com/mahaj/dm-relay/pkg/db"
	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/snowflake"
	"github.com/rs/zerolog"
)

// ScyllaStore keeps messages in the messages_by_pair table, partitioned by
// conversation so a history read touches a single partition.
type ScyllaStore struct {
	session *db.Session
	ids     *snowflake.Node
	log     zerolog.Logger
}

func NewScyllaStore(session *db.Session, ids *snowflake.Node, log zerolog.Logger) *ScyllaStore {
	return &ScyllaStore{session: session, ids: ids, log: log.With().Str("store", "scylla").Logger()}
}

func (s *ScyllaStore) Append(ctx context.Context, senderID, recipientID, content string) (model.Message, error) {
	d, err := model.NewDraft(senderID, recipientID, content)
	if err != nil {
		return model.Message{}, err
	}

	id, at := s.ids.Generate()
	msg := model.Message{
		ID:          id,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		Content:     d.Content,
		CreatedAt:   at,
	}

	err = s.session.Query(
		`INSERT INTO messages_by_pair (pair_key, id, sender_id, recipient_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		model.PairKey(msg.SenderID, msg.RecipientID), msg.ID, msg.SenderID, msg.RecipientID, msg.Content, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return model.Message{}, unavailable("append", err)
	}
	s.log.Debug().Int64("message_id", id).Msg("Message stored")
	return msg, nil
}

func (s *ScyllaStore) History(ctx context.Context, userA, userB string) ([]model.Message, error) {
	if err := checkPair(userA, userB); err != nil {
		return nil, err
	}

	iter := s.session.Query(
		`SELECT id, sender_id, recipient_id, content, created_at FROM messages_by_pair WHERE pair_key = ?`,
		model.PairKey(userA, userB),
	).WithContext(ctx).Iter()

	messages := make([]model.Message, 0)
	var m model.Message
	for iter.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.CreatedAt) {
		if !m.Involves(userA, userB) {
			continue
		}
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, m)
	}
	if err := iter.Close(); err != nil {
		s.log.Error().Err(err).Str("pair", model.PairKey(userA, userB)).Msg("Failed to iterate messages")
		return nil, unavailable("history", err)
	}
	return messages, nil
}

// Close is a no-op: the session is shared and owned by the caller.
func (s *ScyllaStore) Close() error {
	return nil
}
