package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/snowflake"
	"github.com/rs/zerolog"
)

// BadgerStore keeps messages in an embedded BadgerDB.
type BadgerStore struct {
	db  *badger.DB
	ids *snowflake.Node
	log zerolog.Logger
}

func OpenBadger(path string, ids *snowflake.Node, log zerolog.Logger) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return NewBadgerStore(db, ids, log), nil
}

func NewBadgerStore(db *badger.DB, ids *snowflake.Node, log zerolog.Logger) *BadgerStore {
	return &BadgerStore{db: db, ids: ids, log: log.With().Str("store", "badger").Logger()}
}

// Append persists a message under "msg:{pair_key}:{id_padded}". The 19-digit
// zero padding makes lexicographic key order match id order, so a prefix scan
// over one conversation yields its history already sorted.
func (s *BadgerStore) Append(ctx context.Context, senderID, recipientID, content string) (model.Message, error) {
	d, err := model.NewDraft(senderID, recipientID, content)
	if err != nil {
		return model.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Message{}, unavailable("append", err)
	}

	id, at := s.ids.Generate()
	msg := model.Message{
		ID:          id,
		SenderID:    d.SenderID,
		RecipientID: d.RecipientID,
		Content:     d.Content,
		CreatedAt:   at,
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return model.Message{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), value)
	})
	if err != nil {
		return model.Message{}, unavailable("append", err)
	}
	s.log.Debug().Int64("message_id", id).Str("pair", model.PairKey(senderID, recipientID)).Msg("Message stored")
	return msg, nil
}

func (s *BadgerStore) History(ctx context.Context, userA, userB string) ([]model.Message, error) {
	if err := checkPair(userA, userB); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, unavailable("history", err)
	}

	messages := make([]model.Message, 0)
	prefix := []byte(fmt.Sprintf("msg:%s:", model.PairKey(userA, userB)))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var msg model.Message
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &msg)
			})
			if err != nil {
				return err
			}
			// user ids may contain ':' so a prefix can match a foreign pair
			if !msg.Involves(userA, userB) {
				continue
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("history", err)
	}
	return messages, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func messageKey(m model.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", model.PairKey(m.SenderID, m.RecipientID), m.ID))
}
