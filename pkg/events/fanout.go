package events

import (
	"context"

	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/mahaj/dm-relay/pkg/presence"
	"github.com/mahaj/dm-relay/pkg/snowflake"
	"github.com/rs/zerolog"
)

type Locator interface {
	Lookup(userID string) (presence.Conn, bool)
}

// ConnOwner reports which connection currently holds a user across all
// gateways.
type ConnOwner interface {
	Conn(ctx context.Context, userID string) (string, error)
}

// Fanout pushes messages persisted by other gateways to recipients connected
// here. Messages minted by this gateway's node were already routed locally.
type Fanout struct {
	dir   Locator
	owner ConnOwner
	node  int64
	log   zerolog.Logger
}

// NewFanout builds the handler for gateway node. owner may be nil; when set, a
// local connection superseded by a newer one on another gateway is skipped.
func NewFanout(dir Locator, owner ConnOwner, node int64, log zerolog.Logger) *Fanout {
	return &Fanout{dir: dir, owner: owner, node: node, log: log.With().Str("component", "fanout").Logger()}
}

// Handle never fails: a missed push is recovered from history.
func (f *Fanout) Handle(ctx context.Context, msg model.Message) error {
	if snowflake.NodeOf(msg.ID) == f.node {
		return nil
	}
	conn, ok := f.dir.Lookup(msg.RecipientID)
	if !ok {
		return nil
	}

	if f.owner != nil {
		current, err := f.owner.Conn(ctx, msg.RecipientID)
		switch {
		case err != nil:
			f.log.Warn().Err(err).Str("recipient_id", msg.RecipientID).Msg("Presence lookup failed, delivering locally")
		case current != "" && current != conn.ID():
			f.log.Debug().Str("recipient_id", msg.RecipientID).Str("owner_conn_id", current).Msg("Recipient connected elsewhere")
			return nil
		}
	}

	if err := conn.Deliver(msg); err != nil {
		f.log.Warn().Err(err).Str("recipient_conn_id", conn.ID()).Int64("message_id", msg.ID).Msg("Push to recipient dropped")
	}
	return nil
}
