package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mahaj/dm-relay/pkg/model"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message event. A returned error makes the consumer
// retry the same event.
type Handler interface {
	Handle(ctx context.Context, msg model.Message) error
}

type HandlerFunc func(ctx context.Context, msg model.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg model.Message) error { return f(ctx, msg) }

type Consumer struct {
	reader  messageReader
	handler Handler
	backoff time.Duration
	log     zerolog.Logger
}

type ConsumerOption func(*kafka.ReaderConfig)

// StartAtLatest makes a new consumer group skip the backlog.
func StartAtLatest() ConsumerOption {
	return func(rc *kafka.ReaderConfig) { rc.StartOffset = kafka.LastOffset }
}

func NewConsumer(brokers []string, topic, groupID string, h Handler, log zerolog.Logger, opts ...ConsumerOption) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	}
	for _, opt := range opts {
		opt(&rc)
	}
	r := kafka.NewReader(rc)
	return newConsumer(r, h, log.With().Str("component", "consumer").Str("topic", topic).Logger())
}

func newConsumer(r messageReader, h Handler, log zerolog.Logger) *Consumer {
	return &Consumer{reader: r, handler: h, backoff: time.Second, log: log}
}

// Run consumes until ctx is cancelled. Offsets are committed only after the
// handler succeeds; undecodable events are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("Error reading message, retrying")
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			c.log.Warn().Err(err).Int64("offset", m.Offset).Msg("Skipping undecodable event")
		} else if !c.handle(ctx, msg) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Int64("offset", m.Offset).Msg("Failed to commit offset")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg model.Message) bool {
	for {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return true
		}
		c.log.Error().Err(err).Int64("message_id", msg.ID).Msg("Handler failed, retrying")
		if !c.sleep(ctx) {
			return false
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
