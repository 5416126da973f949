package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mahaj/dm-relay/pkg/config"
	"github.com/mahaj/dm-relay/pkg/db"
	"github.com/mahaj/dm-relay/pkg/events"
	"github.com/mahaj/dm-relay/pkg/logging"
)

// The messaging service follows the message event stream and keeps every
// user's conversation list in user_conversations.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", true).Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("app", "messaging").Logger()

	if !cfg.EventsEnabled() {
		l.Fatal().Msg("KAFKA_BROKERS is required")
	}

	if err := db.CreateKeyspace(cfg.ScyllaHosts, cfg.Keyspace, cfg.Replication, l); err != nil {
		l.Fatal().Err(err).Msg("Failed to create keyspace")
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, l)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to connect to ScyllaDB")
	}
	defer session.Close()
	if err := db.Migrate(session, l); err != nil {
		l.Fatal().Err(err).Msg("Failed to migrate schema")
	}

	consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID,
		events.NewIndexer(db.NewConversationIndex(session)), l)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Str("group", cfg.KafkaGroupID).Msg("Starting Kafka Consumer...")
	if err := consumer.Run(ctx); err != nil {
		l.Error().Err(err).Msg("Consumer stopped")
	}
	l.Info().Msg("Messaging service stopped")
}
