package main

import (
	"github.com/mahaj/dm-relay/pkg/config"
	"github.com/mahaj/dm-relay/pkg/db"
	"github.com/mahaj/dm-relay/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	l := logging.New(cfg.LogLevel, true)
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid configuration")
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
		l.Fatal().Err(err).Msg("Migration failed")
	}
}
