package db

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Schema statements, applied in order by Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS messages_by_pair (
		pair_key text,
		id bigint,
		sender_id text,
		recipient_id text,
		content text,
		created_at timestamp,
		PRIMARY KEY (pair_key, id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_message_id bigint,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`,
}

// Tables lists the tables created by Schema.
var Tables = []string{"messages_by_pair", "user_conversations"}

// CreateKeyspace connects to the system keyspace and creates keyspace if missing.
func CreateKeyspace(hosts []string, keyspace string, replication int, log zerolog.Logger) error {
	sys, err := NewSession(hosts, "system", log)
	if err != nil {
		return err
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)
	if err := sys.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

func Migrate(s *Session, log zerolog.Logger) error {
	for _, stmt := range Schema {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	log.Info().Strs("tables", Tables).Msg("Schema up to date")
	return nil
}

func DropTables(s *Session, log zerolog.Logger) error {
	for _, table := range Tables {
		if err := s.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
		log.Info().Str("table", table).Msg("Table dropped")
	}
	return nil
}
