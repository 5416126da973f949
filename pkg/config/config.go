package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendBadger = "badger"
	BackendScylla = "scylla"
)

// Config is shared by every app; each one reads the fields it needs.
type Config struct {
	Port    string `envconfig:"PORT" default:"8080"`
	APIPort string `envconfig:"API_PORT" default:"8081"`

	StoreBackend string   `envconfig:"STORE_BACKEND" default:"badger"`
	BadgerPath   string   `envconfig:"BADGER_PATH" default:"./data/messages"`
	ScyllaHosts  []string `envconfig:"SCYLLA_HOSTS" default:"localhost:9042"`
	Keyspace     string   `envconfig:"KEYSPACE" default:"chat"`
	Replication  int      `envconfig:"REPLICATION_FACTOR" default:"1"`

	// empty disables the Redis presence mirror
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// empty disables message events
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"chat-messages"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID" default:"messaging-service-group"`

	JWTSecret   string        `envconfig:"JWT_SECRET" default:"secret"`
	TokenTTL    time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"5s"`
	// unique per gateway: it tells the fan-out which messages were routed here
	NodeID int64 `envconfig:"NODE_ID" default:"1"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads a .env file if present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendBadger, BackendScylla:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendBadger, BackendScylla, c.StoreBackend)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be in [0, 1023], got %d", c.NodeID)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive, got %s", c.SendTimeout)
	}
	return nil
}

func (c Config) EventsEnabled() bool { return len(c.KafkaBrokers) > 0 }
