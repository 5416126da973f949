package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "API_PORT", "STORE_BACKEND", "BADGER_PATH", "SCYLLA_HOSTS", "KEYSPACE",
	"REPLICATION_FACTOR", "REDIS_ADDR", "KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_GROUP_ID",
	"JWT_SECRET", "TOKEN_TTL", "SEND_TIMEOUT", "NODE_ID", "LOG_LEVEL", "LOG_PRETTY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, BackendBadger, cfg.StoreBackend)
	require.Equal(t, []string{"localhost:9042"}, cfg.ScyllaHosts)
	require.Equal(t, "chat-messages", cfg.KafkaTopic)
	require.Equal(t, 24*time.Hour, cfg.TokenTTL)
	require.Equal(t, 5*time.Second, cfg.SendTimeout)
	require.Empty(t, cfg.RedisAddr)
	require.False(t, cfg.EventsEnabled())
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "scylla")
	t.Setenv("SCYLLA_HOSTS", "s1:9042,s2:9042")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SEND_TIMEOUT", "250ms")
	t.Setenv("NODE_ID", "7")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, BackendScylla, cfg.StoreBackend)
	require.Equal(t, []string{"s1:9042", "s2:9042"}, cfg.ScyllaHosts)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.EventsEnabled())
	require.Equal(t, 250*time.Millisecond, cfg.SendTimeout)
	require.EqualValues(t, 7, cfg.NodeID)
	require.True(t, cfg.LogPretty)
}

func TestInvalid(t *testing.T) {
	cases := map[string]string{
		"STORE_BACKEND": "postgres",
		"NODE_ID":       "4096",
		"SEND_TIMEOUT":  "0s",
		"TOKEN_TTL":     "soon",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(k, v)
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}
