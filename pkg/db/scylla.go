package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/rs/zerolog"
)

type Session struct {
	*gocql.Session
}

type SessionOption func(*gocql.ClusterConfig)

// WithConsistency overrides the default of Quorum, which together with quorum
// reads gives read-your-writes within a conversation.
func WithConsistency(c gocql.Consistency) SessionOption {
	return func(cc *gocql.ClusterConfig) { cc.Consistency = c }
}

func WithTimeout(d time.Duration) SessionOption {
	return func(cc *gocql.ClusterConfig) {
		cc.Timeout = d
		cc.ConnectTimeout = d
	}
}

func NewSession(hosts []string, keyspace string, log zerolog.Logger, opts ...SessionOption) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	// a conversation is one partition; route straight to its replicas
	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        time.Second,
	}
	for _, opt := range opts {
		opt(cluster)
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla %v/%s: %w", hosts, keyspace, err)
	}

	log.Info().Strs("hosts", hosts).Str("keyspace", keyspace).Str("consistency", cluster.Consistency.String()).Msg("Connected to ScyllaDB cluster")
	return &Session{Session: session}, nil
}
