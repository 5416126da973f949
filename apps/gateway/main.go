package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/dm-relay/pkg/auth"
	"github.com/mahaj/dm-relay/pkg/config"
	"github.com/mahaj/dm-relay/pkg/db"
	"github.com/mahaj/dm-relay/pkg/events"
	"github.com/mahaj/dm-relay/pkg/httpapi"
	"github.com/mahaj/dm-relay/pkg/logging"
	"github.com/mahaj/dm-relay/pkg/presence"
	"github.com/mahaj/dm-relay/pkg/router"
	"github.com/mahaj/dm-relay/pkg/snowflake"
	"github.com/mahaj/dm-relay/pkg/store"
	"github.com/mahaj/dm-relay/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", true).Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("app", "gateway").Logger()

	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create snowflake node")
	}

	st, closeStore := openStore(cfg, ids, l)
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir := presence.NewDirectory(l)
	var owner events.ConnOwner
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		mirror := presence.NewRedisMirror(rdb)
		dir.WithMirror(mirror)
		owner = mirror
		l.Info().Str("addr", cfg.RedisAddr).Msg("Mirroring presence to Redis")
	}

	rt := router.New(st, dir, l)
	if cfg.EventsEnabled() {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, l)
		defer pub.Close()
		rt.WithPublisher(pub)

		// every gateway reads the whole stream under its own group and pushes
		// what other gateways persisted to recipients connected here
		group := fmt.Sprintf("gateway-%d-%d", cfg.NodeID, time.Now().UnixNano())
		fanout := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, group,
			events.NewFanout(dir, owner, cfg.NodeID, l), l, events.StartAtLatest())
		defer fanout.Close()
		go func() {
			if err := fanout.Run(ctx); err != nil {
				l.Error().Err(err).Msg("Fan-out consumer stopped")
			}
		}()
		l.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Str("group", group).Msg("Publishing and fanning out message events")
	}

	authority := auth.NewAuthority(cfg.JWTSecret, cfg.TokenTTL)
	ws := transport.NewServer(rt, authority.UserID, l, transport.WithSendTimeout(cfg.SendTimeout))

	// the gateway also serves login and history so a single process is a
	// complete deployment
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httpapi.NewRouter(httpapi.Config{
			Authority: authority,
			History:   rt,
			Presence:  dir,
			WebSocket: ws,
			Log:       l,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Info().Str("port", cfg.Port).Str("store", cfg.StoreBackend).Msg("Gateway Service Starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("Shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
	// hijacked websocket connections are not covered by Shutdown
	ws.Close()
}

func openStore(cfg config.Config, ids *snowflake.Node, l zerolog.Logger) (store.Store, func()) {
	switch cfg.StoreBackend {
	case config.BackendScylla:
		if err := db.CreateKeyspace(cfg.ScyllaHosts, cfg.Keyspace, cfg.Replication, l); err != nil {
			l.Fatal().Err(err).Msg("Failed to create keyspace")
		}
		session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, l)
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to connect to ScyllaDB")
		}
		if err := db.Migrate(session, l); err != nil {
			l.Fatal().Err(err).Msg("Failed to migrate schema")
		}
		return store.NewScyllaStore(session, ids, l), session.Close
	default:
		st, err := store.OpenBadger(cfg.BadgerPath, ids, l)
		if err != nil {
			l.Fatal().Err(err).Msg("Failed to open message store")
		}
		return st, func() { _ = st.Close() }
	}
}
