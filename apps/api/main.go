package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/dm-relay/pkg/auth"
	"github.com/mahaj/dm-relay/pkg/config"
	"github.com/mahaj/dm-relay/pkg/db"
	"github.com/mahaj/dm-relay/pkg/httpapi"
	"github.com/mahaj/dm-relay/pkg/logging"
	"github.com/mahaj/dm-relay/pkg/presence"
	"github.com/mahaj/dm-relay/pkg/router"
	"github.com/mahaj/dm-relay/pkg/snowflake"
	"github.com/mahaj/dm-relay/pkg/store"
	"github.com/redis/go-redis/v9"
)

// The API service reads what the gateways write: history from the shared
// Scylla store, presence from the Redis mirror and conversation lists from
// the index kept by the messaging service.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", true).Fatal().Err(err).Msg("Invalid configuration")
	}
	l := logging.New(cfg.LogLevel, cfg.LogPretty).With().Str("app", "api").Logger()

	if cfg.StoreBackend != config.BackendScylla {
		l.Fatal().Str("store", cfg.StoreBackend).Msg("API service needs STORE_BACKEND=scylla; badger is single-process, use the gateway's own routes")
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, l)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to connect to ScyllaDB")
	}
	defer session.Close()

	// ids are never generated here; the node only satisfies the store
	ids, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to create snowflake node")
	}

	apiCfg := httpapi.Config{
		Authority:     auth.NewAuthority(cfg.JWTSecret, cfg.TokenTTL),
		History:       router.NewArchive(store.NewScyllaStore(session, ids, l)),
		Conversations: db.NewConversationIndex(session),
		Log:           l,
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		apiCfg.Presence = presence.NewRedisMirror(rdb)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           httpapi.NewRouter(apiCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		l.Info().Str("port", cfg.APIPort).Bool("presence", apiCfg.Presence != nil).Msg("API Service Starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	l.Info().Msg("Shutting down API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
}
