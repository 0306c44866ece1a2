// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/cambia-lobby/internal/auth"
	"github.com/jason-s-yu/cambia-lobby/internal/cache"
	"github.com/jason-s-yu/cambia-lobby/internal/config"
	"github.com/jason-s-yu/cambia-lobby/internal/database"
	"github.com/jason-s-yu/cambia-lobby/internal/handlers"
	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/jason-s-yu/cambia-lobby/internal/match"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	if err := auth.Init(); err != nil {
		logger.Fatalf("auth init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// display names come from the users table when a database is configured
	var directory auth.Directory
	if database.Configured() {
		pool, err := database.ConnectDB(ctx, logger)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer pool.Close()
		directory = database.NewUserDirectory(pool)
	} else {
		logger.Warn("PG_HOST not set, display names come from token claims")
	}

	var (
		store  cache.SnapshotStore
		engine lobby.MatchEngine
	)
	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		store = cache.NewRedisSnapshotStore(rdb, cfg.SnapshotTTL)
		engine = match.NewQueueEngine(rdb, cfg.HandoffQueueName, logger)
		logger.Infof("Using redis at %s, handoffs queued on %s", cfg.RedisAddr, cfg.HandoffQueueName)
	} else {
		store = cache.NewMemorySnapshotStore(cfg.SnapshotTTL)
		engine = match.NewLocalEngine()
		logger.Warn("REDIS_ADDR not set, running with in-memory snapshots and a local match engine")
	}

	mirror := cache.NewMirror(store, logger)

	opts := cfg.Lobby
	opts.Engine = engine
	opts.Publisher = mirror
	opts.Signer = auth.SignHandoff
	opts.Logger = logger
	registry := lobby.NewRegistry(opts)

	srv := handlers.NewLobbyServer(registry, auth.NewAuthenticator(directory, logger), store, logger)
	srv.AllowedOrigins = cfg.AllowedOrigins

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Running on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return registry.RunJanitor(gctx, cfg.JanitorPeriod) })
	g.Go(func() error { return mirror.Run(gctx) })
	g.Go(func() error { return srv.Polls.RunReaper(gctx, cfg.JanitorPeriod, cfg.PollSessionIdle) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		registry.Close(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}
