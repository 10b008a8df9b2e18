package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peregrinehq/gangway/internal/app/migrate"
	"github.com/peregrinehq/gangway/internal/events"
	"github.com/peregrinehq/gangway/internal/gateway"
	"github.com/peregrinehq/gangway/internal/remote"
	"github.com/peregrinehq/gangway/internal/repository/postgres"
	"github.com/peregrinehq/gangway/internal/service/identity"
	"github.com/peregrinehq/gangway/internal/ws"
	"github.com/peregrinehq/gangway/pkg/config"
	"github.com/peregrinehq/gangway/pkg/logger"
)

func main() {
	cfg := config.LoadGatewayConfig()
	log := logger.New("gateway", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool, cfg.DeployEventsChannel)
	hub := ws.NewHub()

	listener := events.NewListener(pool, hub, cfg.DeployEventsChannel, log)
	go listener.Run(ctx)

	var validator gateway.TokenValidator
	if strings.EqualFold(cfg.IdentityMode, "remote") {
		validator = remote.NewIdentityProviderClient(cfg.IdentityURL)
	} else {
		validator = identity.NewLocalProvider(repo, cfg.JWTSecret, log)
	}

	limiter := gateway.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := gateway.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	connector := gateway.NewConnector(cfg.UpstreamTimeout, log)
	streamer := gateway.NewStreamer(cfg.StreamChunkBytes, cfg.StreamBufferChunks, log)

	router := gateway.NewRouter(log, validator, connector, streamer, hub, limiter, cfg.BackendURL, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("gateway starting", "addr", cfg.Addr, "backend", cfg.BackendURL)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("gateway stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
