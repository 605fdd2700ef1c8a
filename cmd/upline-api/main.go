package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upline/internal/api"
	"upline/internal/config"
	"upline/internal/db"
	"upline/internal/notify"
	"upline/internal/referral"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := referral.NewPostgresStore(pool)
	if cfg.StartupEnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("ensure schema failed", "err", err)
			os.Exit(1)
		}
	}

	var notifier referral.Notifier
	if cfg.RedisURL != "" {
		rn, err := notify.NewRedisNotifier(cfg.RedisURL, logger)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rn.Close()
		notifier = rn
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	engine, err := referral.NewEngine(store, notifier, referral.EngineConfig{
		ShareBaseURL:  cfg.ShareBaseURL,
		RetryAttempts: cfg.OpRetryAttempts,
		RetryBackoff:  cfg.OpRetryBackoff,
	}, logger)
	if err != nil {
		logger.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	server := api.New(cfg, logger, engine, store)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("upline api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
