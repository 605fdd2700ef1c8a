package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

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

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("UPLINE_WORKER_RUN_ONCE")), "true")
	if runOnce {
		done, err := engine.RetryPending(ctx, cfg.RetrySweepBatch)
		if err != nil {
			logger.Error("retry sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "completed", done)
		return
	}

	ticker := time.NewTicker(cfg.RetrySweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.RetrySweepEvery.String(), "batch", cfg.RetrySweepBatch)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			done, err := engine.RetryPending(ctx, cfg.RetrySweepBatch)
			if err != nil {
				logger.Error("retry sweep failed", "err", err)
				continue
			}
			if done > 0 {
				logger.Info("retry sweep complete", "completed", done)
			}
		}
	}
}
