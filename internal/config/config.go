package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr                string
	DatabaseURL         string
	RedisURL            string
	ServiceToken        string
	ShareBaseURL        string
	RetrySweepEvery     time.Duration
	RetrySweepBatch     int
	OpRetryAttempts     int
	OpRetryBackoff      time.Duration
	StartupEnsureSchema bool
}

type CLIConfig struct {
	APIBaseURL   string
	ServiceToken string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("UPLINE_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:                addr,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:            strings.TrimSpace(os.Getenv("REDIS_URL")),
		ServiceToken:        strings.TrimSpace(os.Getenv("UPLINE_SERVICE_TOKEN")),
		ShareBaseURL:        strings.TrimRight(envDefault("UPLINE_SHARE_BASE_URL", "https://upline.app/join"), "/"),
		RetrySweepEvery:     envDurationDefault("UPLINE_RETRY_SWEEP_EVERY", time.Minute),
		RetrySweepBatch:     envIntDefault("UPLINE_RETRY_SWEEP_BATCH", 100),
		OpRetryAttempts:     envIntDefault("UPLINE_OP_RETRY_ATTEMPTS", 4),
		OpRetryBackoff:      envDurationDefault("UPLINE_OP_RETRY_BACKOFF", 50*time.Millisecond),
		StartupEnsureSchema: envBoolDefault("UPLINE_STARTUP_ENSURE_SCHEMA", true),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ServiceToken == "" {
		return cfg, fmt.Errorf("UPLINE_SERVICE_TOKEN is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL:   strings.TrimRight(envDefault("UPL_API_BASE_URL", "http://localhost:8080"), "/"),
		ServiceToken: strings.TrimSpace(os.Getenv("UPL_SERVICE_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
