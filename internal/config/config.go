package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "arbiter.db"
	defaultPollInterval   = time.Second
	defaultMaxAttempts    = 2
	defaultAttemptTimeout = 30 * time.Second
	defaultStaleAfter     = 5 * time.Minute

	envListenAddr     = "ARBITER_LISTEN_ADDR"
	envDBPath         = "ARBITER_DB_PATH"
	envLogLevel       = "ARBITER_LOG_LEVEL"
	envPollInterval   = "ARBITER_POLL_INTERVAL"
	envMaxAttempts    = "ARBITER_MAX_ATTEMPTS"
	envAttemptTimeout = "ARBITER_ATTEMPT_TIMEOUT"
	envStaleAfter     = "ARBITER_STALE_AFTER"
	envScoringConfig  = "ARBITER_SCORING_CONFIG"
	envEdgeRunnerURL  = "ARBITER_EDGE_RUNNER_URL"
	envCloudRunnerURL = "ARBITER_CLOUD_RUNNER_URL"
	envGPURunnerURL   = "ARBITER_GPU_RUNNER_URL"
	envPricingURL     = "ARBITER_PRICING_URL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// Worker settings.
	PollInterval   time.Duration
	MaxAttempts    int
	AttemptTimeout time.Duration
	StaleAfter     time.Duration

	// Optional YAML file overriding scoring weights and bounds.
	ScoringConfigPath string

	// Remote runner base URLs, keyed by resource type. Empty means the
	// simulated runner is used for that type.
	EdgeRunnerURL  string
	CloudRunnerURL string
	GPURunnerURL   string

	// Pricing API base URL; empty uses the public Azure endpoint.
	PricingURL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		PollInterval:   defaultPollInterval,
		MaxAttempts:    defaultMaxAttempts,
		AttemptTimeout: defaultAttemptTimeout,
		StaleAfter:     defaultStaleAfter,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envPollInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv(envMaxAttempts); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxAttempts = n
		}
	}
	if v := os.Getenv(envAttemptTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.AttemptTimeout = d
		}
	}
	if v := os.Getenv(envStaleAfter); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.StaleAfter = d
		}
	}
	cfg.ScoringConfigPath = os.Getenv(envScoringConfig)
	cfg.EdgeRunnerURL = os.Getenv(envEdgeRunnerURL)
	cfg.CloudRunnerURL = os.Getenv(envCloudRunnerURL)
	cfg.GPURunnerURL = os.Getenv(envGPURunnerURL)
	cfg.PricingURL = os.Getenv(envPricingURL)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
