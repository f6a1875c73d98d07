package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/s33g/aquaadvisor/internal/config"
	"github.com/s33g/aquaadvisor/internal/llm"
	"github.com/s33g/aquaadvisor/internal/ratelimit"
	"github.com/s33g/aquaadvisor/internal/relay"
	"github.com/s33g/aquaadvisor/internal/server"
	"github.com/s33g/aquaadvisor/internal/storage"
	"github.com/s33g/aquaadvisor/internal/tokens"
)

const encodingLoadTimeout = 10 * time.Second

func main() {
	// Parse flags
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file (optional)")
	envFile := flag.String("env-file", ".env", "Path to a .env file (optional)")
	flag.Parse()

	// Bootstrap logger until the configured one is ready
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", *envFile).Msg("Failed to load env file")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	base := newLogger(cfg.Logging)
	logger := base.With().Str("component", "main").Logger()
	logger.Info().Str("path", *configPath).Msg("Configuration loaded")
	if !cfg.Upstream.APIKeyConfigured() {
		logger.Warn().Msg("GROQ_API_KEY is not set - /chat will answer with a configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Upstream client and relay
	client := llm.NewClient(cfg.Upstream, base)
	rl := relay.New(cfg.Upstream, client, base)

	// Optional Redis-backed limits
	var limiter server.Limiter
	if cfg.RateLimits.Enabled {
		store, err := storage.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable - rate limiting disabled")
		} else {
			defer store.Close()
			l, err := ratelimit.NewLimiter(ctx, store)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to initialize rate limiter - rate limiting disabled")
			} else {
				limiter = l
				logger.Info().Str("redis", cfg.Redis.Address).Msg("Rate limiting enabled")
			}
		}
	}

	// The encoding is fetched once here so /chat never waits on it
	counter := tokens.NewCounter()
	if limiter != nil && cfg.RateLimits.Tokens.TokenBudgetEnabled() {
		loadCtx, cancel := context.WithTimeout(ctx, encodingLoadTimeout)
		if err := counter.Load(loadCtx); err != nil {
			logger.Warn().Err(err).Msg("Token encoding not ready - budgeting with estimates until it loads")
		} else {
			logger.Info().Str("encoding", tokens.Encoding).Msg("Token encoding loaded")
		}
		cancel()
	}

	srv := server.New(cfg, rl, limiter, counter, base)

	// Hot reload of limits and log level
	if _, err := os.Stat(*configPath); err == nil {
		watcher, err := config.NewWatcher(*configPath, cfg, srv.Reload, base)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create config watcher - hot reload disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	if err := srv.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server error")
	}
}

// newLogger builds the process logger from config and sets the global level
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}
