// Package server exposes the relay over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/s33g/aquaadvisor/internal/config"
	"github.com/s33g/aquaadvisor/internal/ratelimit"
	"github.com/s33g/aquaadvisor/internal/tokens"
)

// Completer produces the display text for a chat message
type Completer interface {
	GetCompletion(ctx context.Context, message string) string
	APIKeyConfigured() bool
	Model() string
}

// Limiter enforces per-client budgets; *ratelimit.Limiter satisfies it
type Limiter interface {
	CheckRateLimit(ctx context.Context, clientID string, limits config.RateLimit) (*ratelimit.RateLimitResult, error)
	CheckTokenLimit(ctx context.Context, clientID string, limit config.TokenLimit, tokensToAdd int) (*ratelimit.TokenLimitResult, error)
	RefundRequest(ctx context.Context, clientID string) error
}

// Server holds the HTTP router and its dependencies
type Server struct {
	relay   Completer
	limiter Limiter // nil when Redis is not in use
	tokens  *tokens.Counter
	cfg     config.ServerConfig
	// Peers whose forwarding headers name the client
	trustedProxies []netip.Prefix
	logger  zerolog.Logger
	router  chi.Router
	now     func() time.Time

	mu     sync.RWMutex
	limits config.RateLimitsConfig
}

// New creates the server and its routes. limiter may be nil; a nil counter
// gets a fresh one that estimates until its encoding is loaded.
func New(cfg *config.Config, relay Completer, limiter Limiter, counter *tokens.Counter, logger zerolog.Logger) *Server {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	s := &Server{
		relay:   relay,
		limiter: limiter,
		tokens:  counter,
		cfg:     cfg.Server,
		logger:  logger.With().Str("component", "server").Logger(),
		now:     time.Now,
		limits:  cfg.RateLimits,
	}

	proxies, err := parseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring trusted proxies - forwarding headers will not be honored")
	}
	s.trustedProxies = proxies

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middlewares
	r.Use(s.requestID)
	r.Use(s.realIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(cors.Handler(corsOptions))

	// Routes
	r.Get("/", s.HandleRoot)
	r.Get("/health", s.HandleHealth)
	r.Post("/chat", s.HandleChat)

	s.router = r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("addr", httpServer.Addr).
			Str("model", s.relay.Model()).
			Bool("api_key_configured", s.relay.APIKeyConfigured()).
			Msg("Server listening")
		s.logger.Info().Msg("Routes: GET /, GET /health, POST /chat")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info().Msg("Server stopped gracefully")
	return nil
}

// Reload applies the settings that may change while running
func (s *Server) Reload(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	s.mu.Lock()
	s.limits = cfg.RateLimits
	s.mu.Unlock()

	zerolog.SetGlobalLevel(level)

	if cfg.RateLimits.Enabled && s.limiter == nil {
		s.logger.Warn().Msg("Rate limits enabled but Redis was not connected at startup - restart to enforce them")
	}
	return nil
}

func (s *Server) currentLimits() config.RateLimitsConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}
