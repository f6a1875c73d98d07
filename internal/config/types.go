package config

import (
	"strconv"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Redis      RedisConfig      `yaml:"redis"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT" validate:"min=1,max=65535"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"min=1"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Peers allowed to set X-Forwarded-For / X-Real-IP. Empty means the
	// socket peer is always the client.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:"," validate:"dive,cidr|ip"`
}

// UpstreamConfig holds the completion API settings.
// These are read once at startup and never change for the life of the process.
type UpstreamConfig struct {
	APIKey  string        `yaml:"-" env:"GROQ_API_KEY"` // From environment, not YAML
	BaseURL string        `yaml:"base_url" env:"GROQ_BASE_URL" validate:"required,url"`
	Model   string        `yaml:"model" env:"GROQ_MODEL" validate:"required"`
	Timeout time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT" validate:"gt=0"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address   string `yaml:"address" env:"REDIS_ADDR"`
	Password  string `yaml:"-" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RateLimitsConfig holds per-client limits for POST /chat
type RateLimitsConfig struct {
	Enabled bool       `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	Default RateLimit  `yaml:"default"`
	Tokens  TokenLimit `yaml:"tokens"`
}

// RateLimit defines rate limiting parameters
type RateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"min=0"`
	RequestsPerHour   int `yaml:"requests_per_hour" validate:"min=0"`
}

// TokenLimit defines token usage limits
type TokenLimit struct {
	Bypass          bool `yaml:"bypass,omitempty"`
	TokensPerPeriod int  `yaml:"tokens_per_period,omitempty" validate:"min=0"`
	PeriodHours     int  `yaml:"period_hours,omitempty" validate:"min=0"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" env:"LOG_FORMAT" validate:"oneof=json console"`
}

// Addr returns the listen address for the HTTP server
func (s *ServerConfig) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

// APIKeyConfigured reports whether a completion API credential is present
func (u *UpstreamConfig) APIKeyConfigured() bool {
	return u.APIKey != ""
}

// TokenBudgetEnabled reports whether the token limit needs to be checked at all
func (t *TokenLimit) TokenBudgetEnabled() bool {
	return !t.Bypass && t.TokensPerPeriod > 0 && t.PeriodHours > 0
}
