package config

import "time"

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama3-8b-8192",
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Address:   "localhost:6379",
			DB:        0,
			KeyPrefix: "aquaadvisor:",
		},
		RateLimits: RateLimitsConfig{
			Enabled: false,
			Default: RateLimit{
				RequestsPerMinute: 20,
				RequestsPerHour:   300,
			},
			Tokens: TokenLimit{
				TokensPerPeriod: 50000,
				PeriodHours:     24,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
