// Package ratelimit enforces per-client request and token budgets in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/s33g/aquaadvisor/internal/config"
	"github.com/s33g/aquaadvisor/internal/storage"
)

// KEYS[1] minute counter, KEYS[2] hour counter
// ARGV: minute limit, hour limit, minute ttl, hour ttl
var rateLimitScript = redis.NewScript(`
local minute = tonumber(redis.call('GET', KEYS[1]) or "0")
local hour = tonumber(redis.call('GET', KEYS[2]) or "0")
local minute_limit = tonumber(ARGV[1])
local hour_limit = tonumber(ARGV[2])

if minute_limit > 0 and minute >= minute_limit then
    local ttl = redis.call('TTL', KEYS[1])
    return {-1, ttl > 0 and ttl or tonumber(ARGV[3])}
end

if hour_limit > 0 and hour >= hour_limit then
    local ttl = redis.call('TTL', KEYS[2])
    return {-2, ttl > 0 and ttl or tonumber(ARGV[4])}
end

if redis.call('INCR', KEYS[1]) == 1 then
    redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
end
if redis.call('INCR', KEYS[2]) == 1 then
    redis.call('EXPIRE', KEYS[2], tonumber(ARGV[4]))
end

return {1, 0}
`)

// KEYS[1] period counter
// ARGV: limit, period seconds, tokens to add
var tokenLimitScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local to_add = tonumber(ARGV[3])
local used = tonumber(redis.call('GET', KEYS[1]) or "0")

if used + to_add > limit then
    local ttl = redis.call('TTL', KEYS[1])
    return {-1, used, limit - used, ttl > 0 and ttl or tonumber(ARGV[2])}
end

used = redis.call('INCRBY', KEYS[1], to_add)
if used == to_add then
    redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
end

return {1, used, limit - used, 0}
`)

// KEYS[1] minute counter, KEYS[2] hour counter
var refundScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
    local n = tonumber(redis.call('GET', key) or "0")
    if n > 0 then
        redis.call('DECR', key)
    end
end
return 1
`)

const (
	minuteTTL = 60
	hourTTL   = 3600
)

// Limiter handles rate limiting and token limiting
type Limiter struct {
	client *storage.Client
	now    func() time.Time
}

// NewLimiter creates a new rate limiter and preloads its scripts
func NewLimiter(ctx context.Context, client *storage.Client) (*Limiter, error) {
	if err := rateLimitScript.Load(ctx, client.Redis()).Err(); err != nil {
		return nil, fmt.Errorf("failed to load rate limit script: %w", err)
	}
	if err := tokenLimitScript.Load(ctx, client.Redis()).Err(); err != nil {
		return nil, fmt.Errorf("failed to load token limit script: %w", err)
	}
	if err := refundScript.Load(ctx, client.Redis()).Err(); err != nil {
		return nil, fmt.Errorf("failed to load refund script: %w", err)
	}

	return &Limiter{
		client: client,
		now:    time.Now,
	}, nil
}

// RateLimitResult holds the result of a rate limit check
type RateLimitResult struct {
	Allowed        bool
	SecondsToReset int
	LimitType      string // "minute" or "hour"
}

// CheckRateLimit checks and increments the request counters for clientID.
// A zero limit means unlimited.
func (l *Limiter) CheckRateLimit(ctx context.Context, clientID string, limits config.RateLimit) (*RateLimitResult, error) {
	keys := []string{
		l.client.Keys().RateLimitMinute(clientID),
		l.client.Keys().RateLimitHour(clientID),
	}

	values, err := rateLimitScript.Run(ctx, l.client.Redis(), keys,
		limits.RequestsPerMinute,
		limits.RequestsPerHour,
		minuteTTL,
		hourTTL,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	switch values[0] {
	case 1:
		return &RateLimitResult{Allowed: true}, nil
	case -1:
		return &RateLimitResult{SecondsToReset: int(values[1]), LimitType: "minute"}, nil
	case -2:
		return &RateLimitResult{SecondsToReset: int(values[1]), LimitType: "hour"}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit status: %d", values[0])
	}
}

// TokenLimitResult holds the result of a token limit check
type TokenLimitResult struct {
	Allowed         bool
	TokensUsed      int
	TokensRemaining int
	SecondsToReset  int
}

// CheckTokenLimit charges tokensToAdd against the client's budget for the
// current period, refusing the charge if it would overrun the limit.
func (l *Limiter) CheckTokenLimit(ctx context.Context, clientID string, limit config.TokenLimit, tokensToAdd int) (*TokenLimitResult, error) {
	if !limit.TokenBudgetEnabled() {
		return &TokenLimitResult{Allowed: true}, nil
	}

	periodSeconds := int64(limit.PeriodHours) * 3600
	periodStart := (l.now().Unix() / periodSeconds) * periodSeconds
	key := l.client.Keys().TokenLimit(clientID, periodStart)

	values, err := tokenLimitScript.Run(ctx, l.client.Redis(), []string{key},
		limit.TokensPerPeriod,
		periodSeconds,
		tokensToAdd,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("token limit check failed: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("unexpected token limit result format")
	}

	return &TokenLimitResult{
		Allowed:         values[0] == 1,
		TokensUsed:      int(values[1]),
		TokensRemaining: int(values[2]),
		SecondsToReset:  int(values[3]),
	}, nil
}

// RefundRequest gives back one request to clientID's minute and hour
// counters. Counters that expired in the meantime are left alone.
func (l *Limiter) RefundRequest(ctx context.Context, clientID string) error {
	keys := []string{
		l.client.Keys().RateLimitMinute(clientID),
		l.client.Keys().RateLimitHour(clientID),
	}

	if err := refundScript.Run(ctx, l.client.Redis(), keys).Err(); err != nil {
		return fmt.Errorf("refund failed: %w", err)
	}
	return nil
}
