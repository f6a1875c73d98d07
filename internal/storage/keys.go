package storage

import (
	"fmt"
)

// Keys generates Redis keys with consistent naming
type Keys struct {
	prefix string
}

// NewKeys creates a new Keys generator
func NewKeys(prefix string) *Keys {
	return &Keys{prefix: prefix}
}

// RateLimitMinute returns the key for per-minute rate limiting
func (k *Keys) RateLimitMinute(clientID string) string {
	return fmt.Sprintf("%sratelimit:%s:minute", k.prefix, clientID)
}

// RateLimitHour returns the key for per-hour rate limiting
func (k *Keys) RateLimitHour(clientID string) string {
	return fmt.Sprintf("%sratelimit:%s:hour", k.prefix, clientID)
}

// TokenLimit returns the key for token usage in the period starting at periodStart
func (k *Keys) TokenLimit(clientID string, periodStart int64) string {
	return fmt.Sprintf("%stokens:%s:%d", k.prefix, clientID, periodStart)
}
