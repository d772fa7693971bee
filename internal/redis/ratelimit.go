package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Rate limiting key pattern:
// - ratelimit:{caller}:sends - fixed window, per-caller outbound send limit

// RateLimitConfig contains configuration for rate limiting
type RateLimitConfig struct {
	SendLimit  int           // Max sends per window
	SendWindow time.Duration // Send rate limit window
}

// DefaultRateLimitConfig returns the deployed defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		SendLimit:  10, // 10 sends per minute per caller
		SendWindow: 60 * time.Second,
	}
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	client *goredis.Client
	config RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed   bool          // Whether the action is allowed
	Remaining int           // Remaining actions in the window
	ResetIn   time.Duration // Time until the window resets
	Limit     int           // The limit for this action
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *goredis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		config: config,
	}
}

// AllowSend checks and consumes one send slot for the caller
func (r *RateLimiter) AllowSend(ctx context.Context, caller string) (*RateLimitResult, error) {
	key := fmt.Sprintf("ratelimit:%s:sends", caller)
	return r.checkLimit(ctx, key, r.config.SendLimit, r.config.SendWindow)
}

// checkLimit performs the atomic check-and-increment
func (r *RateLimiter) checkLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	script := goredis.NewScript(`
		local key = KEYS[1]
		local limit = tonumber(ARGV[1])
		local window = tonumber(ARGV[2])

		local current = redis.call('GET', key)
		if current == false then
			current = 0
		else
			current = tonumber(current)
		end

		local ttl = redis.call('TTL', key)
		if ttl < 0 then
			ttl = window
		end

		if current < limit then
			redis.call('INCR', key)
			if ttl == window then
				redis.call('EXPIRE', key, window)
			end
			return {1, limit - current - 1, ttl}
		else
			return {0, 0, ttl}
		end
	`)

	result, err := script.Run(ctx, r.client, []string{key}, limit, int(window.Seconds())).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) < 3 {
		return nil, fmt.Errorf("unexpected rate limit result format")
	}

	allowed := resultSlice[0].(int64) == 1
	remaining := int(resultSlice[1].(int64))
	resetIn := time.Duration(resultSlice[2].(int64)) * time.Second

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetIn:   resetIn,
		Limit:     limit,
	}, nil
}

// Reset clears the rate limit state for a caller (admin operation)
func (r *RateLimiter) Reset(ctx context.Context, caller string) error {
	return r.client.Del(ctx, fmt.Sprintf("ratelimit:%s:sends", caller)).Err()
}
