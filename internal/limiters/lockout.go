package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the platform sensor lockout ledger.
type LockoutConfig struct {
	Enabled   bool
	Prefix    string
	Threshold int
	Duration  time.Duration // 0 = cleared only by a successful authentication
}

var (
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutLimiter tracks consecutive failed recognitions per sensor scope and
// reports when the platform lockout threshold is reached.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "bk"
	}
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) key(scope string) string {
	return l.config.Prefix + ":alo:" + scope
}

// RecordFailure increments the failure counter for a scope.
// Returns true if the threshold has been reached (the sensor should lock out).
func (l *LockoutLimiter) RecordFailure(ctx context.Context, scope string) (bool, error) {
	if l == nil || !l.config.Enabled || scope == "" {
		return false, nil
	}

	count, err := l.redis.Incr(ctx, l.key(scope)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && l.config.Duration > 0 {
		// The TTL starts with the first failure, so the window rolls from there.
		if err := l.redis.Expire(ctx, l.key(scope), l.config.Duration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	return count >= int64(l.config.Threshold), nil
}

// Locked reports whether the scope is currently at or above the threshold.
func (l *LockoutLimiter) Locked(ctx context.Context, scope string) (bool, error) {
	count, err := l.GetFailureCount(ctx, scope)
	if err != nil {
		return false, err
	}
	if l == nil || !l.config.Enabled {
		return false, nil
	}
	return count >= l.config.Threshold, nil
}

// Reset clears the failure counter for a scope (after a successful authentication).
func (l *LockoutLimiter) Reset(ctx context.Context, scope string) error {
	if l == nil || !l.config.Enabled || scope == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(scope)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// GetFailureCount returns the current failure count for a scope.
func (l *LockoutLimiter) GetFailureCount(ctx context.Context, scope string) (int, error) {
	if l == nil || !l.config.Enabled || scope == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(scope)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
