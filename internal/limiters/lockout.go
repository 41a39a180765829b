// Package limiters holds Redis-backed counters that gate authentication
// attempts.
package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockoutConfig holds configuration for the failed-login lockout counter.
type LockoutConfig struct {
	Enabled     bool
	MaxFailures int
	// Window is the rolling period over which failures accumulate.
	Window time.Duration
}

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutLimiter counts consecutive failed credential checks per user and
// reports when the lockout threshold is reached.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	prefix string
	config LockoutConfig
}

// NewLockoutLimiter creates a lockout limiter. Keys are namespaced under
// prefix so several engines can share one Redis.
func NewLockoutLimiter(redisClient redis.UniversalClient, prefix string, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, prefix: prefix, config: cfg}
}

func (l *LockoutLimiter) key(userID string) string {
	return l.prefix + ":lock:" + userID
}

// RecordFailure increments the failure counter for a user.
// Returns true when the threshold has been reached and the caller should
// lock the account.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, userID string) (bool, error) {
	if !l.config.Enabled || userID == "" {
		return false, nil
	}

	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && l.config.Window > 0 {
		// TTL on first failure makes the counter a rolling window.
		if err := l.redis.Expire(ctx, l.key(userID), l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	return count >= int64(l.config.MaxFailures), nil
}

// Reset clears the failure counter, after a successful login or a manual
// unlock.
func (l *LockoutLimiter) Reset(ctx context.Context, userID string) error {
	if !l.config.Enabled || userID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// GetFailureCount returns the current failure count for a user.
func (l *LockoutLimiter) GetFailureCount(ctx context.Context, userID string) (int, error) {
	if !l.config.Enabled || userID == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
