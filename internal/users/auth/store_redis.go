// Copyright (c) 2026 Veil. All rights reserved.
// Author: duyan.pham.dev@gmail.com

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAttemptLimiter implements AttemptLimiter using Redis.
//
// # Semantics
//
// Each scope key is a windowed counter: INCR plus EXPIRE on first hit. The
// window is fixed (not sliding), which is acceptable for abuse throttling.
// Keys are used verbatim; namespacing them is the caller's concern.
type RedisAttemptLimiter struct {
	client *redis.Client
}

// NewAttemptLimiter creates a new Redis-backed AttemptLimiter.
func NewAttemptLimiter(client *redis.Client) *RedisAttemptLimiter {
	return &RedisAttemptLimiter{client: client}
}

/*
Hit records one attempt and returns the running count within the window.

Parameters:
  - context: context.Context
  - key: string (scope, e.g. normalized email)
  - window: time.Duration

Returns:
  - int64: Attempt count including this hit
  - error: Execution errors
*/
func (limiter *RedisAttemptLimiter) Hit(context context.Context, key string, window time.Duration) (int64, error) {
	count, err := limiter.client.Incr(context, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis_attempt_limiter_incr_failed: %w", err)
	}

	// First hit opens the window.
	if count == 1 {
		if err := limiter.client.Expire(context, key, window).Err(); err != nil {
			return 0, fmt.Errorf("redis_attempt_limiter_expire_failed: %w", err)
		}
	}

	return count, nil
}

/*
Reset clears the attempt counter for the scope key.

Parameters:
  - context: context.Context
  - key: string

Returns:
  - error: Execution errors
*/
func (limiter *RedisAttemptLimiter) Reset(context context.Context, key string) error {
	if err := limiter.client.Del(context, key).Err(); err != nil {
		return fmt.Errorf("redis_attempt_limiter_reset_failed: %w", err)
	}

	return nil
}
