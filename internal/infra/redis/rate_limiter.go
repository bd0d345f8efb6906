package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter. The API uses it to bound manual
// reconciliation calls per operator.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow counts one hit against key and reports whether it is within limit
// for the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.IncrWindow(ctx, key, window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

func OperatorActionKey(subject, action string) string {
	return fmt.Sprintf("rate_limit:%s:%s", subject, action)
}
