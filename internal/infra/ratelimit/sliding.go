package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"pulse/internal/domain/engagement"

	"github.com/redis/go-redis/v9"
)

var _ engagement.ActionLimiter = (*SlidingWindowLimiter)(nil)

// WindowConfig bounds one action category.
type WindowConfig struct {
	Max    int
	Window time.Duration
}

// SlidingWindowLimiter enforces per-user action ceilings using Redis
// sorted sets: each accepted action is a member scored by its timestamp,
// so the window slides continuously and resets independently of the
// interaction buffer.
type SlidingWindowLimiter struct {
	client     *redis.Client
	categories map[string]WindowConfig
}

// NewSlidingWindowLimiter creates a Redis-backed sliding window limiter.
func NewSlidingWindowLimiter(client *redis.Client, categories map[string]WindowConfig) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client:     client,
		categories: categories,
	}
}

// Allow checks whether subject may perform another action in category.
// Unknown categories are unrestricted.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, subject, category string) (bool, error) {
	cfg, ok := l.categories[category]
	if !ok || cfg.Max <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("pulse:ratelimit:%s:%s", category, subject)
	now := time.Now()
	windowStart := now.Add(-cfg.Window)

	pipe := l.client.Pipeline()

	// Remove expired entries (outside the sliding window)
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))

	// Count remaining entries in the window
	countCmd := pipe.ZCard(ctx, key)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("checking action rate limit: %w", err)
	}

	if countCmd.Val() >= int64(cfg.Max) {
		return false, nil
	}

	// Generate a unique member to avoid collisions on concurrent requests
	randBytes := make([]byte, 4)
	_, _ = rand.Read(randBytes)
	member := redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d:%s", now.UnixNano(), hex.EncodeToString(randBytes)),
	}

	pipe2 := l.client.Pipeline()
	pipe2.ZAdd(ctx, key, member)
	pipe2.Expire(ctx, key, cfg.Window+time.Minute) // TTL slightly longer than window for cleanup

	if _, err := pipe2.Exec(ctx); err != nil {
		return false, fmt.Errorf("recording rate limit entry: %w", err)
	}

	return true, nil
}
