// Package ratelimit provides Redis fixed-window throttles for credential endpoints.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Config is a fixed window: at most MaxAttempts counted events per key per Window.
type Config struct {
	Prefix      string
	MaxAttempts int
	Window      time.Duration
}

// Limiter counts events per key in Redis. A nil *Limiter or one without a
// client allows everything, which is how throttling is disabled.
type Limiter struct {
	redis redis.UniversalClient
	cfg   Config
}

// New returns a Limiter. Zero MaxAttempts or Window fall back to 5 per 15 minutes.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &Limiter{redis: client, cfg: cfg}
}

func (l *Limiter) enabled() bool { return l != nil && l.redis != nil }

func (l *Limiter) key(id string) string {
	return l.cfg.Prefix + ":" + strings.ToLower(strings.TrimSpace(id))
}

// Blocked returns the remaining wait when id has reached the limit, or zero.
func (l *Limiter) Blocked(ctx context.Context, id string) (time.Duration, error) {
	if !l.enabled() {
		return 0, nil
	}
	k := l.key(id)
	count, err := l.redis.Get(ctx, k).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < int64(l.cfg.MaxAttempts) {
		return 0, nil
	}
	return l.ttl(ctx, k)
}

// Record counts one event for id. The window starts with the first event.
func (l *Limiter) Record(ctx context.Context, id string) error {
	if !l.enabled() {
		return nil
	}
	_, err := l.incr(ctx, l.key(id))
	return err
}

// Allow counts one event and returns the remaining wait if the event exceeds the limit.
func (l *Limiter) Allow(ctx context.Context, id string) (time.Duration, error) {
	if !l.enabled() {
		return 0, nil
	}
	k := l.key(id)
	count, err := l.incr(ctx, k)
	if err != nil {
		return 0, err
	}
	if count <= int64(l.cfg.MaxAttempts) {
		return 0, nil
	}
	return l.ttl(ctx, k)
}

// Reset clears the counter for id.
func (l *Limiter) Reset(ctx context.Context, id string) error {
	if !l.enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *Limiter) incr(ctx context.Context, k string) (int64, error) {
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.cfg.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return count, nil
}

func (l *Limiter) ttl(ctx context.Context, k string) (time.Duration, error) {
	d, err := l.redis.TTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case d == -2:
		// Expired between the read and TTL.
		return 0, nil
	case d < 0:
		// EXPIRE was lost after INCR; restart the window so the key cannot block forever.
		if err := l.redis.Expire(ctx, k, l.cfg.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return l.cfg.Window, nil
	case d == 0:
		return time.Second, nil
	}
	return d, nil
}
