package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLimited = errors.New("rate limited")
	ErrBackend = errors.New("limiter backend unavailable")
)

// FixedWindow counts events per key with INCR and expires the counter at the
// end of the window. The window starts on the first event.
type FixedWindow struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewFixedWindow(redisClient redis.UniversalClient, prefix string, limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		redis:  redisClient,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Enabled reports whether the limiter has a usable configuration. A zero
// limit or window disables throttling entirely.
func (l *FixedWindow) Enabled() bool {
	return l != nil && l.limit > 0 && l.window > 0
}

func (l *FixedWindow) key(scope string) string {
	return l.prefix + ":" + scope
}

// Check returns ErrLimited when the key has already used up its window.
func (l *FixedWindow) Check(ctx context.Context, scope string) error {
	if !l.Enabled() {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(scope)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count >= int64(l.limit) {
		return ErrLimited
	}
	return nil
}

// Record counts one event. The expiry is set only when the counter is
// created, so the window is fixed rather than sliding.
func (l *FixedWindow) Record(ctx context.Context, scope string) error {
	if !l.Enabled() {
		return nil
	}
	key := l.key(scope)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	return nil
}

// RecordAndCheck counts one event and reports ErrLimited when the count
// passes the limit, in a single round trip pair.
func (l *FixedWindow) RecordAndCheck(ctx context.Context, scope string) error {
	if !l.Enabled() {
		return nil
	}
	key := l.key(scope)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
	}
	if count > int64(l.limit) {
		return ErrLimited
	}
	return nil
}

func (l *FixedWindow) Reset(ctx context.Context, scope string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(scope)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
