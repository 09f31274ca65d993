package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limiterTest(t *testing.T, limit int, window time.Duration) (*FixedWindow, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFixedWindow(rdb, "test", limit, window), mr
}

func TestFixedWindowCheckAndRecord(t *testing.T) {
	l, _ := limiterTest(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "u-1"))
	require.NoError(t, l.Record(ctx, "u-1"))
	require.NoError(t, l.Check(ctx, "u-1"))
	require.NoError(t, l.Record(ctx, "u-1"))

	assert.ErrorIs(t, l.Check(ctx, "u-1"), ErrLimited)

	// Scopes are independent.
	assert.NoError(t, l.Check(ctx, "u-2"))
}

func TestFixedWindowRecordAndCheck(t *testing.T) {
	l, _ := limiterTest(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.RecordAndCheck(ctx, "u-1"))
	require.NoError(t, l.RecordAndCheck(ctx, "u-1"))
	assert.ErrorIs(t, l.RecordAndCheck(ctx, "u-1"), ErrLimited)
}

func TestFixedWindowExpiry(t *testing.T) {
	l, mr := limiterTest(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.RecordAndCheck(ctx, "u-1"))
	assert.ErrorIs(t, l.RecordAndCheck(ctx, "u-1"), ErrLimited)

	mr.FastForward(2 * time.Minute)
	assert.NoError(t, l.RecordAndCheck(ctx, "u-1"))
}

func TestFixedWindowReset(t *testing.T) {
	l, _ := limiterTest(t, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.RecordAndCheck(ctx, "u-1"))
	assert.ErrorIs(t, l.Check(ctx, "u-1"), ErrLimited)

	require.NoError(t, l.Reset(ctx, "u-1"))
	assert.NoError(t, l.Check(ctx, "u-1"))
}

func TestFixedWindowDisabled(t *testing.T) {
	l, _ := limiterTest(t, 0, time.Minute)
	ctx := context.Background()

	assert.False(t, l.Enabled())
	assert.NoError(t, l.Check(ctx, "u-1"))
	assert.NoError(t, l.RecordAndCheck(ctx, "u-1"))
}
