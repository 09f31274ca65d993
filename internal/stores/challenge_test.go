package stores

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan/castellan/internal"
)

func challengeTestStore(t *testing.T) (*ChallengeStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewChallengeStore(rdb, ""), mr
}

func saveChallenge(t *testing.T, s *ChallengeStore, userID, purpose, code string, ttl time.Duration) {
	t.Helper()
	err := s.Save(context.Background(), userID, purpose, &ChallengeRecord{
		CodeHash:  internal.HashCode(code),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}, ttl)
	require.NoError(t, err)
}

func TestChallengeConsumeSuccess(t *testing.T) {
	s, _ := challengeTestStore(t)
	saveChallenge(t, s, "u-1", "login:email", "123456", time.Minute)

	rec, err := s.Consume(context.Background(), "u-1", "login:email", internal.HashCode("123456"), 3)
	require.NoError(t, err)
	assert.Equal(t, internal.HashCode("123456"), rec.CodeHash)

	// Consumed means gone.
	_, err = s.Consume(context.Background(), "u-1", "login:email", internal.HashCode("123456"), 3)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallengeConsumeWrongCodeCountsAttempts(t *testing.T) {
	s, _ := challengeTestStore(t)
	saveChallenge(t, s, "u-1", "login:email", "123456", time.Minute)

	ctx := context.Background()
	_, err := s.Consume(ctx, "u-1", "login:email", internal.HashCode("000000"), 3)
	assert.ErrorIs(t, err, ErrChallengeCodeMismatch)
	_, err = s.Consume(ctx, "u-1", "login:email", internal.HashCode("000000"), 3)
	assert.ErrorIs(t, err, ErrChallengeCodeMismatch)

	// The miss that reaches the cap reports exhaustion.
	_, err = s.Consume(ctx, "u-1", "login:email", internal.HashCode("000000"), 3)
	assert.ErrorIs(t, err, ErrChallengeAttemptsExceeded)

	// Correct code after exhaustion is still refused; the record stays until
	// its TTL so the caller keeps seeing the exhaustion, not a fresh miss.
	_, err = s.Consume(ctx, "u-1", "login:email", internal.HashCode("123456"), 3)
	assert.ErrorIs(t, err, ErrChallengeAttemptsExceeded)
}

func TestChallengeConsumeExpired(t *testing.T) {
	s, _ := challengeTestStore(t)

	// Record timestamp in the past, Redis TTL still alive.
	err := s.Save(context.Background(), "u-1", "login:email", &ChallengeRecord{
		CodeHash:  internal.HashCode("123456"),
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}, time.Hour)
	require.NoError(t, err)

	_, err = s.Consume(context.Background(), "u-1", "login:email", internal.HashCode("123456"), 3)
	assert.ErrorIs(t, err, ErrChallengeExpired)

	// The expired record is removed on the failed consume.
	_, err = s.Consume(context.Background(), "u-1", "login:email", internal.HashCode("123456"), 3)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallengeConsumeMissing(t *testing.T) {
	s, _ := challengeTestStore(t)
	_, err := s.Consume(context.Background(), "u-1", "login:email", internal.HashCode("123456"), 3)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallengeSaveReplacesOutstanding(t *testing.T) {
	s, _ := challengeTestStore(t)
	ctx := context.Background()

	saveChallenge(t, s, "u-1", "login:email", "111111", time.Minute)
	saveChallenge(t, s, "u-1", "login:email", "222222", time.Minute)

	_, err := s.Consume(ctx, "u-1", "login:email", internal.HashCode("111111"), 3)
	assert.ErrorIs(t, err, ErrChallengeCodeMismatch)

	_, err = s.Consume(ctx, "u-1", "login:email", internal.HashCode("222222"), 3)
	assert.NoError(t, err)
}

func TestChallengePurposeIsolation(t *testing.T) {
	s, _ := challengeTestStore(t)
	ctx := context.Background()

	saveChallenge(t, s, "u-1", "login:email", "111111", time.Minute)
	saveChallenge(t, s, "u-1", "login:sms", "222222", time.Minute)

	_, err := s.Consume(ctx, "u-1", "login:sms", internal.HashCode("222222"), 3)
	require.NoError(t, err)

	// The email challenge is untouched.
	_, err = s.Consume(ctx, "u-1", "login:email", internal.HashCode("111111"), 3)
	assert.NoError(t, err)
}

func TestChallengeTTLExpiry(t *testing.T) {
	s, mr := challengeTestStore(t)
	saveChallenge(t, s, "u-1", "login:email", "123456", time.Minute)

	mr.FastForward(2 * time.Minute)

	_, err := s.Consume(context.Background(), "u-1", "login:email", internal.HashCode("123456"), 3)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestChallengeRecordCodec(t *testing.T) {
	rec := &ChallengeRecord{
		CodeHash:  internal.HashCode("123456"),
		ExpiresAt: 1790000000,
		Attempts:  2,
	}
	decoded, err := decodeChallengeRecord(encodeChallengeRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	_, err = decodeChallengeRecord([]byte{0xFF, 0x00})
	assert.Error(t, err)
}
