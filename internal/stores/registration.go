package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRegistrationBackend = errors.New("registration progress backend unavailable")

// markRegistrationLua sets one channel bit in the per-user progress byte,
// creating the record with the given TTL when absent. The existing TTL is
// preserved on update so partial verification never extends the window.
// ARGV[1] must be a single power-of-two bit; the OR is computed
// arithmetically because the Lua bit library is not available everywhere.
// KEYS[1] = record key
// ARGV[1] = channel bit (int string)
// ARGV[2] = ttl in milliseconds (int string)
//
// Returns the updated progress byte as an integer.
var markRegistrationLua = redis.NewScript(`
local bit = tonumber(ARGV[1])
local ttlMs = tonumber(ARGV[2])

local data = redis.call('GET', KEYS[1])
if not data then
  redis.call('SET', KEYS[1], string.char(bit), 'PX', ttlMs)
  return bit
end

local current = string.byte(data, 1)
local updated = current
if math.floor(current / bit) % 2 == 0 then
  updated = current + bit
end
local remaining = redis.call('PTTL', KEYS[1])
if remaining <= 0 then
  remaining = ttlMs
end
redis.call('SET', KEYS[1], string.char(updated), 'PX', remaining)
return updated
`)

// RegistrationStore tracks which verification channels a newly registered
// user has completed, so a half-verified registration survives across calls
// and workers.
type RegistrationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRegistrationStore(redisClient redis.UniversalClient, prefix string) *RegistrationStore {
	if prefix == "" {
		prefix = "rgp"
	}
	return &RegistrationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RegistrationStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// Progress returns the completed-channel bitmask, zero when no progress
// record exists.
func (s *RegistrationStore) Progress(ctx context.Context, userID string) (uint8, error) {
	data, err := s.redis.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRegistrationBackend, err)
	}
	if len(data) == 0 {
		return 0, nil
	}
	return data[0], nil
}

// MarkDone sets the given channel bit (a single power of two) and returns
// the updated bitmask.
func (s *RegistrationStore) MarkDone(
	ctx context.Context,
	userID string,
	channelBit uint8,
	ttl time.Duration,
) (uint8, error) {
	result, err := markRegistrationLua.Run(ctx, s.redis,
		[]string{s.key(userID)},
		int(channelBit),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRegistrationBackend, err)
	}
	return uint8(result), nil
}

func (s *RegistrationStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistrationBackend, err)
	}
	return nil
}
