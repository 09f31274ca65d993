package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersionV1 = 1
)

var (
	ErrChallengeNotFound         = errors.New("challenge not found")
	ErrChallengeExpired          = errors.New("challenge expired")
	ErrChallengeCodeMismatch     = errors.New("challenge code mismatch")
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrChallengeRedisUnavailable = errors.New("challenge redis unavailable")
)

// consumeChallengeLua atomically performs GET→validate→DEL/SET on a
// challenge record so two concurrent verifications cannot both consume the
// same code.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = max attempts (int string)
// ARGV[3] = current unix timestamp (int string)
//
// Returns:
//
//	record bytes on success
//	error string: "not_found", "expired", "attempts_exceeded", "code_mismatch"
//
// A record that reaches the attempt cap is kept (with its TTL) rather than
// deleted, so later attempts keep reporting attempts_exceeded instead of
// degrading to not_found.
var consumeChallengeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local maxAttempts = tonumber(ARGV[2])
local nowUnix = tonumber(ARGV[3])

-- Minimal binary decode: version(1) attempts(2 big-endian) expiresAt(8 big-endian) codeHash(32)
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local a0 = string.byte(data, 2)
local a1 = string.byte(data, 3)
local attempts = a0 * 256 + a1

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 4, 11)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='expired'}
end

if attempts >= maxAttempts then
  return {err='attempts_exceeded'}
end

local storedHash = string.sub(data, 12, 43)

if storedHash ~= providedHash then
  attempts = attempts + 1
  local newA0 = math.floor(attempts / 256)
  local newA1 = attempts % 256
  local newData = string.sub(data, 1, 1) .. string.char(newA0, newA1) .. string.sub(data, 4)
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    redis.call('DEL', KEYS[1])
    return {err='expired'}
  end
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  if attempts >= maxAttempts then
    return {err='attempts_exceeded'}
  end
  return {err='code_mismatch'}
end

redis.call('DEL', KEYS[1])
return data
`)

// ChallengeRecord is one outstanding one-time code for a (user, purpose)
// pair. Only the SHA-256 of the code is stored.
type ChallengeRecord struct {
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// ChallengeStore keys one record per (user, purpose), so issuing a fresh
// code replaces the outstanding one.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(redisClient redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "occ"
	}
	return &ChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ChallengeStore) key(userID, purpose string) string {
	return s.prefix + ":" + userID + ":" + purpose
}

func (s *ChallengeStore) Save(
	ctx context.Context,
	userID, purpose string,
	record *ChallengeRecord,
	ttl time.Duration,
) error {
	encoded := encodeChallengeRecord(record)
	if err := s.redis.Set(ctx, s.key(userID, purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

func (s *ChallengeStore) Consume(
	ctx context.Context,
	userID, purpose string,
	providedHash [32]byte,
	maxAttempts int,
) (*ChallengeRecord, error) {
	key := s.key(userID, purpose)
	nowUnix := time.Now().Unix()

	result, err := consumeChallengeLua.Run(ctx, s.redis,
		[]string{key},
		string(providedHash[:]),
		maxAttempts,
		nowUnix,
	).Result()

	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrChallengeNotFound
		case "expired":
			return nil, ErrChallengeExpired
		case "attempts_exceeded":
			return nil, ErrChallengeAttemptsExceeded
		case "code_mismatch":
			return nil, ErrChallengeCodeMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrChallengeRedisUnavailable)
	}

	record, decErr := decodeChallengeRecord([]byte(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, decErr)
	}

	// Final constant-time comparison in Go as defense-in-depth
	// (Lua already checked, but Lua string comparison is not constant-time)
	if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
		return nil, ErrChallengeCodeMismatch
	}

	return record, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, userID, purpose string) error {
	if err := s.redis.Del(ctx, s.key(userID, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeRedisUnavailable, err)
	}
	return nil
}

func encodeChallengeRecord(record *ChallengeRecord) []byte {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)
	_ = binary.Write(&buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, record.ExpiresAt)
	buf.Write(record.CodeHash[:])

	return buf.Bytes()
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
