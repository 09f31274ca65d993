package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingLoginRecordVersion1 = 1
)

// Channel bits inside PendingLogin.Required and PendingLogin.Done.
const (
	ChannelBitEmail uint8 = 1 << iota
	ChannelBitSMS
	ChannelBitTOTP
)

var (
	ErrPendingLoginNotFound = errors.New("pending login not found")
	ErrPendingLoginExpired  = errors.New("pending login expired")
	ErrPendingLoginExceeded = errors.New("pending login attempts exceeded")
	ErrPendingLoginBackend  = errors.New("pending login backend unavailable")
)

// PendingLogin holds the state of a password-verified login awaiting its
// second factor. Required and Done are channel bitmasks; the login completes
// when Done covers Required.
type PendingLogin struct {
	UserID    string
	ExpiresAt int64
	Attempts  uint16
	Required  uint8
	Done      uint8
}

func (p *PendingLogin) Complete() bool {
	return p.Done&p.Required == p.Required
}

type PendingLoginStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPendingLoginStore(redisClient redis.UniversalClient, prefix string) *PendingLoginStore {
	if prefix == "" {
		prefix = "plc"
	}
	return &PendingLoginStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PendingLoginStore) key(sessionRef string) string {
	return s.prefix + ":" + sessionRef
}

func (s *PendingLoginStore) Save(
	ctx context.Context,
	sessionRef string,
	record *PendingLogin,
	ttl time.Duration,
) error {
	encoded, err := encodePendingLogin(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sessionRef), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
	}
	return nil
}

func (s *PendingLoginStore) Get(ctx context.Context, sessionRef string) (*PendingLogin, error) {
	data, err := s.redis.Get(ctx, s.key(sessionRef)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingLoginNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
	}

	record, err := decodePendingLogin(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(sessionRef)).Result()
		return nil, ErrPendingLoginExpired
	}
	return record, nil
}

func (s *PendingLoginStore) Delete(ctx context.Context, sessionRef string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(sessionRef)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
	}
	return n > 0, nil
}

// MarkDone sets the given channel bits and returns the updated record. The
// update runs under WATCH so two workers verifying different channels of the
// same login cannot lose each other's progress.
func (s *PendingLoginStore) MarkDone(
	ctx context.Context,
	sessionRef string,
	channelBits uint8,
) (*PendingLogin, error) {
	var updated *PendingLogin
	err := s.update(ctx, sessionRef, func(record *PendingLogin) error {
		record.Done |= channelBits
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RecordFailure increments the attempt counter and reports whether the cap
// was reached. The caller decides what to do with an exceeded record;
// Delete puts the user back at the password step.
func (s *PendingLoginStore) RecordFailure(
	ctx context.Context,
	sessionRef string,
	maxAttempts int,
) (bool, error) {
	exceeded := false
	err := s.update(ctx, sessionRef, func(record *PendingLogin) error {
		record.Attempts++
		if int(record.Attempts) >= maxAttempts {
			exceeded = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return exceeded, nil
}

func (s *PendingLoginStore) update(
	ctx context.Context,
	sessionRef string,
	mutate func(*PendingLogin) error,
) error {
	const maxRetries = 4
	key := s.key(sessionRef)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePendingLogin(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrPendingLoginExpired
			}

			if err := mutate(record); err != nil {
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrPendingLoginExpired
			}

			updated, err := encodePendingLogin(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrPendingLoginNotFound
			}
			if errors.Is(err, ErrPendingLoginExpired) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrPendingLoginBackend, err)
		}
		return nil
	}

	return ErrPendingLoginNotFound
}

func encodePendingLogin(record *PendingLogin) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingLoginRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.WriteByte(record.Required)
	buf.WriteByte(record.Done)

	if len(record.UserID) > 65535 {
		return nil, errors.New("pending login user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)

	return buf.Bytes(), nil
}

func decodePendingLogin(data []byte) (*PendingLogin, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingLoginRecordVersion1 {
		return nil, errors.New("invalid pending login version")
	}

	record := &PendingLogin{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.Required, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if record.Done, err = reader.ReadByte(); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, err
	}
	record.UserID = string(user)

	return record, nil
}
