package castellan

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// memoryUserStore is a map-backed UserStore for tests.
type memoryUserStore struct {
	mu     sync.Mutex
	users  map[string]*UserRecord // by userID
	totp   map[string]*TOTPRecord
	backup map[string][]BackupCodeRecord
	nextID int
}

func newMemoryUserStore() *memoryUserStore {
	return &memoryUserStore{
		users:  make(map[string]*UserRecord),
		totp:   make(map[string]*TOTPRecord),
		backup: make(map[string][]BackupCodeRecord),
	}
}

func (s *memoryUserStore) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Identifier == identifier {
			return *u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (s *memoryUserStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return *u, nil
}

func (s *memoryUserStore) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Identifier == input.Identifier || (input.Email != "" && u.Email == input.Email) {
			return UserRecord{}, ErrDuplicateIdentifier
		}
	}
	s.nextID++
	u := &UserRecord{
		UserID:       fmt.Sprintf("u-%d", s.nextID),
		Identifier:   input.Identifier,
		Email:        input.Email,
		Phone:        input.Phone,
		PasswordHash: input.PasswordHash,
		Verified:     input.Verified,
	}
	s.users[u.UserID] = u
	return *u, nil
}

func (s *memoryUserStore) MarkVerified(_ context.Context, userID string) error {
	return s.mutate(userID, func(u *UserRecord) { u.Verified = true })
}

func (s *memoryUserStore) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	return s.mutate(userID, func(u *UserRecord) { u.PasswordHash = newHash })
}

func (s *memoryUserStore) SetLockout(_ context.Context, userID string, attempts int, until time.Time) error {
	return s.mutate(userID, func(u *UserRecord) {
		u.FailedPasswordAttempts = attempts
		u.LockedUntil = until
	})
}

func (s *memoryUserStore) ResetLockout(_ context.Context, userID string) error {
	return s.mutate(userID, func(u *UserRecord) {
		u.FailedPasswordAttempts = 0
		u.LockedUntil = time.Time{}
	})
}

func (s *memoryUserStore) SetLastLogin(_ context.Context, userID string, at time.Time) error {
	return s.mutate(userID, func(u *UserRecord) { u.LastLogin = at })
}

func (s *memoryUserStore) GetTOTPSecret(_ context.Context, userID string) (*TOTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	rec, ok := s.totp[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memoryUserStore) SaveTOTPSecret(_ context.Context, userID string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	s.totp[userID] = &TOTPRecord{Secret: append([]byte(nil), secret...)}
	return nil
}

func (s *memoryUserStore) EnableTOTP(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.Enabled = true
	if u, ok := s.users[userID]; ok {
		u.TOTPEnabled = true
	}
	return nil
}

func (s *memoryUserStore) DisableTOTP(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.totp, userID)
	if u, ok := s.users[userID]; ok {
		u.TOTPEnabled = false
	}
	return nil
}

func (s *memoryUserStore) UpdateTOTPLastUsedCounter(_ context.Context, userID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[userID]
	if !ok {
		return ErrUserNotFound
	}
	rec.LastUsedCounter = counter
	return nil
}

func (s *memoryUserStore) GetBackupCodes(_ context.Context, userID string) ([]BackupCodeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUserNotFound
	}
	return append([]BackupCodeRecord(nil), s.backup[userID]...), nil
}

func (s *memoryUserStore) ReplaceBackupCodes(_ context.Context, userID string, codes []BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	s.backup[userID] = append([]BackupCodeRecord(nil), codes...)
	return nil
}

func (s *memoryUserStore) ConsumeBackupCode(_ context.Context, userID string, codeHash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backup[userID]
	for i, rec := range codes {
		if rec.Hash == codeHash {
			s.backup[userID] = append(codes[:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryUserStore) mutate(userID string, fn func(*UserRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

// sentCode is one delivery captured by recordingSender.
type sentCode struct {
	Destination string
	Channel     Channel
	Code        string
	Purpose     string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentCode
	fail error
}

func (s *recordingSender) Send(_ context.Context, destination string, channel Channel, code, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, sentCode{destination, channel, code, purpose})
	return nil
}

// lastCode returns the most recent code delivered on a channel.
func (s *recordingSender) lastCode(channel Channel) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].Channel == channel {
			return s.sent[i].Code
		}
	}
	return ""
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type testEnv struct {
	engine *Engine
	store  *memoryUserStore
	sender *recordingSender
	redis  *miniredis.Miniredis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	// Cheap hashing keeps the suite fast.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Security.EnumerationSafeDelay = 0
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemoryUserStore()
	sender := &recordingSender{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		WithSender(sender).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: store, sender: sender, redis: mr}
}

// seedUser creates a verified user with the given password directly in the
// store.
func (env *testEnv) seedUser(t *testing.T, identifier, email, phone, pw string) UserRecord {
	t.Helper()
	hash, err := env.engine.hasher.Hash(pw)
	require.NoError(t, err)
	user, err := env.store.CreateUser(context.Background(), CreateUserInput{
		Identifier:   identifier,
		Email:        email,
		Phone:        phone,
		PasswordHash: hash,
		Verified:     true,
	})
	require.NoError(t, err)
	return user
}
