package castellan

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castellan/castellan/internal/limiters"
	"github.com/castellan/castellan/internal/stores"
	sessionjwt "github.com/castellan/castellan/jwt"
	"github.com/castellan/castellan/password"
)

// Builder assembles an Engine. Redis and a UserStore are mandatory; a
// missing CodeSender falls back to LogSender, which is only acceptable in
// development.
//
//	engine, err := castellan.New().
//		WithRedis(rdb).
//		WithUserStore(store).
//		WithSender(mailer).
//		Build()
type Builder struct {
	config    Config
	hasConfig bool
	redis     redis.UniversalClient
	userStore UserStore
	sender    CodeSender
	auditSink AuditSink
}

func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	b.hasConfig = true
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.userStore = store
	return b
}

func (b *Builder) WithSender(sender CodeSender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink turns auditing on and routes events to the sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires every component. The returned
// Engine is ready for concurrent use.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.hasConfig {
		cfg = DefaultConfig()
	}
	// Development convenience: outside production mode an absent hs256 key
	// gets an ephemeral one, at the cost of invalidating sessions on
	// restart.
	if !cfg.Security.ProductionMode && cfg.Session.SigningMethod == "hs256" && len(cfg.Session.PrivateKey) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("%w: generate session key: %v", ErrEngineNotReady, err)
		}
		cfg.Session.PrivateKey = key
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrEngineNotReady)
	}
	if b.userStore == nil {
		return nil, fmt.Errorf("%w: user store is required", ErrEngineNotReady)
	}
	sender := b.sender
	if sender == nil {
		if cfg.Security.ProductionMode {
			return nil, fmt.Errorf("%w: production mode requires a code sender", ErrEngineNotReady)
		}
		sender = LogSender{}
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Iterations:  cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	totpMgr, err := newTOTPManager(cfg.TOTP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	jwtMgr, err := sessionjwt.NewManager(sessionjwt.Config{
		SigningMethod: cfg.Session.SigningMethod,
		PrivateKey:    cfg.Session.PrivateKey,
		PublicKey:     cfg.Session.PublicKey,
		TokenTTL:      cfg.Session.TokenTTL,
		Issuer:        cfg.Session.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	e := &Engine{
		config:    cfg,
		userStore: b.userStore,
		sender:    sender,

		challengeStore:    stores.NewChallengeStore(b.redis, ""),
		pendingStore:      stores.NewPendingLoginStore(b.redis, ""),
		registrationStore: stores.NewRegistrationStore(b.redis, ""),

		resendLimiter:  limiters.NewFixedWindow(b.redis, "rlm:resend", cfg.OTP.MaxResendsPerHour, resendWindow),
		resendCooldown: limiters.NewFixedWindow(b.redis, "rlm:resend_cd", 1, cfg.OTP.ResendCooldown),
		totpLimiter:    limiters.NewFixedWindow(b.redis, "rlm:totp", cfg.TOTP.AttemptLimit, cfg.TOTP.AttemptCooldown),
		backupLimiter:  limiters.NewFixedWindow(b.redis, "rlm:backup", cfg.BackupCode.AttemptLimit, cfg.BackupCode.AttemptCooldown),

		hasher:     hasher,
		totp:       totpMgr,
		jwtManager: jwtMgr,
		metrics:    newMetrics(cfg.Metrics),
	}
	e.dummyHash = hasher.DummyHash()

	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = NoOpSink{}
		}
		e.audit = newAuditDispatcher(sink, cfg.Audit.BufferSize, cfg.Audit.DropIfFull)
	} else if b.auditSink != nil {
		e.audit = newAuditDispatcher(b.auditSink, cfg.Audit.BufferSize, cfg.Audit.DropIfFull)
	}

	return e, nil
}

// resendWindow is the fixed window backing OTPConfig.MaxResendsPerHour.
const resendWindow = time.Hour
