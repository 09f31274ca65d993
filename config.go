package castellan

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. Start from [DefaultConfig]
// and override the fields you need; [Builder.WithConfig] replaces the
// defaults wholesale.
type Config struct {
	Session      SessionConfig
	Password     PasswordConfig
	OTP          OTPConfig
	TOTP         TOTPConfig
	BackupCode   BackupCodeConfig
	MFA          MFAConfig
	Lockout      LockoutConfig
	Registration RegistrationConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
	Security     SecurityConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session token issued on full authentication.
// The token is a signed JWT; transport (cookies, headers) is the caller's
// concern.
type SessionConfig struct {
	TokenTTL      time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id parameters for password hashing.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls one-time codes delivered by email and SMS. Issuing a
// new code for the same (user, purpose) replaces the outstanding one.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int

	// ResendCooldown bounds how often a fresh code may be requested per
	// (user, channel). Zero disables the throttle.
	ResendCooldown    time.Duration
	MaxResendsPerHour int
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls authenticator-app enrollment and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"
	Skew      int

	// EnforceReplayProtection rejects a code at or before the last accepted
	// time step, making each step single-use.
	EnforceReplayProtection bool

	AttemptLimit    int
	AttemptCooldown time.Duration
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

// BackupCodeConfig controls the single-use recovery codes generated when
// TOTP is enabled.
type BackupCodeConfig struct {
	Count           int
	Length          int
	AttemptLimit    int
	AttemptCooldown time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls the second-factor step of login. Channels lists the
// OTP delivery channels required for every MFA login; the totp channel is
// added automatically for accounts with an enrolled authenticator.
type MFAConfig struct {
	Enabled  bool
	Channels []Channel

	PendingSessionTTL time.Duration
	MaxAttempts       int
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the consecutive-password-failure lockout. State is
// persisted on the user record through [UserStore.SetLockout].
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig controls account creation and the dual-channel
// verification that follows it.
type RegistrationConfig struct {
	RequireEmailVerification bool
	RequireSMSVerification   bool

	// ProgressTTL bounds how long a half-verified registration keeps its
	// per-channel progress before the user must start over.
	ProgressTTL time.Duration

	MinPasswordLength int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the structured audit trail.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process atomic counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds cross-cutting hardening switches.
type SecurityConfig struct {
	ProductionMode bool

	// EnumerationSafeDelay is slept on the unknown-identifier login path so
	// it costs roughly the same as a real password verification.
	EnumerationSafeDelay time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration the Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			TokenTTL:      30 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "castellan",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		OTP: OTPConfig{
			Digits:            6,
			TTL:               10 * time.Minute,
			MaxAttempts:       3,
			ResendCooldown:    time.Minute,
			MaxResendsPerHour: 6,
		},
		TOTP: TOTPConfig{
			Issuer:                  "castellan",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			AttemptLimit:            5,
			AttemptCooldown:         time.Minute,
		},
		BackupCode: BackupCodeConfig{
			Count:           10,
			Length:          10,
			AttemptLimit:    5,
			AttemptCooldown: 10 * time.Minute,
		},
		MFA: MFAConfig{
			Enabled:           true,
			Channels:          []Channel{ChannelEmail, ChannelSMS},
			PendingSessionTTL: 5 * time.Minute,
			MaxAttempts:       5,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Registration: RegistrationConfig{
			RequireEmailVerification: true,
			RequireSMSVerification:   true,
			ProgressTTL:              24 * time.Hour,
			MinPasswordLength:        8,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode:       false,
			EnumerationSafeDelay: 50 * time.Millisecond,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	if len(cfg.MFA.Channels) > 0 {
		out.MFA.Channels = append([]Channel(nil), cfg.MFA.Channels...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for hard errors and, in ProductionMode,
// for settings that weaken the engine below an acceptable floor.
func (c *Config) Validate() error {
	// Session
	if c.Session.TokenTTL <= 0 {
		return errors.New("Session TokenTTL must be > 0")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.PrivateKey) == 0 {
			return errors.New("hs256 requires Session PrivateKey")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 || len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires Session PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Session SigningMethod")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.ResendCooldown < 0 {
		return errors.New("OTP ResendCooldown must be >= 0")
	}
	if c.OTP.MaxResendsPerHour < 0 {
		return errors.New("OTP MaxResendsPerHour must be >= 0")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("TOTP Skew must be >= 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}
	if c.TOTP.AttemptLimit <= 0 {
		return errors.New("TOTP AttemptLimit must be > 0")
	}
	if c.TOTP.AttemptCooldown <= 0 {
		return errors.New("TOTP AttemptCooldown must be > 0")
	}

	// Backup codes
	if c.BackupCode.Count <= 0 {
		return errors.New("BackupCode Count must be > 0")
	}
	if c.BackupCode.Length < 6 {
		return errors.New("BackupCode Length must be >= 6")
	}
	if c.BackupCode.AttemptLimit <= 0 {
		return errors.New("BackupCode AttemptLimit must be > 0")
	}
	if c.BackupCode.AttemptCooldown <= 0 {
		return errors.New("BackupCode AttemptCooldown must be > 0")
	}

	// MFA
	if c.MFA.Enabled {
		if len(c.MFA.Channels) == 0 {
			return errors.New("MFA Channels must not be empty when MFA is enabled")
		}
		for _, ch := range c.MFA.Channels {
			switch ch {
			case ChannelEmail, ChannelSMS:
				// valid
			case ChannelTOTP:
				return errors.New("MFA Channels lists delivery channels; totp is implied by enrollment")
			default:
				return errors.New("MFA Channels contains an unknown channel")
			}
		}
		if c.MFA.PendingSessionTTL <= 0 {
			return errors.New("MFA PendingSessionTTL must be > 0")
		}
		if c.MFA.MaxAttempts <= 0 {
			return errors.New("MFA MaxAttempts must be > 0")
		}
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}

	// Registration
	if c.Registration.ProgressTTL <= 0 {
		return errors.New("Registration ProgressTTL must be > 0")
	}
	if c.Registration.MinPasswordLength < 8 {
		return errors.New("Registration MinPasswordLength must be >= 8")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Security
	if c.Security.EnumerationSafeDelay < 0 {
		return errors.New("Security EnumerationSafeDelay must be >= 0")
	}

	if c.Security.ProductionMode {
		if c.Session.SigningMethod == "hs256" && len(c.Session.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.Session.TokenTTL > 24*time.Hour {
			return errors.New("ProductionMode requires Session TokenTTL <= 24h")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if c.OTP.TTL > 15*time.Minute {
			return errors.New("ProductionMode requires OTP TTL <= 15m")
		}
		if c.OTP.MaxAttempts > 5 {
			return errors.New("ProductionMode requires OTP MaxAttempts <= 5")
		}
		if c.OTP.ResendCooldown <= 0 || c.OTP.MaxResendsPerHour <= 0 {
			return errors.New("ProductionMode requires OTP resend throttling")
		}
		if c.TOTP.Skew > 2 {
			return errors.New("ProductionMode requires TOTP Skew <= 2")
		}
		if !c.TOTP.EnforceReplayProtection {
			return errors.New("ProductionMode requires TOTP EnforceReplayProtection")
		}
		if c.BackupCode.Count < 8 {
			return errors.New("ProductionMode requires BackupCode Count >= 8")
		}
		if c.BackupCode.Length < 8 {
			return errors.New("ProductionMode requires BackupCode Length >= 8")
		}
		if !c.Lockout.Enabled {
			return errors.New("ProductionMode requires Lockout Enabled")
		}
	}

	return nil
}
