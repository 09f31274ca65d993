package castellan

import (
	"context"
	"time"
)

// Channel names a second-factor delivery or verification channel.
type Channel string

const (
	// ChannelEmail delivers one-time codes to the account's email address.
	ChannelEmail Channel = "email"
	// ChannelSMS delivers one-time codes to the account's phone number.
	ChannelSMS Channel = "sms"
	// ChannelTOTP verifies codes from an enrolled authenticator app. No
	// delivery happens on this channel.
	ChannelTOTP Channel = "totp"
)

// UserStore is the interface that callers must implement to integrate
// castellan with their user database. It covers credential lookup, account
// creation, verification and lockout bookkeeping, TOTP secret management,
// and backup code storage.
//
// Implementations return [ErrUserNotFound] when no record matches and
// [ErrDuplicateIdentifier] when CreateUser collides on identifier, email,
// or phone. ConsumeBackupCode must remove the matched hash and report
// whether a removal happened, applied atomically per user so two concurrent
// logins cannot both spend the same code.
type UserStore interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	SetLockout(ctx context.Context, userID string, attempts int, until time.Time) error
	ResetLockout(ctx context.Context, userID string) error
	SetLastLogin(ctx context.Context, userID string, at time.Time) error

	GetTOTPSecret(ctx context.Context, userID string) (*TOTPRecord, error)
	SaveTOTPSecret(ctx context.Context, userID string, secret []byte) error
	EnableTOTP(ctx context.Context, userID string) error
	DisableTOTP(ctx context.Context, userID string) error
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error

	GetBackupCodes(ctx context.Context, userID string) ([]BackupCodeRecord, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error)
}

// CodeSender delivers one-time codes out of band. Email and SMS transport is
// the caller's concern; the engine only hands over the plaintext code once.
type CodeSender interface {
	Send(ctx context.Context, destination string, channel Channel, code, purpose string) error
}

// UserRecord is the account record exchanged with [UserStore]. The engine
// never persists it; it reads the fields relevant to authentication and
// writes back through the narrow mutators on the interface.
type UserRecord struct {
	UserID       string
	Identifier   string
	Email        string
	Phone        string
	PasswordHash string
	Verified     bool
	TOTPEnabled  bool

	FailedPasswordAttempts int
	LockedUntil            time.Time
	LastLogin              time.Time
}

// CreateUserInput is the input for [UserStore.CreateUser]. The password
// arrives pre-hashed; implementations store it verbatim.
type CreateUserInput struct {
	Identifier   string
	Email        string
	Phone        string
	PasswordHash string
	Verified     bool
}

// TOTPRecord is retrieved from [UserStore.GetTOTPSecret]. It carries the
// base32 secret, enabled flag, and the last accepted time-step counter used
// for replay protection.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	LastUsedCounter int64
}

// BackupCodeRecord stores the SHA-256 hash of a single backup code. The
// plaintext is never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// LoginResult is returned by [Engine.Login]. Exactly one of SessionToken or
// PendingSession is set: SessionToken when no second factor is required,
// PendingSession plus the channel list when MFA must still be completed.
type LoginResult struct {
	Authenticated bool
	SessionToken  string

	MFARequired    bool
	Channels       []Channel
	PendingSession string
}

// ChallengeCodes carries the codes submitted to [Engine.VerifyChallenge].
// Any subset may be present; each present code is verified against its own
// channel. BackupCode substitutes for TOTPCode on the totp channel.
type ChallengeCodes struct {
	EmailCode  string
	SMSCode    string
	TOTPCode   string
	BackupCode string
}

// VerifyResult is returned by [Engine.VerifyChallenge]. Remaining lists the
// channels still outstanding when Authenticated is false.
type VerifyResult struct {
	Authenticated bool
	SessionToken  string
	Remaining     []Channel
}

// RegisterRequest is the input for [Engine.Register].
type RegisterRequest struct {
	Identifier string
	Email      string
	Phone      string
	Password   string
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	UserID               string
	RequiresVerification bool
}

// RegistrationResult is returned by [Engine.VerifyRegistration]. Remaining
// lists the channels still unverified when Verified is false.
type RegistrationResult struct {
	Verified  bool
	Remaining []Channel
}

// TOTPProvision holds the base32 secret and otpauth:// URI returned by
// [Engine.ProvisionTOTP] for authenticator-app enrollment.
type TOTPProvision struct {
	Secret string
	URI    string
}

// EnableTOTPResult is returned by [Engine.EnableTOTP]. BackupCodes contains
// the freshly generated plaintext recovery codes; they are shown exactly
// once and never retrievable again.
type EnableTOTPResult struct {
	BackupCodes []string
}

// Proof carries re-authentication evidence for sensitive operations
// (DisableTOTP, RegenerateBackupCodes). Either field satisfies the check.
type Proof struct {
	Password string
	TOTPCode string
}
