package castellan

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown identifier or a wrong
	// password. The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountNotVerified is returned when login requires a completed
	// registration and the account has not passed verification yet.
	ErrAccountNotVerified = errors.New("account not verified")
	// ErrUserNotFound is returned by [UserStore] implementations when no record
	// matches, and by engine operations that take an explicit user ID.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoActiveChallenge is returned when no unexpired challenge exists for
	// the (user, purpose) a code was submitted against.
	ErrNoActiveChallenge = errors.New("no active challenge")
	// ErrChallengeExpired is returned when the outstanding challenge has passed
	// its validity window.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeAttemptsExceeded is returned once a challenge has absorbed
	// its maximum number of wrong codes. A fresh challenge must be issued.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrInvalidCode is returned when a submitted one-time code does not match.
	ErrInvalidCode = errors.New("invalid code")

	// ErrPendingLoginInvalid is returned for an unknown or malformed pending
	// login reference.
	ErrPendingLoginInvalid = errors.New("pending login invalid")
	// ErrPendingLoginExpired is returned when the pending login window closed
	// before all challenges were completed.
	ErrPendingLoginExpired = errors.New("pending login expired")
	// ErrPendingLoginAttemptsExceeded is returned once a pending login has
	// absorbed its maximum number of failed verification calls.
	ErrPendingLoginAttemptsExceeded = errors.New("pending login attempts exceeded")

	// ErrDuplicateIdentifier is returned by Register when the identifier,
	// email, or phone is already taken.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrWeakPassword is returned by Register when the password fails policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrInvalidInput is returned for malformed or missing request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSecretNotProvisioned is returned by EnableTOTP before ProvisionTOTP.
	ErrSecretNotProvisioned = errors.New("totp secret not provisioned")
	// ErrTOTPNotEnabled is returned when a TOTP operation requires an enabled
	// authenticator and the account has none.
	ErrTOTPNotEnabled = errors.New("totp not enabled")
	// ErrTOTPReplayed is returned when a TOTP code at or before the last
	// accepted time step is submitted again.
	ErrTOTPReplayed = errors.New("totp code replayed")
	// ErrBackupCodeInvalid is returned when a backup code does not match any
	// remaining code in the set.
	ErrBackupCodeInvalid = errors.New("backup code invalid")
	// ErrBackupCodesNotConfigured is returned when no backup codes exist for
	// the account.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")

	// ErrRateLimited is returned when a throttle window for resends or
	// verification attempts is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps backend failures from Redis or the caller's
	// [UserStore].
	ErrStoreUnavailable = errors.New("backend unavailable")
	// ErrSenderFailure wraps delivery failures from the caller's [CodeSender].
	ErrSenderFailure = errors.New("code delivery failed")
	// ErrEngineNotReady is returned when an Engine method is called on an
	// engine missing a required collaborator.
	ErrEngineNotReady = errors.New("engine not ready")
)
