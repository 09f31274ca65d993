package castellan

import (
	"context"
	"errors"
	"time"
)

// Audit event names. Stable strings, consumed by downstream pipelines; rename
// only with a migration plan.
const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventMFAAttemptsExceeded   = "mfa_attempts_exceeded"
	auditEventChallengeIssued       = "challenge_issued"
	auditEventChallengeResent       = "challenge_resent"
	auditEventRegistrationCreated   = "registration_created"
	auditEventRegistrationDuplicate = "registration_duplicate"
	auditEventRegistrationVerified  = "registration_verified"
	auditEventTOTPProvisioned       = "totp_provisioned"
	auditEventTOTPEnabled           = "totp_enabled"
	auditEventTOTPDisabled          = "totp_disabled"
	auditEventTOTPFailure           = "totp_failure"
	auditEventBackupCodesGenerated  = "backup_codes_generated"
	auditEventBackupCodeUsed        = "backup_code_used"
	auditEventBackupCodeFailed      = "backup_code_failed"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventLockoutTriggered      = "lockout_triggered"
)

// auditErrorCode maps public errors onto short stable codes for event
// payloads. Unrecognized errors report as internal_error so sinks never see
// raw error text.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountNotVerified):
		return "account_not_verified"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrNoActiveChallenge):
		return "no_active_challenge"
	case errors.Is(err, ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, ErrChallengeAttemptsExceeded):
		return "challenge_attempts_exceeded"
	case errors.Is(err, ErrInvalidCode):
		return "invalid_code"
	case errors.Is(err, ErrPendingLoginInvalid):
		return "pending_login_invalid"
	case errors.Is(err, ErrPendingLoginExpired):
		return "pending_login_expired"
	case errors.Is(err, ErrPendingLoginAttemptsExceeded):
		return "pending_login_attempts_exceeded"
	case errors.Is(err, ErrDuplicateIdentifier):
		return "duplicate_identifier"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrSecretNotProvisioned):
		return "secret_not_provisioned"
	case errors.Is(err, ErrTOTPNotEnabled):
		return "totp_not_enabled"
	case errors.Is(err, ErrTOTPReplayed):
		return "totp_replayed"
	case errors.Is(err, ErrBackupCodeInvalid):
		return "backup_code_invalid"
	case errors.Is(err, ErrBackupCodesNotConfigured):
		return "backup_codes_not_configured"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrSenderFailure):
		return "sender_failure"
	default:
		return "internal_error"
	}
}

// emitAudit assembles and queues one event. The metadata closure runs only
// when auditing is on, so flows can build maps without paying for them when
// the dispatcher is a no-op.
func (e *Engine) emitAudit(ctx context.Context, event string, success bool, userID, sessionID string, err error, metadata func() map[string]string) {
	if e.audit == nil {
		return
	}
	ev := AuditEvent{
		Event:     event,
		UserID:    userID,
		SessionID: sessionID,
		ClientIP:  clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		ErrorCode: auditErrorCode(err),
		Timestamp: time.Now().UTC(),
	}
	if metadata != nil {
		ev.Metadata = metadata()
	}
	e.audit.Emit(ev)
}
