package castellan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castellan/castellan/internal/limiters"
)

// ProvisionTOTP generates a fresh authenticator secret for the user and
// stores it in a disabled state. Provisioning alone changes nothing about
// login requirements; the factor arms only after EnableTOTP proves the user's
// app produces matching codes.
//
// Calling it again replaces any prior unconfirmed secret.
func (e *Engine) ProvisionTOTP(ctx context.Context, userID string) (*TOTPProvision, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	user, err := e.userStore.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	account := user.Email
	if account == "" {
		account = user.Identifier
	}
	secret, uri, err := e.totp.GenerateSecret(account)
	if err != nil {
		return nil, err
	}
	if err := e.userStore.SaveTOTPSecret(ctx, userID, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPProvisioned, true, userID, "", nil, nil)
	return &TOTPProvision{Secret: string(secret), URI: uri}, nil
}

// EnableTOTP confirms a provisioned secret with a live code and arms the
// factor. It returns the one-time batch of backup codes; show them to the
// user now, they cannot be retrieved later.
func (e *Engine) EnableTOTP(ctx context.Context, userID, code string) (*EnableTOTPResult, error) {
	if userID == "" || code == "" {
		return nil, ErrInvalidInput
	}
	rec, err := e.userStore.GetTOTPSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrSecretNotProvisioned
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec == nil || len(rec.Secret) == 0 {
		return nil, ErrSecretNotProvisioned
	}

	ok, counter := e.totp.VerifyCode(rec.Secret, code, time.Now())
	if !ok {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	if err := e.userStore.EnableTOTP(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.userStore.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	codes, err := e.generateBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, userID, "", nil, nil)
	return &EnableTOTPResult{BackupCodes: codes}, nil
}

// DisableTOTP disarms the authenticator factor and discards its backup
// codes. Because losing a second factor weakens the account, the caller must
// prove possession again with either the password or a current code.
func (e *Engine) DisableTOTP(ctx context.Context, userID string, proof Proof) error {
	if userID == "" {
		return ErrInvalidInput
	}
	if proof.Password == "" && proof.TOTPCode == "" {
		return ErrInvalidInput
	}
	user, err := e.userStore.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !user.TOTPEnabled {
		return ErrTOTPNotEnabled
	}

	switch {
	case proof.Password != "":
		if !e.verifyPassword(&user, proof.Password) {
			e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", ErrInvalidCredentials, nil)
			return ErrInvalidCredentials
		}
	case proof.TOTPCode != "":
		if err := e.verifyTOTPForUser(ctx, userID, proof.TOTPCode); err != nil {
			return err
		}
	}

	if err := e.userStore.DisableTOTP(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.userStore.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, "", nil, nil)
	return nil
}

// verifyTOTPForUser checks a live authenticator code for an enabled user,
// throttled per user, with same-step replay rejected when replay protection
// is on.
func (e *Engine) verifyTOTPForUser(ctx context.Context, userID, code string) error {
	if err := e.totpLimiter.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrLimited) {
			e.metricInc(MetricRateLimitHit)
			e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, "", ErrRateLimited, nil)
			return ErrRateLimited
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec, err := e.userStore.GetTOTPSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrTOTPNotEnabled
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec == nil || len(rec.Secret) == 0 || !rec.Enabled {
		return ErrTOTPNotEnabled
	}

	ok, counter := e.totp.VerifyCode(rec.Secret, code, time.Now())
	if !ok {
		// Throttle bookkeeping is best effort; the failure result stands
		// even if the counter write does not.
		_ = e.totpLimiter.Record(ctx, userID)
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", ErrInvalidCode, nil)
		return ErrInvalidCode
	}

	if e.config.TOTP.EnforceReplayProtection && counter <= rec.LastUsedCounter {
		e.metricInc(MetricTOTPReplayBlocked)
		e.emitAudit(ctx, auditEventTOTPFailure, false, userID, "", ErrTOTPReplayed, nil)
		return ErrTOTPReplayed
	}
	if err := e.userStore.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metricInc(MetricTOTPSuccess)
	return nil
}
