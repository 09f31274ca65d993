package castellan

import (
	"context"
	"errors"
	"fmt"

	"github.com/castellan/castellan/internal"
	"github.com/castellan/castellan/internal/limiters"
)

// generateBackupCodes mints a fresh batch, stores only the hashes, and
// returns the plaintexts. Any previous batch is replaced wholesale.
func (e *Engine) generateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	cfg := e.config.BackupCode
	plain := make([]string, cfg.Count)
	records := make([]BackupCodeRecord, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		code, err := internal.NewBackupCode(cfg.Length)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		plain[i] = code
		records[i] = BackupCodeRecord{Hash: internal.HashCode(code)}
	}
	if err := e.userStore.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricBackupCodesGenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprint(cfg.Count)}
	})
	return plain, nil
}

// consumeBackupCodeForUser spends one recovery code. Each code works exactly
// once; the store removes the matched hash atomically so a code cannot be
// spent twice by concurrent logins.
func (e *Engine) consumeBackupCodeForUser(ctx context.Context, userID, code string) error {
	if err := e.backupLimiter.Check(ctx, userID); err != nil {
		if errors.Is(err, limiters.ErrLimited) {
			e.metricInc(MetricRateLimitHit)
			e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, "", ErrRateLimited, nil)
			return ErrRateLimited
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	existing, err := e.userStore.GetBackupCodes(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrBackupCodesNotConfigured
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(existing) == 0 {
		return ErrBackupCodesNotConfigured
	}

	consumed, err := e.userStore.ConsumeBackupCode(ctx, userID, internal.HashCode(code))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !consumed {
		_ = e.backupLimiter.Record(ctx, userID)
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, userID, "", ErrBackupCodeInvalid, nil)
		return ErrBackupCodeInvalid
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, "", nil, func() map[string]string {
		return map[string]string{"remaining": fmt.Sprint(len(existing) - 1)}
	})
	return nil
}

// RegenerateBackupCodes replaces the user's recovery codes. Requires a live
// proof because the old batch is invalidated even if the user never sees the
// new one.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string, proof Proof) ([]string, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if proof.Password == "" && proof.TOTPCode == "" {
		return nil, ErrInvalidInput
	}
	user, err := e.userStore.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !user.TOTPEnabled {
		return nil, ErrTOTPNotEnabled
	}

	switch {
	case proof.Password != "":
		if !e.verifyPassword(&user, proof.Password) {
			return nil, ErrInvalidCredentials
		}
	case proof.TOTPCode != "":
		if err := e.verifyTOTPForUser(ctx, userID, proof.TOTPCode); err != nil {
			return nil, err
		}
	}

	return e.generateBackupCodes(ctx, userID)
}

// BackupCodesRemaining reports how many unused recovery codes the user still
// holds, so applications can warn when the supply runs low.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, ErrInvalidInput
	}
	codes, err := e.userStore.GetBackupCodes(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return len(codes), nil
}
