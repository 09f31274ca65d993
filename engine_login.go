package castellan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castellan/castellan/internal"
	"github.com/castellan/castellan/internal/limiters"
	"github.com/castellan/castellan/internal/stores"
)

func channelBit(ch Channel) uint8 {
	switch ch {
	case ChannelEmail:
		return stores.ChannelBitEmail
	case ChannelSMS:
		return stores.ChannelBitSMS
	case ChannelTOTP:
		return stores.ChannelBitTOTP
	default:
		return 0
	}
}

func channelsFromBits(bits uint8) []Channel {
	var out []Channel
	if bits&stores.ChannelBitEmail != 0 {
		out = append(out, ChannelEmail)
	}
	if bits&stores.ChannelBitSMS != 0 {
		out = append(out, ChannelSMS)
	}
	if bits&stores.ChannelBitTOTP != 0 {
		out = append(out, ChannelTOTP)
	}
	return out
}

func mapPendingStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrPendingLoginNotFound):
		return ErrPendingLoginInvalid
	case errors.Is(err, stores.ErrPendingLoginExpired):
		return ErrPendingLoginExpired
	case errors.Is(err, stores.ErrPendingLoginExceeded):
		return ErrPendingLoginAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// verifyPassword checks a password against a user record. When rec is nil it
// runs the same argon2 work against a throwaway hash so the caller's timing
// does not reveal whether the identifier exists.
func (e *Engine) verifyPassword(rec *UserRecord, pw string) bool {
	hash := e.dummyHash
	if rec != nil && rec.PasswordHash != "" {
		hash = rec.PasswordHash
	}
	ok, err := e.hasher.Verify(pw, hash)
	if err != nil || rec == nil {
		return false
	}
	return ok
}

// requiredChannels determines which second factors this user must complete.
// Delivery channels come from configuration; totp joins whenever the user has
// it enabled.
func (e *Engine) requiredChannels(user *UserRecord) uint8 {
	var bits uint8
	if !e.config.MFA.Enabled {
		return 0
	}
	for _, ch := range e.config.MFA.Channels {
		bits |= channelBit(ch)
	}
	if user.TOTPEnabled {
		bits |= stores.ChannelBitTOTP
	}
	return bits
}

// Login verifies the first factor. A fully authenticated result carries a
// session token; when second factors are configured it instead opens a
// pending login, issues the delivery-channel codes, and returns the opaque
// pending session reference the caller must bring to VerifyChallenge.
//
// Lockout is checked before any hashing work, so a locked account costs an
// attacker nothing to probe and costs the server almost nothing to refuse.
func (e *Engine) Login(ctx context.Context, identifier, pw string) (*LoginResult, error) {
	start := time.Now()
	if identifier == "" || pw == "" {
		return nil, ErrInvalidInput
	}

	user, err := e.userStore.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.verifyPassword(nil, pw)
			e.enumerationDelay(start)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrUserNotFound, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := time.Now()
	if e.config.Lockout.Enabled && isLockedOut(user.LockedUntil, now) {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, user.UserID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"locked_until": user.LockedUntil.UTC().Format(time.RFC3339)}
		})
		return nil, ErrAccountLocked
	}

	if !e.verifyPassword(&user, pw) {
		decision := nextLockout(e.config.Lockout, user.FailedPasswordAttempts, now)
		if err := e.userStore.SetLockout(ctx, user.UserID, decision.Attempts, decision.Until); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.enumerationDelay(start)
		if decision.Locked {
			e.metricInc(MetricLockoutTriggered)
			e.emitAudit(ctx, auditEventLockoutTriggered, false, user.UserID, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{"failed_attempts": fmt.Sprint(decision.Attempts)}
			})
			return nil, ErrAccountLocked
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if !user.Verified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrAccountNotVerified, nil)
		return nil, ErrAccountNotVerified
	}

	if user.FailedPasswordAttempts > 0 || !user.LockedUntil.IsZero() {
		if err := e.userStore.ResetLockout(ctx, user.UserID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	// Opportunistic rehash when cost parameters were raised since the hash
	// was created.
	if e.config.Password.UpgradeOnLogin {
		if upgrade, err := e.hasher.NeedsRehash(user.PasswordHash); err == nil && upgrade {
			if newHash, err := e.hasher.Hash(pw); err == nil {
				_ = e.userStore.UpdatePasswordHash(ctx, user.UserID, newHash)
			}
		}
	}

	required := e.requiredChannels(&user)
	if required == 0 {
		token, err := e.issueSessionToken(user.UserID, nil)
		if err != nil {
			return nil, err
		}
		if err := e.userStore.SetLastLogin(ctx, user.UserID, now); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, "", nil, nil)
		return &LoginResult{Authenticated: true, SessionToken: token}, nil
	}

	sessionID, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate pending session: %w", err)
	}
	pending := &stores.PendingLogin{
		UserID:    user.UserID,
		ExpiresAt: now.Add(e.config.MFA.PendingSessionTTL).Unix(),
		Required:  required,
	}
	if err := e.pendingStore.Save(ctx, sessionID.String(), pending, e.config.MFA.PendingSessionTTL); err != nil {
		return nil, mapPendingStoreError(err)
	}

	for _, ch := range channelsFromBits(required) {
		if ch == ChannelTOTP {
			continue
		}
		if err := e.issueChallenge(ctx, &user, purposeLogin, ch); err != nil {
			return nil, err
		}
		e.metricInc(MetricChallengeIssued)
		e.emitAudit(ctx, auditEventChallengeIssued, true, user.UserID, sessionID.String(), nil, challengeMeta(ch, purposeLogin))
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, user.UserID, sessionID.String(), nil, nil)
	return &LoginResult{
		MFARequired:    true,
		Channels:       channelsFromBits(required),
		PendingSession: sessionID.String(),
	}, nil
}

func challengeMeta(ch Channel, purpose string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"channel": string(ch), "purpose": purpose}
	}
}

func (e *Engine) checkResendThrottles(ctx context.Context, scope string) error {
	for _, lim := range []*limiters.FixedWindow{e.resendCooldown, e.resendLimiter} {
		if err := lim.RecordAndCheck(ctx, scope); err != nil {
			if errors.Is(err, limiters.ErrLimited) {
				return ErrRateLimited
			}
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// ResendChallenge reissues the code for one delivery channel of a pending
// login. The previous code stops working the moment the new one is stored.
func (e *Engine) ResendChallenge(ctx context.Context, pendingSession string, ch Channel) error {
	if _, err := internal.ParseSessionID(pendingSession); err != nil {
		return ErrPendingLoginInvalid
	}
	if ch == ChannelTOTP {
		return ErrInvalidInput
	}

	pending, err := e.pendingStore.Get(ctx, pendingSession)
	if err != nil {
		return mapPendingStoreError(err)
	}
	bit := channelBit(ch)
	if pending.Required&bit == 0 || pending.Done&bit != 0 {
		return ErrInvalidInput
	}

	// Two throttles: a short cooldown between sends and an hourly cap, both
	// per user and channel.
	scope := pending.UserID + ":" + string(ch)
	if err := e.checkResendThrottles(ctx, scope); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricRateLimitHit)
			e.emitAudit(ctx, auditEventRateLimitTriggered, false, pending.UserID, pendingSession, ErrRateLimited, challengeMeta(ch, purposeLogin))
		}
		return err
	}

	user, err := e.userStore.GetUserByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrPendingLoginInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.issueChallenge(ctx, &user, purposeLogin, ch); err != nil {
		return err
	}
	e.metricInc(MetricChallengeResent)
	e.emitAudit(ctx, auditEventChallengeResent, true, pending.UserID, pendingSession, nil, challengeMeta(ch, purposeLogin))
	return nil
}

// VerifyChallenge checks submitted codes against the outstanding channels of
// a pending login. Any subset of the remaining channels may be submitted in
// one call; the login completes when every required channel is done and only
// then is a session token issued.
func (e *Engine) VerifyChallenge(ctx context.Context, pendingSession string, codes ChallengeCodes) (*VerifyResult, error) {
	start := time.Now()
	defer func() { e.metrics.observeVerifyLatency(time.Since(start)) }()

	if _, err := internal.ParseSessionID(pendingSession); err != nil {
		return nil, ErrPendingLoginInvalid
	}

	pending, err := e.pendingStore.Get(ctx, pendingSession)
	if err != nil {
		return nil, mapPendingStoreError(err)
	}

	outstanding := pending.Required &^ pending.Done
	updated := pending
	progressed := false
	var verifyErr error

	// Each channel that verifies is persisted right away, so a later bad
	// code in the same call cannot undo earlier progress.
	markDone := func(bit uint8) error {
		rec, err := e.pendingStore.MarkDone(ctx, pendingSession, bit)
		if err != nil {
			return mapPendingStoreError(err)
		}
		updated = rec
		progressed = true
		return nil
	}

	if codes.EmailCode != "" && outstanding&stores.ChannelBitEmail != 0 {
		if err := e.consumeChallenge(ctx, pending.UserID, purposeLogin, ChannelEmail, codes.EmailCode); err != nil {
			verifyErr = err
			e.metricInc(MetricOTPFailure)
		} else {
			e.metricInc(MetricOTPSuccess)
			if err := markDone(stores.ChannelBitEmail); err != nil {
				return nil, err
			}
		}
	}
	if verifyErr == nil && codes.SMSCode != "" && outstanding&stores.ChannelBitSMS != 0 {
		if err := e.consumeChallenge(ctx, pending.UserID, purposeLogin, ChannelSMS, codes.SMSCode); err != nil {
			verifyErr = err
			e.metricInc(MetricOTPFailure)
		} else {
			e.metricInc(MetricOTPSuccess)
			if err := markDone(stores.ChannelBitSMS); err != nil {
				return nil, err
			}
		}
	}
	if verifyErr == nil && outstanding&stores.ChannelBitTOTP != 0 && (codes.TOTPCode != "" || codes.BackupCode != "") {
		var err error
		if codes.TOTPCode != "" {
			err = e.verifyTOTPForUser(ctx, pending.UserID, codes.TOTPCode)
		} else {
			err = e.consumeBackupCodeForUser(ctx, pending.UserID, codes.BackupCode)
		}
		if err != nil {
			verifyErr = err
		} else if err := markDone(stores.ChannelBitTOTP); err != nil {
			return nil, err
		}
	}

	if verifyErr == nil && !progressed {
		return nil, ErrInvalidInput
	}

	if verifyErr != nil {
		exceeded, rerr := e.pendingStore.RecordFailure(ctx, pendingSession, e.config.MFA.MaxAttempts)
		if rerr != nil {
			return nil, mapPendingStoreError(rerr)
		}
		if exceeded {
			if _, derr := e.pendingStore.Delete(ctx, pendingSession); derr != nil {
				return nil, mapPendingStoreError(derr)
			}
			e.metricInc(MetricMFAAttemptsExceeded)
			e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, pending.UserID, pendingSession, ErrPendingLoginAttemptsExceeded, nil)
			return nil, ErrPendingLoginAttemptsExceeded
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, pending.UserID, pendingSession, verifyErr, nil)
		return nil, verifyErr
	}

	if !updated.Complete() {
		remaining := channelsFromBits(updated.Required &^ updated.Done)
		return &VerifyResult{Remaining: remaining}, nil
	}

	if _, err := e.pendingStore.Delete(ctx, pendingSession); err != nil {
		return nil, mapPendingStoreError(err)
	}
	token, err := e.issueSessionToken(pending.UserID, channelsFromBits(updated.Required))
	if err != nil {
		return nil, err
	}
	if err := e.userStore.SetLastLogin(ctx, pending.UserID, time.Now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricMFASuccess)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, pending.UserID, pendingSession, nil, nil)
	return &VerifyResult{Authenticated: true, SessionToken: token}, nil
}
