package castellan

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/castellan/castellan/internal/stores"
)

// registrationChannels returns the delivery channels a new account must
// verify before it may log in.
func (e *Engine) registrationChannels() uint8 {
	var bits uint8
	if e.config.Registration.RequireEmailVerification {
		bits |= stores.ChannelBitEmail
	}
	if e.config.Registration.RequireSMSVerification {
		bits |= stores.ChannelBitSMS
	}
	return bits
}

func (e *Engine) validateRegisterRequest(req RegisterRequest) error {
	if req.Identifier == "" || req.Password == "" {
		return ErrInvalidInput
	}
	if len(req.Password) < e.config.Registration.MinPasswordLength {
		return ErrWeakPassword
	}
	required := e.registrationChannels()
	if required&stores.ChannelBitEmail != 0 || req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return ErrInvalidInput
		}
	}
	if required&stores.ChannelBitSMS != 0 {
		phone := strings.TrimSpace(req.Phone)
		if len(phone) < 7 || !strings.HasPrefix(phone, "+") {
			return ErrInvalidInput
		}
	}
	return nil
}

// Register creates an account and, when verification channels are
// configured, issues the initial verification codes. The account stays
// unverified, and unable to log in, until VerifyRegistration completes every
// required channel.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if err := e.validateRegisterRequest(req); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	required := e.registrationChannels()
	user, err := e.userStore.CreateUser(ctx, CreateUserInput{
		Identifier:   req.Identifier,
		Email:        req.Email,
		Phone:        strings.TrimSpace(req.Phone),
		PasswordHash: hash,
		Verified:     required == 0,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentifier) {
			e.metricInc(MetricRegistrationDuplicate)
			e.emitAudit(ctx, auditEventRegistrationDuplicate, false, "", "", ErrDuplicateIdentifier, nil)
			return nil, ErrDuplicateIdentifier
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, ch := range channelsFromBits(required) {
		if err := e.issueChallenge(ctx, &user, purposeRegistration, ch); err != nil {
			return nil, err
		}
		e.metricInc(MetricChallengeIssued)
		e.emitAudit(ctx, auditEventChallengeIssued, true, user.UserID, "", nil, challengeMeta(ch, purposeRegistration))
	}

	e.metricInc(MetricRegistrationCreated)
	e.emitAudit(ctx, auditEventRegistrationCreated, true, user.UserID, "", nil, nil)
	return &RegisterResult{
		UserID:               user.UserID,
		RequiresVerification: required != 0,
	}, nil
}

// VerifyRegistration consumes verification codes for a new account. Channels
// may be verified in separate calls and in any order; progress persists
// between calls. The account flips to verified only when every required
// channel has been completed.
func (e *Engine) VerifyRegistration(ctx context.Context, userID string, codes ChallengeCodes) (*RegistrationResult, error) {
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
	if user.Verified {
		return &RegistrationResult{Verified: true}, nil
	}

	required := e.registrationChannels()
	done, err := e.registrationStore.Progress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	outstanding := required &^ done

	submitted := 0
	if codes.EmailCode != "" && outstanding&stores.ChannelBitEmail != 0 {
		submitted++
		if err := e.consumeChallenge(ctx, userID, purposeRegistration, ChannelEmail, codes.EmailCode); err != nil {
			e.metricInc(MetricOTPFailure)
			return nil, err
		}
		e.metricInc(MetricOTPSuccess)
		done, err = e.registrationStore.MarkDone(ctx, userID, stores.ChannelBitEmail, e.config.Registration.ProgressTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if codes.SMSCode != "" && outstanding&stores.ChannelBitSMS != 0 {
		submitted++
		if err := e.consumeChallenge(ctx, userID, purposeRegistration, ChannelSMS, codes.SMSCode); err != nil {
			e.metricInc(MetricOTPFailure)
			return nil, err
		}
		e.metricInc(MetricOTPSuccess)
		done, err = e.registrationStore.MarkDone(ctx, userID, stores.ChannelBitSMS, e.config.Registration.ProgressTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if submitted == 0 {
		return nil, ErrInvalidInput
	}

	if required&^done != 0 {
		return &RegistrationResult{Remaining: channelsFromBits(required &^ done)}, nil
	}

	if err := e.userStore.MarkVerified(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.registrationStore.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricRegistrationVerified)
	e.emitAudit(ctx, auditEventRegistrationVerified, true, userID, "", nil, nil)
	return &RegistrationResult{Verified: true}, nil
}
