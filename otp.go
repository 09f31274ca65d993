package castellan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/castellan/castellan/internal"
	"github.com/castellan/castellan/internal/stores"
)

// Challenge purposes. A purpose plus a channel names one outstanding code, so
// an email login code never collides with an SMS registration code.
const (
	purposeLogin        = "login"
	purposeRegistration = "registration"
)

func challengePurpose(purpose string, ch Channel) string {
	return purpose + ":" + string(ch)
}

// issueChallenge generates a fresh code, stores its hash, and hands the
// plaintext to the sender. Saving before sending means a sender failure never
// leaves a deliverable code without a stored hash; the stale record is simply
// replaced on retry.
func (e *Engine) issueChallenge(ctx context.Context, user *UserRecord, purpose string, ch Channel) error {
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	record := &stores.ChallengeRecord{
		CodeHash:  internal.HashCode(code),
		ExpiresAt: time.Now().Add(e.config.OTP.TTL).Unix(),
	}
	if err := e.challengeStore.Save(ctx, user.UserID, challengePurpose(purpose, ch), record, e.config.OTP.TTL); err != nil {
		return mapChallengeStoreError(err)
	}

	destination := user.Email
	if ch == ChannelSMS {
		destination = user.Phone
	}
	if err := e.sender.Send(ctx, destination, ch, code, purpose); err != nil {
		return fmt.Errorf("%w: %v", ErrSenderFailure, err)
	}
	return nil
}

// consumeChallenge validates a submitted code against the stored hash.
func (e *Engine) consumeChallenge(ctx context.Context, userID, purpose string, ch Channel, code string) error {
	if code == "" {
		return ErrInvalidCode
	}
	hash := internal.HashCode(code)
	if _, err := e.challengeStore.Consume(ctx, userID, challengePurpose(purpose, ch), hash, e.config.OTP.MaxAttempts); err != nil {
		return mapChallengeStoreError(err)
	}
	return nil
}

// mapChallengeStoreError translates store sentinels into the public error
// surface.
func mapChallengeStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound):
		return ErrNoActiveChallenge
	case errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return ErrChallengeAttemptsExceeded
	case errors.Is(err, stores.ErrChallengeCodeMismatch):
		return ErrInvalidCode
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
