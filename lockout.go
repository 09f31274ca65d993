package castellan

import "time"

// lockoutDecision is what the policy wants done with the user record after a
// failed password attempt.
type lockoutDecision struct {
	Attempts int
	Until    time.Time
	Locked   bool
}

// nextLockout computes the record update for one more failed attempt. The
// policy is pure so the store write stays in the caller.
func nextLockout(cfg LockoutConfig, currentAttempts int, now time.Time) lockoutDecision {
	attempts := currentAttempts + 1
	if !cfg.Enabled {
		return lockoutDecision{Attempts: attempts}
	}
	if attempts >= cfg.Threshold {
		return lockoutDecision{
			Attempts: attempts,
			Until:    now.Add(cfg.Duration),
			Locked:   true,
		}
	}
	return lockoutDecision{Attempts: attempts}
}

// isLockedOut reports whether a lockout window is still in force.
func isLockedOut(until time.Time, now time.Time) bool {
	return !until.IsZero() && now.Before(until)
}
