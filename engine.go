package castellan

import (
	"time"

	"github.com/castellan/castellan/internal/limiters"
	"github.com/castellan/castellan/internal/stores"
	"github.com/castellan/castellan/jwt"
	"github.com/castellan/castellan/password"
)

// Engine is the account security core. It owns no transport and no schema;
// callers bring a UserStore for durable records and a CodeSender for
// delivery, the Engine brings the verification logic and the Redis-backed
// short-lived state.
//
// An Engine is safe for concurrent use. Construct one with Builder and keep
// it for the life of the process.
type Engine struct {
	config Config

	userStore UserStore
	sender    CodeSender

	challengeStore    *stores.ChallengeStore
	pendingStore      *stores.PendingLoginStore
	registrationStore *stores.RegistrationStore

	resendLimiter  *limiters.FixedWindow
	resendCooldown *limiters.FixedWindow
	totpLimiter    *limiters.FixedWindow
	backupLimiter  *limiters.FixedWindow

	hasher     *password.Hasher
	dummyHash  string
	totp       *totpManager
	jwtManager *jwt.Manager

	audit   *auditDispatcher
	metrics *metrics
}

// Close flushes the audit pipeline. Call it on shutdown; flows started after
// Close may drop their audit events.
func (e *Engine) Close() {
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.inc(id)
}

// MetricsSnapshot returns a copy of all counters, suitable for export.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.snapshot()
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// issueSessionToken signs a session token and counts it.
func (e *Engine) issueSessionToken(userID string, channels []Channel) (string, error) {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = string(ch)
	}
	token, err := e.jwtManager.CreateSessionToken(userID, names)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricSessionIssued)
	return token, nil
}

// enumerationDelay holds a failing request for the configured floor so
// missing-user and wrong-password paths take comparable time.
func (e *Engine) enumerationDelay(start time.Time) {
	floor := e.config.Security.EnumerationSafeDelay
	if floor <= 0 {
		return
	}
	if elapsed := time.Since(start); elapsed < floor {
		time.Sleep(floor - elapsed)
	}
}
