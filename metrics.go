package castellan

import (
	"sync/atomic"
	"time"
)

// MetricID indexes one counter in the metrics table.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAAttemptsExceeded
	MetricChallengeIssued
	MetricChallengeResent
	MetricOTPSuccess
	MetricOTPFailure
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricTOTPReplayBlocked
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodesGenerated
	MetricRegistrationCreated
	MetricRegistrationDuplicate
	MetricRegistrationVerified
	MetricLockoutTriggered
	MetricRateLimitHit
	MetricSessionIssued
	metricCount
)

var metricNames = [metricCount]string{
	MetricLoginSuccess:          "login_success",
	MetricLoginFailure:          "login_failure",
	MetricLoginLocked:           "login_locked",
	MetricMFARequired:           "mfa_required",
	MetricMFASuccess:            "mfa_success",
	MetricMFAFailure:            "mfa_failure",
	MetricMFAAttemptsExceeded:   "mfa_attempts_exceeded",
	MetricChallengeIssued:       "challenge_issued",
	MetricChallengeResent:       "challenge_resent",
	MetricOTPSuccess:            "otp_success",
	MetricOTPFailure:            "otp_failure",
	MetricTOTPSuccess:           "totp_success",
	MetricTOTPFailure:           "totp_failure",
	MetricTOTPReplayBlocked:     "totp_replay_blocked",
	MetricBackupCodeUsed:        "backup_code_used",
	MetricBackupCodeFailed:      "backup_code_failed",
	MetricBackupCodesGenerated:  "backup_codes_generated",
	MetricRegistrationCreated:   "registration_created",
	MetricRegistrationDuplicate: "registration_duplicate",
	MetricRegistrationVerified:  "registration_verified",
	MetricLockoutTriggered:      "lockout_triggered",
	MetricRateLimitHit:          "rate_limit_hit",
	MetricSessionIssued:         "session_issued",
}

// Name returns the stable export name of a metric.
func (id MetricID) Name() string {
	if id < 0 || id >= metricCount {
		return "unknown"
	}
	return metricNames[id]
}

// paddedCounter keeps each counter on its own cache line so hot counters
// incremented by different goroutines do not false-share.
type paddedCounter struct {
	value atomic.Uint64
	_     [56]byte
}

// Latency histogram bucket upper bounds, in milliseconds. The last bucket is
// unbounded.
var latencyBucketBoundsMs = [7]int64{5, 10, 25, 50, 100, 250, 500}

const latencyBucketCount = len(latencyBucketBoundsMs) + 1

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range latencyBucketBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return latencyBucketCount - 1
}

type metrics struct {
	counters        [metricCount]paddedCounter
	verifyLatency   [latencyBucketCount]paddedCounter
	latencyEnabled  bool
	countersEnabled bool
}

func newMetrics(cfg MetricsConfig) *metrics {
	return &metrics{
		countersEnabled: cfg.Enabled,
		latencyEnabled:  cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *metrics) inc(id MetricID) {
	if m == nil || !m.countersEnabled || id < 0 || id >= metricCount {
		return
	}
	m.counters[id].value.Add(1)
}

func (m *metrics) observeVerifyLatency(d time.Duration) {
	if m == nil || !m.latencyEnabled {
		return
	}
	m.verifyLatency[bucketIndex(d)].value.Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters             map[string]uint64
	VerifyLatencyBuckets [latencyBucketCount]uint64
}

func (m *metrics) snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[string]uint64, metricCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id.Name()] = m.counters[id].value.Load()
	}
	for i := range m.verifyLatency {
		snap.VerifyLatencyBuckets[i] = m.verifyLatency[i].value.Load()
	}
	return snap
}
