package castellan

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	mu     sync.Mutex
	events []AuditEvent
	block  chan struct{}
}

func (s *countingSink) Write(event AuditEvent) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *countingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(sink, 16, true)

	for i := 0; i < 10; i++ {
		d.Emit(AuditEvent{Event: "login_success", Timestamp: time.Now()})
	}
	d.Close()

	assert.Equal(t, 10, sink.len())
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &countingSink{block: block}
	d := newAuditDispatcher(sink, 2, true)

	// One event occupies the sink, then the buffer fills.
	for i := 0; i < 10; i++ {
		d.Emit(AuditEvent{Event: "login_failure"})
	}
	assert.Positive(t, d.Dropped())

	close(block)
	d.Close()
}

func TestDispatcherCloseIdempotent(t *testing.T) {
	d := newAuditDispatcher(&countingSink{}, 4, true)
	d.Close()
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Write(AuditEvent{
		Event:   "totp_enabled",
		UserID:  "u-1",
		Success: true,
		Metadata: map[string]string{
			"channel": "totp",
		},
	})

	var decoded AuditEvent
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "totp_enabled", decoded.Event)
	assert.Equal(t, "u-1", decoded.UserID)
	assert.True(t, decoded.Success)
	assert.Equal(t, "totp", decoded.Metadata["channel"])
}

func TestAuditErrorCode(t *testing.T) {
	assert.Empty(t, auditErrorCode(nil))
	assert.Equal(t, "invalid_credentials", auditErrorCode(ErrInvalidCredentials))
	assert.Equal(t, "challenge_attempts_exceeded", auditErrorCode(ErrChallengeAttemptsExceeded))
	assert.Equal(t, "totp_replayed", auditErrorCode(ErrTOTPReplayed))
	assert.Equal(t, "internal_error", auditErrorCode(assert.AnError))
}
