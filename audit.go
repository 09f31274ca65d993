package castellan

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditEvent is one security-relevant occurrence. Events carry enough context
// to reconstruct who did what from where, but never a password, code, or
// secret.
type AuditEvent struct {
	Event     string            `json:"event"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	ErrorCode string            `json:"error_code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AuditSink receives events from the dispatcher goroutine. Write must not
// block for long; a slow sink backs up the dispatcher buffer and events start
// dropping.
type AuditSink interface {
	Write(event AuditEvent)
}

// NoOpSink discards everything. It is the default when auditing is disabled.
type NoOpSink struct{}

func (NoOpSink) Write(AuditEvent) {}

// ChannelSink forwards events to a caller-owned channel, for applications
// that ship audit data to their own pipeline.
type ChannelSink struct {
	C chan<- AuditEvent
}

func (s ChannelSink) Write(event AuditEvent) {
	select {
	case s.C <- event:
	default:
	}
}

// JSONWriterSink writes one JSON object per line to an io.Writer.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Write(event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// ZapSink logs each event as a structured zap entry. Failures log at Warn so
// they surface in alerting pipelines keyed on level.
type ZapSink struct {
	Logger *zap.Logger
}

func (s ZapSink) Write(event AuditEvent) {
	fields := []zap.Field{
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.String("client_ip", event.ClientIP),
		zap.Bool("success", event.Success),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", event.ErrorCode))
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String("meta_"+k, v))
	}
	if event.Success {
		s.Logger.Info(event.Event, fields...)
	} else {
		s.Logger.Warn(event.Event, fields...)
	}
}
