// Package otel bridges engine counters into OpenTelemetry. The engine keeps
// its own lock-free counter table; this package registers an async callback
// that republishes a snapshot on every collection cycle.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/castellan/castellan"
)

// Source is the part of the engine this exporter needs.
type Source interface {
	MetricsSnapshot() castellan.MetricsSnapshot
	AuditDropped() uint64
}

// Register attaches observable instruments to the meter. Unregister the
// returned registration before discarding the engine.
func Register(meter metric.Meter, src Source) (metric.Registration, error) {
	events, err := meter.Int64ObservableCounter("castellan.events",
		metric.WithDescription("Account security flow outcomes by event name"))
	if err != nil {
		return nil, err
	}
	verifyLatency, err := meter.Int64ObservableCounter("castellan.verify_latency_bucket",
		metric.WithDescription("Challenge verification latency bucket counts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	auditDropped, err := meter.Int64ObservableCounter("castellan.audit_dropped",
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := src.MetricsSnapshot()
		for name, value := range snap.Counters {
			o.ObserveInt64(events, int64(value),
				metric.WithAttributes(attribute.String("event", name)))
		}
		for i, count := range snap.VerifyLatencyBuckets {
			o.ObserveInt64(verifyLatency, int64(count),
				metric.WithAttributes(attribute.Int("bucket", i)))
		}
		o.ObserveInt64(auditDropped, int64(src.AuditDropped()))
		return nil
	}, events, verifyLatency, auditDropped)
}
