// Package observe records interview engine metrics through the OpenTelemetry
// metrics API. A Prometheus exporter bridge serves them on /metrics.
//
// A nil *Metrics is valid and records nothing, so components can carry an
// optional instance without nil checks at every call site.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/sjawhar/ghost-interviewer"

type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsEnded     metric.Int64Counter
	SessionDuration   metric.Float64Histogram
	ActiveSessions    metric.Int64UpDownCounter
	Violations        metric.Int64Counter
	TranscriptCommits metric.Int64Counter
	ConnectionStates  metric.Int64Counter
	ConnectionErrors  metric.Int64Counter
	Reports           metric.Int64Counter
}

// durationBuckets are in seconds and cover sessions up to an hour.
var durationBuckets = []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 2700, 3600}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsStarted, err = m.Int64Counter("interviewer.sessions.started",
		metric.WithDescription("Interview sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("interviewer.sessions.ended",
		metric.WithDescription("Interview sessions ended by reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("interviewer.session.duration",
		metric.WithDescription("Wall-clock length of interview sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("interviewer.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}
	if met.Violations, err = m.Int64Counter("interviewer.proctoring.violations",
		metric.WithDescription("Proctoring violations by type and action."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptCommits, err = m.Int64Counter("interviewer.transcript.commits",
		metric.WithDescription("Transcript chunk commits by status."),
	); err != nil {
		return nil, err
	}
	if met.ConnectionStates, err = m.Int64Counter("interviewer.connection.states",
		metric.WithDescription("Agent connection state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.ConnectionErrors, err = m.Int64Counter("interviewer.connection.errors",
		metric.WithDescription("Session-fatal agent connection errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.Reports, err = m.Int64Counter("interviewer.reports",
		metric.WithDescription("Report generation outcomes by status."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func (m *Metrics) RecordSessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsStarted.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) RecordSessionEnded(ctx context.Context, reason string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.SessionsEnded.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, d.Seconds(), attrs)
	m.ActiveSessions.Add(ctx, -1)
}

func (m *Metrics) RecordViolation(ctx context.Context, typ, action string) {
	if m == nil {
		return
	}
	m.Violations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", typ),
		attribute.String("action", action),
	))
}

func (m *Metrics) RecordTranscriptCommit(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.TranscriptCommits.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordConnectionState(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.ConnectionStates.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) RecordConnectionError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.ConnectionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordReport(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Reports.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
