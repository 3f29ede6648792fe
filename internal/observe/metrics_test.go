package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumWith(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64] for %s, got %T", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestSessionLifecycleMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSessionStarted(ctx)
	m.RecordSessionEnded(ctx, "time_up", 15*time.Minute)

	rm := collect(t, reader)
	ended := findMetric(rm, "interviewer.sessions.ended")
	if ended == nil {
		t.Fatal("expected sessions.ended metric")
	}
	if got := sumWith(t, ended, "reason", "time_up"); got != 1 {
		t.Fatalf("expected 1 time_up end, got %d", got)
	}

	active := findMetric(rm, "interviewer.active_sessions")
	if active == nil {
		t.Fatal("expected active_sessions metric")
	}
	sum := active.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 0 {
		t.Fatalf("expected active sessions back at 0, got %+v", sum.DataPoints)
	}

	duration := findMetric(rm, "interviewer.session.duration")
	if duration == nil {
		t.Fatal("expected session.duration metric")
	}
	hist := duration.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 900 {
		t.Fatalf("expected one 900s observation, got %+v", hist.DataPoints)
	}
}

func TestViolationMetricsCarryTypeAndAction(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordViolation(ctx, "fullscreen_exit", "warning")
	m.RecordViolation(ctx, "fullscreen_exit", "warning")
	m.RecordViolation(ctx, "fullscreen_exit", "terminated")

	rm := collect(t, reader)
	v := findMetric(rm, "interviewer.proctoring.violations")
	if v == nil {
		t.Fatal("expected violations metric")
	}
	if got := sumWith(t, v, "action", "warning"); got != 2 {
		t.Fatalf("expected 2 warnings, got %d", got)
	}
	if got := sumWith(t, v, "action", "terminated"); got != 1 {
		t.Fatalf("expected 1 termination, got %d", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordSessionStarted(ctx)
	m.RecordSessionEnded(ctx, "user", time.Second)
	m.RecordViolation(ctx, "visibility_lost", "warning")
	m.RecordTranscriptCommit(ctx, "ok")
	m.RecordConnectionState(ctx, "ready")
	m.RecordConnectionError(ctx, "transport")
	m.RecordReport(ctx, "completed")
}

func TestProviderServesPrometheus(t *testing.T) {
	p, err := InitProvider("ghost-interviewer-test", "test")
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	p.Metrics.RecordConnectionError(context.Background(), "credential")

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "interviewer_connection_errors") {
		t.Fatalf("expected connection errors series, got %s", rec.Body.String())
	}
}
