package observe_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ilxomkh/survey/internal/observe"
)

// newTestMetrics builds a Metrics backed by a manual reader so tests can
// collect recorded values.
func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	return m, reader
}

// collect gathers all exported metrics into a name-indexed map.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	t.Parallel()

	m, _ := newTestMetrics(t)
	if m.UploadDuration == nil || m.UploadErrors == nil || m.LocationUpdates == nil ||
		m.OutstandingChunks == nil || m.ActiveSessions == nil ||
		m.SessionsCompleted == nil || m.SessionsFailed == nil {
		t.Fatal("expected all instruments to be non-nil")
	}
}

func TestMetrics_UploadRecording(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.UploadDuration.Record(ctx, 0.42)
	m.UploadErrors.Add(ctx, 1)
	m.OutstandingChunks.Add(ctx, 3)
	m.OutstandingChunks.Add(ctx, -2)

	got := collect(t, reader)

	hist, ok := got["survey.upload.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("survey.upload.duration missing or wrong type: %+v", got["survey.upload.duration"])
	}
	if n := hist.DataPoints[0].Count; n != 1 {
		t.Errorf("upload duration count = %d, want 1", n)
	}

	errsSum, ok := got["survey.upload.errors"].Data.(metricdata.Sum[int64])
	if !ok || errsSum.DataPoints[0].Value != 1 {
		t.Errorf("upload errors = %+v, want 1", got["survey.upload.errors"])
	}

	outSum, ok := got["survey.chunks.outstanding"].Data.(metricdata.Sum[int64])
	if !ok || outSum.DataPoints[0].Value != 1 {
		t.Errorf("outstanding chunks = %+v, want 1", got["survey.chunks.outstanding"])
	}
}

func TestMetrics_SessionsFailedPhaseAttribute(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	m.SessionsFailed.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("phase", "initializing")))

	got := collect(t, reader)
	sum, ok := got["survey.sessions.failed"].Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 {
		t.Fatalf("sessions failed = %+v", got["survey.sessions.failed"])
	}
	phase, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("phase"))
	if phase.AsString() != "initializing" {
		t.Errorf("phase attribute = %q, want initializing", phase.AsString())
	}
}
