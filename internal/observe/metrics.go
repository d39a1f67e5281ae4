// Package observe provides observability primitives for the survey capture
// client: OpenTelemetry metrics and the Prometheus exporter bridge that makes
// them scrapeable from the local /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([Default]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all client metrics.
const meterName = "github.com/ilxomkh/survey"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// UploadDuration tracks the latency of audio chunk uploads.
	UploadDuration metric.Float64Histogram

	// UploadErrors counts failed audio chunk uploads. The chunk is retained
	// for the finalize flush, so this is a retry indicator, not data loss.
	UploadErrors metric.Int64Counter

	// LocationUpdates counts position samples pushed to the gateway.
	LocationUpdates metric.Int64Counter

	// LocationErrors counts failed position pushes (logged and swallowed
	// during steady state).
	LocationErrors metric.Int64Counter

	// SlicesRecorded counts audio slices emitted by the recorder.
	SlicesRecorded metric.Int64Counter

	// OutstandingChunks tracks the number of recorded-but-unacknowledged
	// audio chunks.
	OutstandingChunks metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live capture sessions (0 or 1 per
	// process, but an up-down counter keeps the accounting honest).
	ActiveSessions metric.Int64UpDownCounter

	// SessionsCompleted counts sessions that reached the completed state.
	SessionsCompleted metric.Int64Counter

	// SessionsFailed counts sessions that ended in the failed state. Use
	// with attribute.String("phase", "initializing"|"finalizing").
	SessionsFailed metric.Int64Counter

	// HTTPRequestDuration tracks local listener request time (proxy, health).
	// Use with attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// mobile-network uploads.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.UploadDuration, err = m.Float64Histogram("survey.upload.duration",
		metric.WithDescription("Latency of audio chunk uploads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadErrors, err = m.Int64Counter("survey.upload.errors",
		metric.WithDescription("Failed audio chunk uploads (chunk retained for retry)."),
	); err != nil {
		return nil, err
	}
	if met.LocationUpdates, err = m.Int64Counter("survey.location.updates",
		metric.WithDescription("Position samples pushed to the gateway."),
	); err != nil {
		return nil, err
	}
	if met.LocationErrors, err = m.Int64Counter("survey.location.errors",
		metric.WithDescription("Failed position pushes."),
	); err != nil {
		return nil, err
	}
	if met.SlicesRecorded, err = m.Int64Counter("survey.slices.recorded",
		metric.WithDescription("Audio slices emitted by the recorder."),
	); err != nil {
		return nil, err
	}
	if met.OutstandingChunks, err = m.Int64UpDownCounter("survey.chunks.outstanding",
		metric.WithDescription("Recorded audio chunks not yet acknowledged by the gateway."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("survey.sessions.active",
		metric.WithDescription("Live capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCompleted, err = m.Int64Counter("survey.sessions.completed",
		metric.WithDescription("Capture sessions completed."),
	); err != nil {
		return nil, err
	}
	if met.SessionsFailed, err = m.Int64Counter("survey.sessions.failed",
		metric.WithDescription("Capture sessions that ended in the failed state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("survey.http.duration",
		metric.WithDescription("Local listener request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
	defaultErr     error
)

// Default returns the process-wide [Metrics] instance built from the global
// OTel meter provider. The first call wins; call it after [InitProvider].
func Default() (*Metrics, error) {
	defaultOnce.Do(func() {
		defaultMetrics, defaultErr = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics, defaultErr
}
