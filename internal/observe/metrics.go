// Package observe provides application-wide observability primitives for
// facechat: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// wires them to a Prometheus registry that the application serves at
// /metrics. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all facechat metrics.
const meterName = "github.com/MrWong99/facechat"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CollaboratorDuration tracks remote collaborator latency. Use with attributes:
	//   attribute.String("collaborator", ...), attribute.String("op", ...)
	CollaboratorDuration metric.Float64Histogram

	// RecordingDuration tracks how long each voice recording lasted. Use with
	// attribute.String("reason", ...) naming why it stopped.
	RecordingDuration metric.Float64Histogram

	// --- Counters ---

	// CollaboratorRequests counts collaborator calls. Use with attributes:
	//   attribute.String("collaborator", ...), attribute.String("op", ...), attribute.String("status", ...)
	CollaboratorRequests metric.Int64Counter

	// Turns counts completed conversation turns. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("outcome", ...)
	Turns metric.Int64Counter

	// StateTransitions counts orchestrator state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// SpeechMarks counts speech marks handled by the playback synchronizer.
	// Use with attribute.String("result", "emitted"|"dropped").
	SpeechMarks metric.Int64Counter

	// --- Error counters ---

	// CollaboratorErrors counts collaborator errors. Use with attributes:
	//   attribute.String("collaborator", ...), attribute.String("kind", ...)
	CollaboratorErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// DeviceHosts tracks the number of connected device hosts.
	DeviceHosts metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// collaborator round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// recordingBuckets covers utterances from a short "yes" to the hard cap.
var recordingBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CollaboratorDuration, err = m.Float64Histogram("facechat.collaborator.duration",
		metric.WithDescription("Latency of remote collaborator calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("facechat.recording.duration",
		metric.WithDescription("Length of recorded user utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CollaboratorRequests, err = m.Int64Counter("facechat.collaborator.requests",
		metric.WithDescription("Total collaborator requests by collaborator, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("facechat.turns",
		metric.WithDescription("Total conversation turns by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("facechat.state_transitions",
		metric.WithDescription("Total orchestrator state transitions."),
	); err != nil {
		return nil, err
	}
	if met.SpeechMarks, err = m.Int64Counter("facechat.speech_marks",
		metric.WithDescription("Total speech marks emitted or dropped during playback."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.CollaboratorErrors, err = m.Int64Counter("facechat.collaborator.errors",
		metric.WithDescription("Total collaborator errors by collaborator and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("facechat.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.DeviceHosts, err = m.Int64UpDownCounter("facechat.device_hosts",
		metric.WithDescription("Number of connected device hosts."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("facechat.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCollaboratorRequest records one collaborator call: the request
// counter with its status and, for completed calls, the latency histogram.
func (m *Metrics) RecordCollaboratorRequest(ctx context.Context, collaborator, op, status string, d time.Duration) {
	m.CollaboratorRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
	m.CollaboratorDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("op", op),
		),
	)
}

// RecordCollaboratorError is a convenience method that records a collaborator
// error counter increment.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator, kind string) {
	m.CollaboratorErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("collaborator", collaborator),
			attribute.String("kind", kind),
		),
	)
}

// RecordRecording records the length of one finished recording.
func (m *Metrics) RecordRecording(ctx context.Context, d time.Duration, reason string) {
	m.RecordingDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTurn is a convenience method that records a turn counter increment.
func (m *Metrics) RecordTurn(ctx context.Context, kind, outcome string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordStateTransition is a convenience method that records an orchestrator
// state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordSpeechMarks records how many marks one playback emitted and dropped.
func (m *Metrics) RecordSpeechMarks(ctx context.Context, emitted, dropped int) {
	if emitted > 0 {
		m.SpeechMarks.Add(ctx, int64(emitted), metric.WithAttributes(attribute.String("result", "emitted")))
	}
	if dropped > 0 {
		m.SpeechMarks.Add(ctx, int64(dropped), metric.WithAttributes(attribute.String("result", "dropped")))
	}
}
