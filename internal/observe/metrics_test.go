package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

// sumValue returns the value of the data point carrying key=value, or -1.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"facechat.collaborator.duration", m.CollaboratorDuration},
		{"facechat.recording.duration", m.RecordingDuration},
		{"facechat.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordCollaboratorRequest(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCollaboratorRequest(ctx, "synth", "synthesize", "ok", 120*time.Millisecond)
	m.RecordCollaboratorRequest(ctx, "synth", "synthesize", "ok", 80*time.Millisecond)
	m.RecordCollaboratorRequest(ctx, "synth", "synthesize", "error", time.Second)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "facechat.collaborator.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumValue(t, rm, "facechat.collaborator.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}

	met := findMetric(rm, "facechat.collaborator.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Count; got != 3 {
		t.Errorf("duration samples = %d, want 3", got)
	}
}

func TestRecordCollaboratorError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordCollaboratorError(context.Background(), "auth", "network")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "facechat.collaborator.errors", "kind", "network"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordTurnAndTransitions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "converse", "ok")
	m.RecordTurn(ctx, "converse", "ok")
	m.RecordTurn(ctx, "verify", "not_verified")
	m.RecordStateTransition(ctx, "Recording", "Verifying")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "facechat.turns", "kind", "converse"); got != 2 {
		t.Errorf("converse turns = %d, want 2", got)
	}
	if got := sumValue(t, rm, "facechat.turns", "outcome", "not_verified"); got != 1 {
		t.Errorf("not_verified turns = %d, want 1", got)
	}
	if got := sumValue(t, rm, "facechat.state_transitions", "to", "Verifying"); got != 1 {
		t.Errorf("transitions to Verifying = %d, want 1", got)
	}
}

func TestRecordSpeechMarks(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordSpeechMarks(context.Background(), 7, 2)
	m.RecordSpeechMarks(context.Background(), 0, 0)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "facechat.speech_marks", "result", "emitted"); got != 7 {
		t.Errorf("emitted = %d, want 7", got)
	}
	if got := sumValue(t, rm, "facechat.speech_marks", "result", "dropped"); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.DeviceHosts.Add(ctx, 1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"facechat.active_sessions", 1},
		{"facechat.device_hosts", 1},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
