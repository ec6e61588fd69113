package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/facechat/internal/observe"
	"github.com/MrWong99/facechat/pkg/provider/auth"
	authmock "github.com/MrWong99/facechat/pkg/provider/auth/mock"
	"github.com/MrWong99/facechat/pkg/provider/dialog"
	dialogmock "github.com/MrWong99/facechat/pkg/provider/dialog/mock"
	"github.com/MrWong99/facechat/pkg/provider/synth"
	synthmock "github.com/MrWong99/facechat/pkg/provider/synth/mock"
	"github.com/MrWong99/facechat/pkg/types"
)

var (
	errUnavailable = &types.NetworkError{Op: "test", StatusCode: http.StatusServiceUnavailable}
	errRejected    = &types.NetworkError{Op: "test", StatusCode: http.StatusUnprocessableEntity}
)

func quickOpts(extra ...Option) []Option {
	return append([]Option{
		WithRetryPolicy(fastPolicy(3)),
		WithBreaker(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}),
	}, extra...)
}

func TestSynthFallback_RetriesBeforeFailover(t *testing.T) {
	primary := &synthmock.Provider{Errs: []error{
		&synth.SynthesisError{Provider: "primary", Err: errUnavailable},
	}}
	secondary := &synthmock.Provider{}

	fb := NewSynthFallback(primary, "primary", quickOpts()...)
	fb.AddFallback("secondary", secondary)

	speech, err := fb.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.Audio.Data) != "hello" {
		t.Errorf("audio = %q, want hello", speech.Audio.Data)
	}
	if n := len(primary.Texts()); n != 2 {
		t.Errorf("primary calls = %d, want 2 (one retry)", n)
	}
	if n := len(secondary.Texts()); n != 0 {
		t.Errorf("secondary calls = %d, want 0", n)
	}
}

func TestSynthFallback_Failover(t *testing.T) {
	primary := &synthmock.Provider{Err: &synth.SynthesisError{Provider: "primary", Err: errRejected}}
	secondary := &synthmock.Provider{}

	fb := NewSynthFallback(primary, "primary", quickOpts()...)
	fb.AddFallback("secondary", secondary)

	if _, err := fb.Synthesize(context.Background(), "hi"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if n := len(primary.Texts()); n != 1 {
		t.Errorf("primary calls = %d, want 1: 422 is not retryable", n)
	}
	if n := len(secondary.Texts()); n != 1 {
		t.Errorf("secondary calls = %d, want 1", n)
	}
}

func TestSynthFallback_AllOpenIsSynthesisError(t *testing.T) {
	primary := &synthmock.Provider{Err: &synth.SynthesisError{Provider: "primary", Err: errRejected}}
	fb := NewSynthFallback(primary, "primary", quickOpts()...)

	for i := 0; i < 2; i++ {
		_, _ = fb.Synthesize(context.Background(), "x")
	}
	_, err := fb.Synthesize(context.Background(), "x")
	var se *synth.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SynthesisError", err)
	}
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
	if fb.Breakers()[0].State() != StateOpen {
		t.Errorf("breaker = %v, want open", fb.Breakers()[0].State())
	}
}

func TestAuth_RetriesTransientFailures(t *testing.T) {
	next := &authmock.Provider{VerifyErrs: []error{errUnavailable, nil}}
	a := NewAuth(next, "auth-http", quickOpts()...)

	res, err := a.Verify(context.Background(), auth.VerifyRequest{Audio: types.AudioClip{Data: []byte("a")}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Verified() {
		t.Errorf("status = %q, want verified", res.Status)
	}
	verifies, _ := next.Calls()
	if len(verifies) != 2 {
		t.Errorf("verify calls = %d, want 2", len(verifies))
	}
}

func TestAuth_OpenBreakerIsNetworkError(t *testing.T) {
	next := &authmock.Provider{RegisterErr: errRejected}
	a := NewAuth(next, "auth-http", quickOpts()...)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = a.Register(ctx, auth.RegisterRequest{})
	}
	_, err := a.Register(ctx, auth.RegisterRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if !types.IsNetworkError(err) {
		t.Errorf("err = %v, want it wrapped in *NetworkError", err)
	}
	if a.Breaker().Name() != "auth-http" {
		t.Errorf("breaker name = %q", a.Breaker().Name())
	}
}

func TestDialog_CancellationDoesNotTrip(t *testing.T) {
	next := &dialogmock.Provider{Err: context.Canceled}
	d := NewDialog(next, "dialog", quickOpts()...)

	for i := 0; i < 5; i++ {
		if _, err := d.Converse(context.Background(), dialog.Request{Text: "hi"}); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if d.Breaker().State() != StateClosed {
		t.Errorf("breaker = %v, want closed", d.Breaker().State())
	}
}

func TestDialog_ForwardsForget(t *testing.T) {
	next := &dialogmock.Provider{}
	d := NewDialog(next, "dialog", quickOpts()...)
	d.Forget("session-1")
	if len(next.Forgotten) != 1 || next.Forgotten[0] != "session-1" {
		t.Errorf("Forgotten = %v, want [session-1]", next.Forgotten)
	}
}

func TestDialog_RecordsMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	m, err := observe.NewMetrics(metric.NewMeterProvider(metric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	next := &dialogmock.Provider{Errs: []error{errRejected}}
	d := NewDialog(next, "dialog", quickOpts(WithMetrics(m))...)

	_, _ = d.Converse(context.Background(), dialog.Request{Text: "one"})
	_, _ = d.Converse(context.Background(), dialog.Request{Text: "two"})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	statuses := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "facechat.collaborator.requests" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("requests data = %T, want Sum[int64]", md.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("status")
				statuses[v.AsString()] += dp.Value
			}
		}
	}
	if statuses["ok"] != 1 || statuses["error"] != 1 {
		t.Errorf("request statuses = %v, want ok:1 error:1", statuses)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrCircuitOpen, "circuit_open"},
		{context.Canceled, "cancelled"},
		{&types.NetworkError{Op: "x", Err: context.DeadlineExceeded}, "timeout"},
		{errRejected, "status"},
		{&types.NetworkError{Op: "x", Err: errTest}, "transport"},
		{errTest, "other"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
