package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/facechat/internal/resilience"
)

func ok(context.Context) error { return nil }

func serveReadyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("x") }})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz(t *testing.T) {
	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "collaborators", Check: ok},
				{Name: "device_host", Check: ok, Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"collaborators": "ok", "device_host": "ok"},
		},
		{
			name: "optional fails",
			checkers: []Checker{
				{Name: "collaborators", Check: ok},
				{Name: "device_host", Check: fail("no host"), Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"collaborators": "ok", "device_host": "warn: no host"},
		},
		{
			name: "required fails",
			checkers: []Checker{
				{Name: "collaborators", Check: fail("circuit open: synth")},
				{Name: "device_host", Check: fail("no host"), Optional: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"collaborators": "fail: circuit open: synth", "device_host": "warn: no host"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serveReadyz(t, New(tt.checkers...))
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%q] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(Checker{Name: "test", Check: ok})
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestDeviceHost(t *testing.T) {
	connected := false
	c := DeviceHost(func() bool { return connected })
	if !c.Optional {
		t.Error("device host check should be optional")
	}
	if err := c.Check(context.Background()); !errors.Is(err, ErrNoDeviceHost) {
		t.Errorf("disconnected: got %v, want ErrNoDeviceHost", err)
	}
	connected = true
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("connected: got %v, want nil", err)
	}
}

func TestBreakers(t *testing.T) {
	synth := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "synth", MaxFailures: 1, ResetTimeout: time.Hour})
	auth := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "auth", MaxFailures: 1, ResetTimeout: time.Hour})
	c := Breakers(synth, auth)

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("closed breakers: got %v, want nil", err)
	}

	_ = synth.Execute(func() error { return errors.New("down") })
	err := c.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "synth") || strings.Contains(err.Error(), "auth") {
		t.Errorf("one open breaker: got %v, want it to name only synth", err)
	}
}
