package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/facechat/internal/observe"
	"github.com/MrWong99/facechat/pkg/provider/auth"
	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/provider/synth"
	"github.com/MrWong99/facechat/pkg/types"
)

// Compile-time interface assertions.
var (
	_ synth.Provider  = (*SynthFallback)(nil)
	_ auth.Provider   = (*Auth)(nil)
	_ dialog.Provider = (*Dialog)(nil)
)

// Option configures a collaborator wrapper.
type Option func(*guard)

// WithRetryPolicy replaces [DefaultRetryPolicy].
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *guard) { g.policy = p }
}

// WithBreaker sets the circuit breaker configuration. The Name field is
// filled in by the wrapper.
func WithBreaker(cfg CircuitBreakerConfig) Option {
	return func(g *guard) { g.breakerCfg = cfg }
}

// WithMetrics records per-call counters and latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *guard) { g.metrics = m }
}

type guard struct {
	collaborator string
	policy       RetryPolicy
	breakerCfg   CircuitBreakerConfig
	metrics      *observe.Metrics
}

func newGuard(collaborator string, opts []Option) *guard {
	g := &guard{collaborator: collaborator, policy: DefaultRetryPolicy()}
	for _, o := range opts {
		o(g)
	}
	if g.breakerCfg.IsFailure == nil {
		g.breakerCfg.IsFailure = countsAsFailure
	}
	return g
}

func (g *guard) newBreaker(name string) *CircuitBreaker {
	cfg := g.breakerCfg
	cfg.Name = name
	return NewCircuitBreaker(cfg)
}

func (g *guard) record(ctx context.Context, op string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		g.metrics.RecordCollaboratorError(ctx, g.collaborator, ErrorKind(err))
	}
	g.metrics.RecordCollaboratorRequest(ctx, g.collaborator, op, status, time.Since(start))
}

// countsAsFailure keeps caller cancellation from tripping a breaker.
func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// ErrorKind classifies err for the collaborator error metric.
func ErrorKind(err error) string {
	var ne *types.NetworkError
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &ne) && ne.StatusCode != 0:
		return "status"
	case errors.As(err, &ne):
		return "transport"
	default:
		return "other"
	}
}

// guarded runs fn through breaker and retry and records the outcome.
func guarded[R any](ctx context.Context, g *guard, cb *CircuitBreaker, op string, fn func(ctx context.Context) (R, error)) (R, error) {
	start := time.Now()
	var res R
	err := cb.Execute(func() error {
		var innerErr error
		res, innerErr = Retry(ctx, g.policy, g.collaborator+"."+op, fn)
		return innerErr
	})
	if errors.Is(err, ErrCircuitOpen) {
		err = &types.NetworkError{Op: g.collaborator + "." + op, Err: err}
	}
	g.record(ctx, op, start, err)
	if err != nil {
		var zero R
		return zero, err
	}
	return res, nil
}

// SynthFallback implements [synth.Provider] with failover across several
// synthesis backends. Every backend sits behind its own breaker and every
// attempt against it is retried per the policy.
type SynthFallback struct {
	g     *guard
	group *FallbackGroup[synth.Provider]
}

// NewSynthFallback creates a [SynthFallback] with primary as the preferred
// backend.
func NewSynthFallback(primary synth.Provider, primaryName string, opts ...Option) *SynthFallback {
	g := newGuard("synth", opts)
	return &SynthFallback{
		g:     g,
		group: NewFallbackGroup(primary, primaryName, FallbackConfig{CircuitBreaker: g.breakerCfg}),
	}
}

// AddFallback registers another synthesis backend.
func (f *SynthFallback) AddFallback(name string, p synth.Provider) {
	f.group.AddFallback(name, p)
}

// Breakers exposes the per-backend breakers for health reporting.
func (f *SynthFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }

// Synthesize implements synth.Provider. When every backend fails the error is
// a [*synth.SynthesisError].
func (f *SynthFallback) Synthesize(ctx context.Context, text string) (*synth.Speech, error) {
	start := time.Now()
	speech, err := ExecuteWithResult(f.group, func(name string, p synth.Provider) (*synth.Speech, error) {
		return Retry(ctx, f.g.policy, "synth."+name, func(ctx context.Context) (*synth.Speech, error) {
			return p.Synthesize(ctx, text)
		})
	})
	if err != nil {
		var se *synth.SynthesisError
		if !errors.As(err, &se) {
			err = &synth.SynthesisError{Provider: "fallback", Err: err}
		}
	}
	f.g.record(ctx, "synthesize", start, err)
	return speech, err
}

// Auth wraps an [auth.Provider] with a breaker, retries and metrics.
type Auth struct {
	next    auth.Provider
	g       *guard
	breaker *CircuitBreaker
}

// NewAuth wraps next. name labels its breaker.
func NewAuth(next auth.Provider, name string, opts ...Option) *Auth {
	g := newGuard("auth", opts)
	return &Auth{next: next, g: g, breaker: g.newBreaker(name)}
}

// Breaker returns the wrapper's breaker for health reporting.
func (a *Auth) Breaker() *CircuitBreaker { return a.breaker }

// Verify implements auth.Provider.
func (a *Auth) Verify(ctx context.Context, req auth.VerifyRequest) (*auth.Result, error) {
	return guarded(ctx, a.g, a.breaker, "verify", func(ctx context.Context) (*auth.Result, error) {
		return a.next.Verify(ctx, req)
	})
}

// Register implements auth.Provider.
func (a *Auth) Register(ctx context.Context, req auth.RegisterRequest) (*auth.Result, error) {
	return guarded(ctx, a.g, a.breaker, "register", func(ctx context.Context) (*auth.Result, error) {
		return a.next.Register(ctx, req)
	})
}

// Dialog wraps a [dialog.Provider] with a breaker, retries and metrics.
type Dialog struct {
	next    dialog.Provider
	g       *guard
	breaker *CircuitBreaker
}

// NewDialog wraps next. name labels its breaker.
func NewDialog(next dialog.Provider, name string, opts ...Option) *Dialog {
	g := newGuard("dialog", opts)
	return &Dialog{next: next, g: g, breaker: g.newBreaker(name)}
}

// Breaker returns the wrapper's breaker for health reporting.
func (d *Dialog) Breaker() *CircuitBreaker { return d.breaker }

// Converse implements dialog.Provider.
func (d *Dialog) Converse(ctx context.Context, req dialog.Request) (*dialog.Reply, error) {
	return guarded(ctx, d.g, d.breaker, "converse", func(ctx context.Context) (*dialog.Reply, error) {
		return d.next.Converse(ctx, req)
	})
}

// Forget passes the end of a session on to the wrapped provider when it keeps
// per-session state.
func (d *Dialog) Forget(sessionID string) {
	if f, ok := d.next.(dialog.SessionForgetter); ok {
		f.Forget(sessionID)
	}
}
