// Package app wires all facechat subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the face until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject a metrics instance via [WithMetrics]. Collaborator
// providers always come from the caller, so tests pass mocks in [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/facechat/internal/bridge"
	"github.com/MrWong99/facechat/internal/capture"
	"github.com/MrWong99/facechat/internal/config"
	"github.com/MrWong99/facechat/internal/conversation"
	"github.com/MrWong99/facechat/internal/expression"
	"github.com/MrWong99/facechat/internal/health"
	"github.com/MrWong99/facechat/internal/observe"
	"github.com/MrWong99/facechat/internal/playback"
	"github.com/MrWong99/facechat/internal/resilience"
	"github.com/MrWong99/facechat/pkg/provider/auth"
	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/provider/synth"
)

const (
	// imageTimeout bounds one face snapshot on the device host.
	imageTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
	serverStopTimeout = 5 * time.Second
)

// NamedSynth is a synthesis fallback with the name it is reported under.
type NamedSynth struct {
	Name     string
	Provider synth.Provider
}

// Providers holds the collaborator clients. Populated by main.go via the
// config registry. Synth, Auth and Dialog are required.
type Providers struct {
	Synth          synth.Provider
	SynthFallbacks []NamedSynth
	Auth           auth.Provider
	Dialog         dialog.Provider
}

// App owns all subsystem lifetimes and serves the device host.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	scrape    http.Handler
	level     *slog.LevelVar
	watcher   *config.Watcher

	// Subsystems: initialised in New, torn down in Shutdown.
	bridge   *bridge.Bridge
	recorder *capture.Recorder
	animator *expression.Animator
	speaker  *playback.Synchronizer
	synth    *resilience.SynthFallback
	auth     *resilience.Auth
	dialog   *resilience.Dialog
	orch     *conversation.Orchestrator
	health   *health.Handler
	handler  http.Handler
	server   *http.Server

	// sessionCtx parents conversation sessions started over HTTP.
	sessionCtx context.Context

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry records to t.Metrics and serves t's registry at /metrics.
// Without it the default Prometheus registry is served.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) {
		a.metrics = t.Metrics
		a.scrape = t.Handler()
	}
}

// WithLevelVar lets hot reloads change the log level of the handler built
// around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithWatcher runs w alongside the server. Its onChange callback should call
// [App.ApplyConfig].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. ctx bounds every
// conversation session the device host starts.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers are required")
	}
	a := &App{
		cfg:        cfg,
		providers:  providers,
		sessionCtx: ctx,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.scrape == nil {
		a.scrape = promhttp.Handler()
	}

	// ── 1. Collaborators ─────────────────────────────────────────────────
	if err := a.initCollaborators(); err != nil {
		return nil, fmt.Errorf("app: init collaborators: %w", err)
	}

	// ── 2. Devices and face ──────────────────────────────────────────────
	a.bridge = bridge.New(ctx, bridge.WithMetrics(a.metrics), bridge.WithOriginPatterns(cfg.Server.AllowedOrigins...))
	a.animator = expression.New(
		expression.WithSpeed(cfg.Animation.Speed),
		expression.WithBaseDuration(cfg.Animation.BaseDuration),
	)
	a.speaker = playback.New(a.bridge, a.animator,
		playback.WithTickInterval(cfg.Playback.TickInterval),
		playback.WithWordSink(a.bridge),
		playback.WithMetrics(a.metrics),
	)
	a.recorder = capture.NewRecorder(a.bridge,
		capture.WithConfig(recorderConfig(cfg.VAD)),
		capture.WithMetrics(a.metrics),
		capture.WithOnComplete(a.bridge.Recorded),
	)

	// ── 3. Orchestrator ──────────────────────────────────────────────────
	orch, err := conversation.New(conversation.Config{
		Recorder: a.recorder,
		Images:   capture.NewImageCapturer(a.bridge.Camera(), imageTimeout),
		Speaker:  a.speaker,
		Face:     a.animator,
		Synth:    a.synth,
		Auth:     a.auth,
		Dialog:   a.dialog,
		Settings: conversationSettings(cfg.Conversation),
		Metrics:  a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.orch = orch
	a.bridge.SetController(orch)
	orch.OnTransition(func(tr conversation.Transition) {
		a.bridge.NotifyState(tr.To.String())
	})
	a.closers = append(a.closers, func() error {
		orch.Stop()
		return nil
	})

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCollaborators wraps each provider in retries and a circuit breaker.
func (a *App) initCollaborators() error {
	var errs []error
	if a.providers.Synth == nil {
		errs = append(errs, errors.New("synth provider is required"))
	}
	if a.providers.Auth == nil {
		errs = append(errs, errors.New("auth provider is required"))
	}
	if a.providers.Dialog == nil {
		errs = append(errs, errors.New("dialog provider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c := a.cfg.Collaborators
	policy := resilience.DefaultRetryPolicy()
	if c.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay > 0 {
		policy.BaseDelay = c.Retry.BaseDelay
	}
	if c.Retry.MaxDelay > 0 {
		policy.MaxDelay = c.Retry.MaxDelay
	}
	if c.Timeout > 0 {
		policy.AttemptTimeout = c.Timeout
	}
	opts := []resilience.Option{
		resilience.WithRetryPolicy(policy),
		resilience.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  c.Breaker.MaxFailures,
			ResetTimeout: c.Breaker.ResetTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("collaborator circuit changed", "breaker", name, "from", from, "to", to)
			},
		}),
		resilience.WithMetrics(a.metrics),
	}

	a.synth = resilience.NewSynthFallback(a.providers.Synth, collaboratorName("synth", c.Synth.Name), opts...)
	for i, fb := range a.providers.SynthFallbacks {
		a.synth.AddFallback(collaboratorName("synth", nameOr(fb.Name, fmt.Sprintf("fallback-%d", i))), fb.Provider)
	}
	a.auth = resilience.NewAuth(a.providers.Auth, collaboratorName("auth", c.Auth.Name), opts...)
	a.dialog = resilience.NewDialog(a.providers.Dialog, collaboratorName("dialog", c.Dialog.Name), opts...)
	return nil
}

// initHTTP builds the mux: device host socket, session API, health, metrics
// and the optional static page.
func (a *App) initHTTP() {
	breakers := append(a.synth.Breakers(), a.auth.Breaker(), a.dialog.Breaker())
	a.health = health.New(
		health.DeviceHost(a.bridge.Connected),
		health.Breakers(breakers...),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /ws", a.bridge)
	a.registerSessionAPI(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.scrape)
	if dir := a.cfg.Server.StaticDir; dir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(dir)))
	}

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP, drives the render loop and, when configured, polls the
// config file. It blocks until ctx is cancelled or a component fails, and
// returns nil after a clean cancellation.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return bridge.RenderLoop(gctx, a.animator, a.bridge, a.cfg.Animation.FrameRate)
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.orch.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), serverStopTimeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// Handler returns the fully wrapped HTTP handler. Run serves it; tests can
// mount it on an httptest server.
func (a *App) Handler() http.Handler { return a.handler }

// Orchestrator returns the conversation orchestrator.
func (a *App) Orchestrator() *conversation.Orchestrator { return a.orch }

// ApplyConfig applies the hot-reloadable differences between old and new.
// Sections that need a restart are only logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.VADChanged {
		a.recorder.SetConfig(recorderConfig(new.VAD))
		slog.Info("recorder tunables updated", "threshold", new.VAD.SilenceThreshold, "silence", new.VAD.SilenceDuration)
	}
	if diff.AnimationSpeedChanged {
		a.animator.SetSpeed(new.Animation.Speed)
		slog.Info("animation speed updated", "speed", new.Animation.Speed)
	}
	if diff.ConversationChanged {
		a.orch.SetSettings(conversationSettings(new.Conversation))
		slog.Info("conversation settings updated")
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", diff.RestartRequired)
	}
	a.cfg = new
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.watcher != nil {
			a.watcher.Stop()
		}
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func recorderConfig(v config.VADConfig) capture.Config {
	return capture.Config{
		SilenceThreshold: v.SilenceThreshold,
		SilenceDuration:  v.SilenceDuration,
		PollInterval:     v.PollInterval,
		MaxDuration:      v.MaxDuration,
	}
}

func conversationSettings(c config.ConversationConfig) conversation.Settings {
	return conversation.Settings{
		WelcomeText:          c.WelcomeText,
		VerificationPrompt:   c.VerificationPrompt,
		ResetGrace:           c.ResetGrace,
		MaxRecordingFailures: c.MaxRecordingFailures,
	}
}

// SlogLevel converts a config.LogLevel to slog.Level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func nameOr(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// collaboratorName labels breakers and metrics, e.g. "synth/http".
func collaboratorName(kind, name string) string {
	if name == "" {
		return kind
	}
	return kind + "/" + name
}
