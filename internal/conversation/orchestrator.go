// Package conversation sequences one conversational session: the welcome
// intro, a face snapshot, then a loop of record, verify or register or
// converse, and speak.
//
// The [Orchestrator] runs the whole session on a single goroutine and awaits
// every step in turn, so device sessions and collaborator calls never overlap.
// An activity guard backs that up at runtime.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/facechat/internal/observe"
	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/provider/auth"
	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/provider/synth"
	"github.com/MrWong99/facechat/pkg/types"
)

// ErrAlreadyRunning is returned by [Orchestrator.Start] while a session runs.
var ErrAlreadyRunning = errors.New("conversation: session already running")

// DefaultWelcomeText is spoken when a session starts.
const DefaultWelcomeText = "Welcome to project X. I'm your virtual assistant. How can I help you today?"

const (
	defaultResetGrace           = 300 * time.Millisecond
	defaultMaxRecordingFailures = 3
)

// Recorder records one utterance. *capture.Recorder satisfies it.
type Recorder interface {
	Record(ctx context.Context) (types.AudioClip, error)
}

// ImageSource takes one face snapshot. *capture.ImageCapturer satisfies it.
type ImageSource interface {
	Capture(ctx context.Context) (*types.ImageSnapshot, error)
}

// Speaker plays a clip while driving the face from its marks.
// *playback.Synchronizer satisfies it.
type Speaker interface {
	Play(ctx context.Context, clip types.AudioClip, marks types.SpeechMarkStream) error
}

// Face is reset to neutral after every utterance. *expression.Animator
// satisfies it.
type Face interface {
	ResetFace()
}

// Settings are the tunables that may change between turns.
type Settings struct {
	// WelcomeText is spoken on Start. Empty skips the intro speech.
	WelcomeText string

	// VerificationPrompt, when non-empty, is spoken before the first
	// recording.
	VerificationPrompt string

	// ResetGrace is the pause between the end of playback and ResetFace.
	ResetGrace time.Duration

	// MaxRecordingFailures is how many consecutive non-device recording
	// failures end the session.
	MaxRecordingFailures int
}

// DefaultSettings returns the built-in tunables.
func DefaultSettings() Settings {
	return Settings{
		WelcomeText:          DefaultWelcomeText,
		ResetGrace:           defaultResetGrace,
		MaxRecordingFailures: defaultMaxRecordingFailures,
	}
}

// Config holds the dependencies of an [Orchestrator].
type Config struct {
	Recorder Recorder
	Images   ImageSource
	Speaker  Speaker
	Face     Face
	Synth    synth.Provider
	Auth     auth.Provider
	Dialog   dialog.Provider

	// Settings defaults to DefaultSettings when left zero.
	Settings Settings

	// Metrics is optional.
	Metrics *observe.Metrics
}

type mode int

const (
	modeVerify mode = iota
	modeRegister
	modeConverse
)

// Orchestrator drives a conversation session. All exported methods are safe
// for concurrent use.
type Orchestrator struct {
	recorder Recorder
	images   ImageSource
	speaker  Speaker
	face     Face
	synth    synth.Provider
	auth     auth.Provider
	dialog   dialog.Provider
	metrics  *observe.Metrics
	guard    activityGuard

	mu            sync.Mutex
	settings      Settings
	state         State
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	err           error
	authenticated bool
	mode          mode
	sessionID     string
	image         *types.ImageSnapshot
	listeners     []func(Transition)
}

// New creates an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Recorder == nil {
		errs = append(errs, errors.New("recorder is required"))
	}
	if cfg.Speaker == nil {
		errs = append(errs, errors.New("speaker is required"))
	}
	if cfg.Face == nil {
		errs = append(errs, errors.New("face is required"))
	}
	if cfg.Synth == nil {
		errs = append(errs, errors.New("synth provider is required"))
	}
	if cfg.Auth == nil {
		errs = append(errs, errors.New("auth provider is required"))
	}
	if cfg.Dialog == nil {
		errs = append(errs, errors.New("dialog provider is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	done := make(chan struct{})
	close(done)
	return &Orchestrator{
		recorder: cfg.Recorder,
		images:   cfg.Images,
		speaker:  cfg.Speaker,
		face:     cfg.Face,
		synth:    cfg.Synth,
		auth:     cfg.Auth,
		dialog:   cfg.Dialog,
		metrics:  cfg.Metrics,
		settings: normalizeSettings(cfg.Settings),
		done:     done,
	}, nil
}

// SetSettings replaces the tunables. The change applies from the next step.
func (o *Orchestrator) SetSettings(s Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = normalizeSettings(s)
}

// Settings returns the current tunables.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// OnTransition registers fn to be called after every state change. fn runs on
// the goroutine that made the change and must not block.
func (o *Orchestrator) OnTransition(fn func(Transition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Running reports whether a session is in progress.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Authenticated reports whether the current or last session's speaker has
// been verified or registered.
func (o *Orchestrator) Authenticated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.authenticated
}

// SessionID returns the identifier of the current or last session.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Err returns the error that ended the last session, or nil when it was
// stopped or is still running.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Done is closed when the current session has fully ended.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Start begins a session. The session runs until [Orchestrator.Stop] is
// called, ctx is cancelled, or a terminal error occurs.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.done = make(chan struct{})
	o.err = nil
	o.authenticated = false
	o.mode = modeVerify
	o.image = nil
	o.sessionID = uuid.NewString()
	sessionID := o.sessionID
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("conversation session started", "session_id", sessionID)

	o.setState(runCtx, StatePlayingIntro)
	go o.run(runCtx)
	return nil
}

// Stop ends the running session, releases devices and waits until the loop
// has returned to idle. It is a no-op when no session runs.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel, done := o.cancel, o.done
	o.mu.Unlock()

	cancel()
	<-done
}

func (o *Orchestrator) run(ctx context.Context) {
	defer o.finish(ctx)

	s := o.Settings()
	o.speak(ctx, s.WelcomeText)
	if ctx.Err() != nil {
		return
	}

	o.setState(ctx, StateCapturingImage)
	o.captureImage(ctx)
	if ctx.Err() != nil {
		return
	}

	if prompt := o.Settings().VerificationPrompt; prompt != "" {
		o.setState(ctx, StateAwaitingVerificationPrompt)
		o.speak(ctx, prompt)
	}

	failures := 0
	for ctx.Err() == nil {
		o.setState(ctx, StateRecording)
		clip, err := o.record(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if media.IsAccessError(err) {
				o.fail(fmt.Errorf("conversation: microphone unavailable: %w", err))
				return
			}
			failures++
			maxFailures := o.Settings().MaxRecordingFailures
			slog.Warn("conversation: recording failed",
				"err", err,
				"consecutive_failures", failures,
				"max", maxFailures)
			if failures >= maxFailures {
				o.fail(fmt.Errorf("conversation: %d consecutive recording failures: %w", failures, err))
				return
			}
			continue
		}
		failures = 0
		o.handleTurn(ctx, clip)
	}
}

func (o *Orchestrator) finish(ctx context.Context) {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	cancel()

	o.setState(ctx, StateIdle)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}

	o.mu.Lock()
	o.running = false
	done, sessionID, err := o.done, o.sessionID, o.err
	o.mu.Unlock()

	if f, ok := o.dialog.(dialog.SessionForgetter); ok {
		f.Forget(sessionID)
	}
	if err != nil {
		slog.Error("conversation session ended", "session_id", sessionID, "err", err)
	} else {
		slog.Info("conversation session ended", "session_id", sessionID)
	}
	close(done)
}

func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *Orchestrator) setState(ctx context.Context, to State) {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return
	}
	o.state = to
	listeners := append([]func(Transition){}, o.listeners...)
	o.mu.Unlock()

	slog.Debug("conversation state", "from", from, "to", to)
	if o.metrics != nil {
		o.metrics.RecordStateTransition(context.WithoutCancel(ctx), from.String(), to.String())
	}
	tr := Transition{From: from, To: to, At: time.Now()}
	for _, fn := range listeners {
		fn(tr)
	}
}

func (o *Orchestrator) captureImage(ctx context.Context) {
	if o.images == nil {
		return
	}
	img, err := o.images.Capture(ctx)
	if err != nil {
		slog.Warn("conversation: image capture failed, continuing without a face image", "err", err)
		return
	}
	o.mu.Lock()
	o.image = img
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context) (types.AudioClip, error) {
	release, err := o.guard.enter(activityRecording)
	if err != nil {
		return types.AudioClip{}, err
	}
	defer release()
	return o.recorder.Record(ctx)
}

// network runs one collaborator call under the activity guard.
func network[R any](o *Orchestrator, fn func() (R, error)) (R, error) {
	release, err := o.guard.enter(activityNetwork)
	if err != nil {
		var zero R
		return zero, err
	}
	defer release()
	return fn()
}

// handleTurn processes one recorded utterance according to the current mode.
func (o *Orchestrator) handleTurn(ctx context.Context, clip types.AudioClip) {
	o.mu.Lock()
	m := o.mode
	o.mu.Unlock()

	switch m {
	case modeVerify:
		o.verify(ctx, clip)
	case modeRegister:
		o.register(ctx, clip)
	default:
		o.converse(ctx, clip)
	}
}

func (o *Orchestrator) snapshot() (sessionID string, image *types.ImageSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID, o.image
}

func (o *Orchestrator) verify(ctx context.Context, clip types.AudioClip) {
	o.setState(ctx, StateVerifying)
	sessionID, image := o.snapshot()
	turn := types.NewTurn(types.TurnVerify, image, clip)
	tctx, span := observe.StartTurnSpan(ctx, turn.ID, string(turn.Kind))
	defer span.End()
	log := observe.Logger(tctx)

	res, err := network(o, func() (*auth.Result, error) {
		return o.auth.Verify(tctx, auth.VerifyRequest{SessionID: sessionID, Image: image, Audio: clip})
	})
	if err != nil {
		// Verification is retried with the next utterance.
		o.turnFailed(tctx, span, turn, err)
		return
	}
	turn.ResponseText = res.ResponseText

	if res.Verified() {
		log.Info("speaker verified", "turn_id", turn.ID)
		o.recordTurn(tctx, turn, "verified")
		o.mu.Lock()
		o.authenticated = true
		o.mode = modeConverse
		o.mu.Unlock()
		o.speakResponse(tctx, res.ResponseText)
		if ctx.Err() == nil {
			o.converse(ctx, clip)
		}
		return
	}

	log.Info("speaker not verified, starting registration", "turn_id", turn.ID, "status", res.Status)
	o.recordTurn(tctx, turn, "not_verified")
	o.mu.Lock()
	o.mode = modeRegister
	o.mu.Unlock()
	o.speakResponse(tctx, res.ResponseText)
	if ctx.Err() == nil {
		o.register(ctx, clip)
	}
}

func (o *Orchestrator) register(ctx context.Context, clip types.AudioClip) {
	o.setState(ctx, StateRegistering)
	sessionID, image := o.snapshot()
	turn := types.NewTurn(types.TurnRegister, image, clip)
	tctx, span := observe.StartTurnSpan(ctx, turn.ID, string(turn.Kind))
	defer span.End()

	res, err := network(o, func() (*auth.Result, error) {
		return o.auth.Register(tctx, auth.RegisterRequest{SessionID: sessionID, Image: image, Audio: clip})
	})
	if err != nil {
		o.turnFailed(tctx, span, turn, err)
		return
	}
	turn.ResponseText = res.ResponseText

	if res.Registered() {
		observe.Logger(tctx).Info("speaker registered", "turn_id", turn.ID)
		o.recordTurn(tctx, turn, "registered")
		o.mu.Lock()
		o.authenticated = true
		o.mode = modeConverse
		o.mu.Unlock()
	} else {
		observe.Logger(tctx).Debug("registration continues",
			"turn_id", turn.ID,
			"reason", res.RegisterOutcome())
		o.recordTurn(tctx, turn, "pending")
	}
	o.speakResponse(tctx, res.ResponseText)
}

func (o *Orchestrator) converse(ctx context.Context, clip types.AudioClip) {
	o.setState(ctx, StateConversing)
	sessionID, image := o.snapshot()
	turn := types.NewTurn(types.TurnConverse, image, clip)
	tctx, span := observe.StartTurnSpan(ctx, turn.ID, string(turn.Kind))
	defer span.End()

	reply, err := network(o, func() (*dialog.Reply, error) {
		return o.dialog.Converse(tctx, dialog.Request{SessionID: sessionID, Audio: clip})
	})
	if err != nil {
		o.turnFailed(tctx, span, turn, err)
		return
	}
	turn.ResponseText = reply.Text
	if reply.Transcript != "" {
		observe.Logger(tctx).Debug("user said", "turn_id", turn.ID, "transcript", reply.Transcript)
	}
	o.recordTurn(tctx, turn, "ok")
	o.speakResponse(tctx, reply.Text)
}

func (o *Orchestrator) turnFailed(ctx context.Context, span trace.Span, turn *types.Turn, err error) {
	if ctx.Err() != nil {
		o.recordTurn(ctx, turn, "cancelled")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	observe.Logger(ctx).Warn("conversation: turn failed",
		"turn_id", turn.ID,
		"kind", turn.Kind,
		"err", err)
	o.recordTurn(ctx, turn, "error")
}

func (o *Orchestrator) recordTurn(ctx context.Context, turn *types.Turn, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordTurn(context.WithoutCancel(ctx), string(turn.Kind), outcome)
	}
}

// speakResponse speaks text in the Speaking state.
func (o *Orchestrator) speakResponse(ctx context.Context, text string) {
	if text == "" || ctx.Err() != nil {
		return
	}
	o.setState(ctx, StateSpeaking)
	o.speak(ctx, text)
}

// speak synthesizes and plays text, then resets the face after the grace
// period. Failures are logged; the face is always reset.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	if text == "" {
		return
	}
	defer o.face.ResetFace()

	speech, err := network(o, func() (*synth.Speech, error) {
		return o.synth.Synthesize(ctx, text)
	})
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("conversation: synthesis failed", "err", err)
		}
		return
	}
	release, err := o.guard.enter(activitySpeaking)
	if err != nil {
		return
	}
	err = o.speaker.Play(ctx, speech.Audio, speech.Marks)
	release()
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("conversation: playback failed", "err", err)
		}
		return
	}

	grace := o.Settings().ResetGrace
	if grace <= 0 {
		return
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func normalizeSettings(s Settings) Settings {
	if s == (Settings{}) {
		return DefaultSettings()
	}
	if s.ResetGrace < 0 {
		s.ResetGrace = 0
	}
	if s.MaxRecordingFailures <= 0 {
		s.MaxRecordingFailures = defaultMaxRecordingFailures
	}
	return s
}
