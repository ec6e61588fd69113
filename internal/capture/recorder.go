// Package capture records the user's voice and face through the device
// interfaces in pkg/media.
//
// The [Recorder] owns at most one recording session at a time. A session opens
// the microphone, buffers encoded chunks, and polls the stream's energy level
// on a fixed interval. Once the level has stayed at or below the silence
// threshold for the silence duration, the session stops itself; callers may
// also stop it explicitly. Either way the chunks are joined into a single
// [types.AudioClip] delivered through the session's [Recording] and the
// recorder's completion callback, exactly once.
//
// [ImageCapturer] takes a single still photo, releasing the camera on every
// path.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/facechat/internal/observe"
	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/types"
)

// Default voice-activity tunables.
const (
	DefaultSilenceThreshold = 0.12
	DefaultSilenceDuration  = 2 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultMaxDuration      = 30 * time.Second
	defaultFlushTimeout     = 2 * time.Second
)

var (
	// ErrSessionActive is returned by Start while another session is running.
	ErrSessionActive = errors.New("capture: recording session already active")

	// ErrStreamEnded is returned when the microphone stream ended before the
	// session was stopped.
	ErrStreamEnded = errors.New("capture: microphone stream ended unexpectedly")

	// ErrEmptyRecording is returned when a session finished without any audio.
	ErrEmptyRecording = errors.New("capture: recording is empty")
)

// StopReason explains why a recording session ended.
type StopReason string

const (
	StopManual      StopReason = "manual"
	StopSilence     StopReason = "silence"
	StopMaxDuration StopReason = "max_duration"
	StopCancelled   StopReason = "cancelled"
	StopStreamEnded StopReason = "stream_ended"
)

// Config holds the voice-activity tunables for a recording session.
type Config struct {
	// SilenceThreshold is the level in [0, 1] at or below which a sample
	// counts as silence.
	SilenceThreshold float64

	// SilenceDuration is how long the level must stay at or below the
	// threshold, measured from the last voiced sample, before the session
	// stops itself.
	SilenceDuration time.Duration

	// PollInterval is the spacing between level samples.
	PollInterval time.Duration

	// MaxDuration caps a single session.
	MaxDuration time.Duration
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: DefaultSilenceThreshold,
		SilenceDuration:  DefaultSilenceDuration,
		PollInterval:     DefaultPollInterval,
		MaxDuration:      DefaultMaxDuration,
	}
}

// CompletionFunc is called once per session with its final clip or error.
type CompletionFunc func(clip types.AudioClip, err error)

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithConfig sets the voice-activity tunables. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(r *Recorder) { r.cfg = mergeConfig(r.cfg, cfg) }
}

// WithOnComplete registers the completion callback.
func WithOnComplete(fn CompletionFunc) Option {
	return func(r *Recorder) { r.onComplete = fn }
}

// WithMetrics records session lengths to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithFlushTimeout bounds how long Stop waits for the final chunk.
func WithFlushTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.flushTimeout = d }
}

// Recorder captures one utterance at a time from a [media.Microphone].
// All methods are safe for concurrent use.
type Recorder struct {
	mic          media.Microphone
	onComplete   CompletionFunc
	metrics      *observe.Metrics
	flushTimeout time.Duration

	mu      sync.Mutex
	cfg     Config
	session *session
}

// NewRecorder creates a Recorder reading from mic.
func NewRecorder(mic media.Microphone, opts ...Option) *Recorder {
	r := &Recorder{
		mic:          mic,
		cfg:          DefaultConfig(),
		flushTimeout: defaultFlushTimeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetConfig replaces the tunables. A running session keeps the values it was
// started with; the change applies from the next Start.
func (r *Recorder) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = mergeConfig(DefaultConfig(), cfg)
}

// Config returns the tunables the next session will use.
func (r *Recorder) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Active reports whether a session is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// Start opens the microphone and begins a session. The returned [Recording]
// resolves when the session stops for any reason. Cancelling ctx stops the
// session and resolves the recording with ctx's error.
//
// Start returns an error wrapping [*media.AccessError] when the microphone is
// unavailable, and [ErrSessionActive] when a session is already running.
func (r *Recorder) Start(ctx context.Context) (*Recording, error) {
	r.mu.Lock()
	if r.session != nil {
		r.mu.Unlock()
		return nil, ErrSessionActive
	}
	cfg := r.cfg
	// Reserve the slot while the microphone opens so a concurrent Start fails fast.
	s := &session{
		rec:     &Recording{done: make(chan struct{})},
		cfg:     cfg,
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	r.session = s
	r.mu.Unlock()

	stream, err := r.mic.Open(ctx)
	if err != nil {
		r.release(s)
		return nil, fmt.Errorf("capture: open microphone: %w", err)
	}

	r.mu.Lock()
	s.stream = stream
	s.sampler = NewLevelSampler(stream)
	s.rec.startedAt = time.Now()
	stopPending := s.stopPending
	r.mu.Unlock()
	slog.Debug("capture: recording started", "mime", stream.MIMEType(),
		"silence_threshold", cfg.SilenceThreshold, "silence_duration", cfg.SilenceDuration)

	go s.collect()
	if stopPending {
		slog.Debug("capture: stop requested while microphone was opening")
		r.finish(s, StopManual, nil)
		return s.rec, nil
	}
	go r.poll(ctx, s)
	return s.rec, nil
}

// Stop ends the running session and waits for its clip to be finalized. It is
// a no-op when no session is running, so calling it twice yields exactly one
// completion. Called while Start is still opening the microphone, Stop returns
// at once and the session finishes as soon as the stream is attached.
func (r *Recorder) Stop() {
	r.mu.Lock()
	s := r.session
	if s != nil && s.stream == nil {
		s.stopPending = true
		s = nil
	}
	r.mu.Unlock()
	if s == nil {
		return
	}
	r.finish(s, StopManual, nil)
}

// Record runs one full session: Start, then wait for the silence detector (or
// ctx) to end it.
func (r *Recorder) Record(ctx context.Context) (types.AudioClip, error) {
	rec, err := r.Start(ctx)
	if err != nil {
		return types.AudioClip{}, err
	}
	<-rec.Done()
	return rec.Result()
}

// poll samples the level every PollInterval until the session ends.
func (r *Recorder) poll(ctx context.Context, s *session) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	det := newSilenceDetector(s.cfg.SilenceThreshold, s.cfg.SilenceDuration, s.rec.startedAt)
	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			r.finish(s, StopCancelled, ctx.Err())
			return
		case <-s.drained:
			// Chunks closed without Stop: the device went away.
			r.finish(s, StopStreamEnded, ErrStreamEnded)
			return
		case now := <-ticker.C:
			level, err := s.sampler.Sample()
			if err != nil {
				slog.Warn("capture: level sample failed", "err", err)
				continue
			}
			if det.observe(level, now) {
				slog.Debug("capture: silence detected", "level", level)
				r.finish(s, StopSilence, nil)
				return
			}
			if s.cfg.MaxDuration > 0 && now.Sub(s.rec.startedAt) >= s.cfg.MaxDuration {
				slog.Info("capture: recording hit max duration", "max", s.cfg.MaxDuration)
				r.finish(s, StopMaxDuration, nil)
				return
			}
		}
	}
}

// finish tears the session down exactly once.
func (r *Recorder) finish(s *session, reason StopReason, cause error) {
	s.once.Do(func() {
		close(s.quit)
		if err := s.stream.Stop(); err != nil {
			slog.Warn("capture: stop microphone", "err", err)
		}

		select {
		case <-s.drained:
		case <-time.After(r.flushTimeout):
			slog.Warn("capture: final chunk not flushed in time", "timeout", r.flushTimeout)
		}

		clip := s.clip()
		err := cause
		if err == nil && clip.Empty() {
			err = ErrEmptyRecording
		}
		if err != nil {
			clip = types.AudioClip{}
		}

		elapsed := time.Since(s.rec.startedAt)
		s.rec.resolve(clip, err, reason, elapsed)
		r.release(s)

		if r.metrics != nil {
			r.metrics.RecordRecording(context.Background(), elapsed, string(reason))
		}
		slog.Debug("capture: recording finished", "reason", reason, "bytes", len(clip.Data), "elapsed", elapsed, "err", err)

		if r.onComplete != nil {
			r.onComplete(clip, err)
		}
	})
}

func (r *Recorder) release(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == s {
		r.session = nil
	}
}

// session is the state of one recording.
type session struct {
	rec     *Recording
	cfg     Config
	stream  media.MicStream
	sampler *LevelSampler

	// stopPending is set by Stop before stream is attached; guarded by
	// Recorder.mu.
	stopPending bool

	quit    chan struct{}
	drained chan struct{}
	once    sync.Once

	mu  sync.Mutex
	buf bytes.Buffer
}

// collect buffers chunks until the stream closes them.
func (s *session) collect() {
	defer close(s.drained)
	for chunk := range s.stream.Chunks() {
		s.mu.Lock()
		s.buf.Write(chunk)
		s.mu.Unlock()
	}
}

func (s *session) clip() types.AudioClip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.AudioClip{
		Data:     bytes.Clone(s.buf.Bytes()),
		MIMEType: s.stream.MIMEType(),
	}
}

// Recording is the awaitable result of one recording session.
type Recording struct {
	done chan struct{}

	startedAt time.Time
	clip      types.AudioClip
	err       error
	reason    StopReason
	elapsed   time.Duration
}

func (rec *Recording) resolve(clip types.AudioClip, err error, reason StopReason, elapsed time.Duration) {
	rec.clip = clip
	rec.err = err
	rec.reason = reason
	rec.elapsed = elapsed
	close(rec.done)
}

// Done is closed once the session has stopped.
func (rec *Recording) Done() <-chan struct{} { return rec.done }

// Wait blocks until the session stops or ctx is done. Giving up on ctx does
// not stop the session.
func (rec *Recording) Wait(ctx context.Context) (types.AudioClip, error) {
	select {
	case <-rec.done:
		return rec.Result()
	case <-ctx.Done():
		return types.AudioClip{}, ctx.Err()
	}
}

// Result returns the clip or error. Only valid after Done is closed.
func (rec *Recording) Result() (types.AudioClip, error) {
	return rec.clip, rec.err
}

// Reason returns why the session stopped. Only valid after Done is closed.
func (rec *Recording) Reason() StopReason { return rec.reason }

// Elapsed returns how long the session ran. Only valid after Done is closed.
func (rec *Recording) Elapsed() time.Duration { return rec.elapsed }

func mergeConfig(base, override Config) Config {
	if override.SilenceThreshold > 0 {
		base.SilenceThreshold = override.SilenceThreshold
	}
	if override.SilenceDuration > 0 {
		base.SilenceDuration = override.SilenceDuration
	}
	if override.PollInterval > 0 {
		base.PollInterval = override.PollInterval
	}
	if override.MaxDuration > 0 {
		base.MaxDuration = override.MaxDuration
	}
	return base
}
