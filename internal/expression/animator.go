// Package expression drives the face model's blend-shape weights from the
// phonetic content of synthesized speech.
//
// An [Animator] holds the displayed [types.ExpressionFrame]. Each viseme
// delivered by the playback synchronizer is mapped to a phoneme and then to a
// partial set of target weights; [Animator.Tick], called once per render
// frame, linearly interpolates every targeted index from its value in the
// current expression (0 when absent) to the target over a fixed duration (130ms divided by the animation speed).
// Indices not named by the target keep their last value.
//
// Visemes arrive from the playback goroutine while the render loop ticks and
// snapshots from another, so all state is guarded by one mutex and renderers
// only ever receive copies.
package expression

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/facechat/pkg/types"
)

// DefaultBaseDuration is the interpolation duration at speed 1.
const DefaultBaseDuration = 130 * time.Millisecond

// Option is a functional option for configuring an [Animator].
type Option func(*Animator)

// WithSpeed sets the animation speed multiplier. Non-positive values are ignored.
func WithSpeed(speed float64) Option {
	return func(a *Animator) {
		if speed > 0 {
			a.speed = speed
		}
	}
}

// WithBaseDuration sets the interpolation duration at speed 1.
func WithBaseDuration(d time.Duration) Option {
	return func(a *Animator) {
		if d > 0 {
			a.baseDuration = d
		}
	}
}

// WithClock replaces time.Now as the animator's clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Animator) { a.now = now }
}

// Animator interpolates blend-shape weights toward the most recent viseme.
// All methods are safe for concurrent use.
type Animator struct {
	mu sync.Mutex

	baseDuration time.Duration
	speed        float64
	now          func() time.Time

	// current is the last fully reached target.
	current types.ExpressionFrame
	// from holds the current values of the target's indices when the
	// active interpolation started.
	from   types.ExpressionFrame
	target types.ExpressionFrame
	frame  types.ExpressionFrame

	startedAt time.Time
	animating bool
}

// New creates an Animator with an all-zero face.
func New(opts ...Option) *Animator {
	a := &Animator{
		baseDuration: DefaultBaseDuration,
		speed:        1,
		now:          time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	a.resetLocked()
	return a
}

// SetViseme maps symbol to its phoneme (falling back to [DefaultPhoneme]) and
// starts interpolating toward that phoneme's weights.
func (a *Animator) SetViseme(symbol string) {
	phoneme, ok := PhonemeFor(symbol)
	if !ok {
		slog.Debug("expression: unmapped viseme, using default phoneme", "viseme", symbol, "phoneme", phoneme)
	}
	a.SetPhoneme(phoneme)
}

// SetPhoneme starts interpolating toward phoneme's weights. An unknown phoneme
// yields an empty target, which leaves every weight where it is.
//
// Every targeted index starts from its value in the last fully reached
// expression, or 0 when that expression did not name it. A phoneme arriving
// mid-interpolation therefore restarts from the current expression, not from
// the values on screen.
func (a *Animator) SetPhoneme(phoneme string) {
	target, _ := PhonemeWeights(phoneme)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.from = make(types.ExpressionFrame, len(target))
	for k := range target {
		a.from[k] = a.current[k]
	}
	a.target = target
	a.startedAt = a.now()
	a.animating = true
}

// Tick advances the interpolation to now. The render loop calls it once per
// frame before taking a [Animator.Snapshot].
func (a *Animator) Tick(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.animating {
		return
	}

	t := 1.0
	if d := a.durationLocked(); d > 0 {
		t = float64(now.Sub(a.startedAt)) / float64(d)
	}
	t = max(0, min(t, 1))

	for k, to := range a.target {
		from := a.from[k]
		a.frame[k] = from + (to-from)*t
	}
	if t >= 1 || len(a.target) == 0 {
		a.current = a.target.Clone()
		a.animating = false
	}
}

// Snapshot returns a copy of the displayed frame.
func (a *Animator) Snapshot() types.ExpressionFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frame.Clone()
}

// Current returns a copy of the last fully reached target.
func (a *Animator) Current() types.ExpressionFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.Clone()
}

// Animating reports whether an interpolation is in progress.
func (a *Animator) Animating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.animating
}

// ResetFace zeroes every weight, forgets the current and target expressions,
// and stops any running interpolation.
func (a *Animator) ResetFace() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

// SetSpeed changes the animation speed multiplier. Non-positive values are
// ignored. Takes effect on the next Tick.
func (a *Animator) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.speed = speed
}

// Duration returns the current interpolation duration.
func (a *Animator) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.durationLocked()
}

func (a *Animator) durationLocked() time.Duration {
	return time.Duration(float64(a.baseDuration) / a.speed)
}

func (a *Animator) resetLocked() {
	a.frame = make(types.ExpressionFrame, len(blendShapes))
	for _, k := range blendShapes {
		a.frame[k] = 0
	}
	a.current = types.ExpressionFrame{}
	a.from = types.ExpressionFrame{}
	a.target = types.ExpressionFrame{}
	a.animating = false
}
