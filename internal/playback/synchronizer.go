// Package playback plays synthesized speech and keeps the face in step with it.
//
// A [Synchronizer] starts one clip on a [media.Player] and walks the clip's
// [types.SpeechMarkStream] with a cursor. On every clock tick it consumes, in
// order, every mark whose time is at or before the current playback position:
// visemes go to the [VisemeSink] (the expression animator), words to the
// optional [WordSink]. Each mark is emitted at most once and never before its
// time. When playback ends naturally the final position is used for one last
// advance; marks beyond the end of the audio are dropped and counted.
package playback

import (
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

// DefaultTickInterval approximates a media element's position update rate.
const DefaultTickInterval = 16 * time.Millisecond

// ErrSessionActive is returned by Play while another clip is playing.
var ErrSessionActive = errors.New("playback: session already active")

// PlaybackError reports that the player failed before the clip finished.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("playback: %v", e.Err) }

func (e *PlaybackError) Unwrap() error { return e.Err }

// VisemeSink receives viseme symbols in playback order.
type VisemeSink interface {
	SetViseme(symbol string)
}

// WordSink receives word boundaries in playback order.
type WordSink interface {
	Word(word string, at time.Duration)
}

// Option is a functional option for configuring a [Synchronizer].
type Option func(*Synchronizer)

// WithTickInterval sets how often the playback position is sampled.
func WithTickInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithWordSink forwards word marks to ws.
func WithWordSink(ws WordSink) Option {
	return func(s *Synchronizer) { s.words = ws }
}

// WithMetrics records emitted and dropped marks to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// Synchronizer plays one clip at a time and emits its speech marks in step.
type Synchronizer struct {
	player  media.Player
	visemes VisemeSink
	words   WordSink
	metrics *observe.Metrics
	tick    time.Duration

	mu     sync.Mutex
	active bool
}

// New creates a Synchronizer that plays through player and sends visemes to
// visemes.
func New(player media.Player, visemes VisemeSink, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		player:  player,
		visemes: visemes,
		tick:    DefaultTickInterval,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Active reports whether a clip is playing.
func (s *Synchronizer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Play plays clip and emits marks as playback reaches them. It blocks until
// the clip has ended (nil), the player failed ([*PlaybackError]), or ctx is
// done (a [*PlaybackError] wrapping ctx's error). The player is stopped on
// every path.
//
// marks must be in ascending time order; an out-of-order stream is logged but
// played as given.
func (s *Synchronizer) Play(ctx context.Context, clip types.AudioClip, marks types.SpeechMarkStream) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.active = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	}()

	if err := marks.Validate(); err != nil {
		slog.Warn("playback: speech marks out of order", "err", err)
	}

	pb, err := s.player.Play(ctx, clip)
	if err != nil {
		return &PlaybackError{Err: err}
	}
	defer func() {
		if err := pb.Stop(); err != nil {
			slog.Warn("playback: stop player", "err", err)
		}
	}()

	cur := &cursor{marks: marks, emit: s.emit}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.record(ctx, cur.next, 0)
			return &PlaybackError{Err: ctx.Err()}

		case <-ticker.C:
			cur.advance(pb.Position())

		case <-pb.Done():
			if err := pb.Err(); err != nil {
				s.record(ctx, cur.next, 0)
				return &PlaybackError{Err: err}
			}
			end := pb.Position()
			cur.advance(end)
			dropped := cur.remaining()
			if dropped > 0 {
				slog.Debug("playback: marks beyond end of audio dropped", "dropped", dropped, "end", end)
			}
			s.record(ctx, cur.next, dropped)
			return nil
		}
	}
}

func (s *Synchronizer) emit(m types.SpeechMark) {
	switch m.Type {
	case types.MarkViseme:
		if s.visemes != nil {
			s.visemes.SetViseme(m.Value)
		}
	case types.MarkWord:
		slog.Debug("playback: word", "word", m.Value, "at", m.Offset())
		if s.words != nil {
			s.words.Word(m.Value, m.Offset())
		}
	default:
		slog.Debug("playback: ignoring unknown mark type", "type", m.Type)
	}
}

func (s *Synchronizer) record(ctx context.Context, emitted, dropped int) {
	if s.metrics != nil {
		s.metrics.RecordSpeechMarks(context.WithoutCancel(ctx), emitted, dropped)
	}
}

// cursor tracks the next mark to emit.
type cursor struct {
	marks types.SpeechMarkStream
	next  int
	emit  func(types.SpeechMark)
}

// advance emits every pending mark whose time is at or before pos.
func (c *cursor) advance(pos time.Duration) {
	for c.next < len(c.marks) && c.marks[c.next].Offset() <= pos {
		c.emit(c.marks[c.next])
		c.next++
	}
}

func (c *cursor) remaining() int { return len(c.marks) - c.next }
