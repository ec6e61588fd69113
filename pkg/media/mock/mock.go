// Package mock provides in-memory implementations of the [media] device
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts, and they expose exported fields that tests set to
// control results.
//
// Typical usage:
//
//	stream := mock.NewMicStream("audio/webm", []byte("chunk-1"))
//	stream.SetSpectrum([]uint8{200, 200, 200})
//	mic := &mock.Microphone{Stream: stream}
//	rec := capture.NewRecorder(mic)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/types"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [media.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Stream is returned by Open. When nil, Open creates a fresh empty
	// [MicStream] with MIME type "audio/webm" on every call.
	Stream *MicStream

	// NewStream, if set, takes precedence over Stream and is called on every Open.
	NewStream func() *MicStream

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls counts invocations of Open.
	OpenCalls int

	// Opened holds every stream handed out, in order.
	Opened []*MicStream
}

var _ media.Microphone = (*Microphone)(nil)

// Open implements [media.Microphone].
func (m *Microphone) Open(_ context.Context) (media.MicStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	var s *MicStream
	switch {
	case m.NewStream != nil:
		s = m.NewStream()
	case m.Stream != nil:
		s = m.Stream
	default:
		s = NewMicStream(types.MIMEAudioWebM)
	}
	m.Opened = append(m.Opened, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (m *Microphone) LastStream() *MicStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Opened) == 0 {
		return nil
	}
	return m.Opened[len(m.Opened)-1]
}

// MicStream is a mock implementation of [media.MicStream]. Chunks passed to
// [NewMicStream] or [MicStream.Push] are delivered on the Chunks channel; Stop
// delivers FinalChunk (when set) and closes the channel.
type MicStream struct {
	mu sync.Mutex

	mime     string
	chunks   chan []byte
	spectrum []uint8
	stopped  bool

	// SpectrumFunc, if set, is called by FrequencyData instead of returning
	// the value set with SetSpectrum.
	SpectrumFunc func() ([]uint8, error)

	// FinalChunk is flushed on Stop before the channel closes.
	FinalChunk []byte

	// StopErr is returned by Stop.
	StopErr error

	// StopCalls counts invocations of Stop.
	StopCalls int

	// SpectrumCalls counts invocations of FrequencyData.
	SpectrumCalls int
}

var _ media.MicStream = (*MicStream)(nil)

// NewMicStream returns a stream that will deliver chunks in order.
func NewMicStream(mime string, chunks ...[]byte) *MicStream {
	s := &MicStream{mime: mime, chunks: make(chan []byte, 64+len(chunks))}
	for _, c := range chunks {
		s.chunks <- c
	}
	return s
}

// Push delivers another chunk. It is a no-op after Stop.
func (s *MicStream) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.chunks <- chunk
}

// SetSpectrum sets the value returned by FrequencyData.
func (s *MicStream) SetSpectrum(bins []uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spectrum = append([]uint8(nil), bins...)
}

// Fail closes the chunk channel without a Stop call, simulating a device
// that disappeared mid-recording.
func (s *MicStream) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.chunks)
}

// Stopped reports whether Stop (or Fail) has been called.
func (s *MicStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// MIMEType implements [media.MicStream].
func (s *MicStream) MIMEType() string { return s.mime }

// Chunks implements [media.MicStream].
func (s *MicStream) Chunks() <-chan []byte { return s.chunks }

// FrequencyData implements [media.MicStream].
func (s *MicStream) FrequencyData() ([]uint8, error) {
	s.mu.Lock()
	s.SpectrumCalls++
	fn := s.SpectrumFunc
	bins := append([]uint8(nil), s.spectrum...)
	s.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return bins, nil
}

// Stop implements [media.MicStream].
func (s *MicStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	if !s.stopped {
		s.stopped = true
		if s.FinalChunk != nil {
			s.chunks <- s.FinalChunk
		}
		close(s.chunks)
	}
	return s.StopErr
}

// ─── Camera ───────────────────────────────────────────────────────────────────

// Camera is a mock implementation of [media.Camera].
type Camera struct {
	mu sync.Mutex

	// Photo is returned by TakePhoto on opened streams.
	Photo types.ImageSnapshot

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// PhotoErr, if non-nil, is returned by TakePhoto.
	PhotoErr error

	// OpenCalls counts invocations of Open.
	OpenCalls int

	// Opened holds every stream handed out, in order.
	Opened []*CameraStream
}

var _ media.Camera = (*Camera)(nil)

// Open implements [media.Camera].
func (c *Camera) Open(_ context.Context) (media.CameraStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OpenCalls++
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	s := &CameraStream{photo: c.Photo, photoErr: c.PhotoErr}
	c.Opened = append(c.Opened, s)
	return s, nil
}

// CameraStream is a mock implementation of [media.CameraStream].
type CameraStream struct {
	mu       sync.Mutex
	photo    types.ImageSnapshot
	photoErr error

	// PhotoCalls counts invocations of TakePhoto.
	PhotoCalls int

	// StopCalls counts invocations of Stop.
	StopCalls int
}

var _ media.CameraStream = (*CameraStream)(nil)

// TakePhoto implements [media.CameraStream].
func (s *CameraStream) TakePhoto(_ context.Context) (types.ImageSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PhotoCalls++
	if s.photoErr != nil {
		return types.ImageSnapshot{}, s.photoErr
	}
	return s.photo, nil
}

// Stop implements [media.CameraStream].
func (s *CameraStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	return nil
}

// Stops returns the number of Stop calls so far.
func (s *CameraStream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCalls
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [media.Player].
//
// By default every clip plays on a real-time clock for Duration and then ends
// naturally. Set Manual to receive handles whose position and completion are
// driven by the test instead.
type Player struct {
	mu sync.Mutex

	// Duration is how long an automatic playback lasts. Defaults to 10ms.
	Duration time.Duration

	// Manual makes Play return handles driven only by [Playback.Advance] and
	// [Playback.Finish].
	Manual bool

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Clips records every clip passed to Play.
	Clips []types.AudioClip

	// Started holds every handle handed out, in order.
	Started []*Playback

	// OnPlay, if set, is called with each new handle before Play returns.
	OnPlay func(*Playback)
}

var _ media.Player = (*Player)(nil)

// Play implements [media.Player].
func (p *Player) Play(_ context.Context, clip types.AudioClip) (media.Playback, error) {
	p.mu.Lock()
	p.Clips = append(p.Clips, clip)
	if p.PlayErr != nil {
		err := p.PlayErr
		p.mu.Unlock()
		return nil, err
	}
	pb := NewPlayback()
	p.Started = append(p.Started, pb)
	manual := p.Manual
	d := p.Duration
	onPlay := p.OnPlay
	p.mu.Unlock()

	if d <= 0 {
		d = 10 * time.Millisecond
	}
	if !manual {
		pb.autoplay(d)
	}
	if onPlay != nil {
		onPlay(pb)
	}
	return pb, nil
}

// Plays returns a copy of the clips played so far.
func (p *Player) Plays() []types.AudioClip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.AudioClip(nil), p.Clips...)
}

// LastPlayback returns the most recent handle, or nil.
func (p *Player) LastPlayback() *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Started) == 0 {
		return nil
	}
	return p.Started[len(p.Started)-1]
}

// Playback is a mock implementation of [media.Playback].
type Playback struct {
	mu       sync.Mutex
	pos      time.Duration
	start    time.Time
	duration time.Duration
	auto     bool
	err      error
	done     chan struct{}
	finished bool

	// StopCalls counts invocations of Stop.
	StopCalls int
}

var _ media.Playback = (*Playback)(nil)

// NewPlayback returns a manually driven playback handle at position zero.
func NewPlayback() *Playback {
	return &Playback{done: make(chan struct{})}
}

func (pb *Playback) autoplay(d time.Duration) {
	pb.mu.Lock()
	pb.auto = true
	pb.start = time.Now()
	pb.duration = d
	pb.mu.Unlock()
	time.AfterFunc(d, func() {
		pb.mu.Lock()
		pb.pos = d
		pb.mu.Unlock()
		pb.Finish(nil)
	})
}

// Advance sets the playback position.
func (pb *Playback) Advance(pos time.Duration) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.pos = pos
}

// Finish ends playback with err (nil for a natural end). Only the first call
// has an effect.
func (pb *Playback) Finish(err error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.finished {
		return
	}
	pb.finished = true
	pb.err = err
	close(pb.done)
}

// Position implements [media.Playback].
func (pb *Playback) Position() time.Duration {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.auto && !pb.finished {
		return min(time.Since(pb.start), pb.duration)
	}
	return pb.pos
}

// Done implements [media.Playback].
func (pb *Playback) Done() <-chan struct{} { return pb.done }

// Err implements [media.Playback].
func (pb *Playback) Err() error {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.err
}

// Stop implements [media.Playback].
func (pb *Playback) Stop() error {
	pb.mu.Lock()
	pb.StopCalls++
	pb.mu.Unlock()
	pb.Finish(nil)
	return nil
}

// Stops returns the number of Stop calls so far.
func (pb *Playback) Stops() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.StopCalls
}

// ─── Renderer ─────────────────────────────────────────────────────────────────

// Renderer is a mock implementation of [media.Renderer] that keeps every frame.
type Renderer struct {
	mu sync.Mutex

	// Frames holds every rendered frame in order.
	Frames []types.ExpressionFrame

	// RenderErr, if non-nil, is returned by Render.
	RenderErr error
}

var _ media.Renderer = (*Renderer)(nil)

// Render implements [media.Renderer].
func (r *Renderer) Render(_ context.Context, frame types.ExpressionFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Frames = append(r.Frames, frame)
	return r.RenderErr
}

// Last returns the last rendered frame, or nil.
func (r *Renderer) Last() types.ExpressionFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Frames) == 0 {
		return nil
	}
	return r.Frames[len(r.Frames)-1]
}
