package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/types"
)

var (
	_ media.MicStream    = (*micStream)(nil)
	_ media.Camera       = cameraView{}
	_ media.CameraStream = (*cameraStream)(nil)
	_ media.Playback     = (*playback)(nil)
)

// errMicBusy is returned when a second microphone session is requested.
var errMicBusy = errors.New("bridge: microphone already open")

// ── microphone ───────────────────────────────────────────────────────────────

func (h *host) reserveMic() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.micState {
	case micOpening:
		return errMicBusy
	case micOpen:
		if h.mic == nil || !h.mic.stopped.Load() {
			return errMicBusy
		}
		// The previous session was stopped but the host never confirmed.
		slog.Warn("bridge: discarding microphone session the host never closed")
	}
	h.mic = nil
	h.micState = micOpening
	return nil
}

func (h *host) releaseMic() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mic = nil
	h.micState = micIdle
}

// attachMic runs on the read loop so that chunks following mic_opened always
// find their stream.
func (h *host) attachMic(msg message) {
	h.mu.Lock()
	_, waiting := h.pending[msg.ID]
	if h.micState != micOpening || !waiting {
		h.mu.Unlock()
		slog.Debug("bridge: microphone opened after its request was abandoned")
		_ = h.send(context.Background(), message{Type: msgMicStop})
		return
	}
	mime := msg.MIME
	if mime == "" {
		mime = types.MIMEAudioWebM
	}
	h.mic = &micStream{h: h, mime: mime, chunks: make(chan []byte, 64), now: h.now}
	h.micState = micOpen
	h.mu.Unlock()
	h.deliver(msg)
}

func (h *host) micChunk(ctx context.Context, data []byte) {
	h.mu.Lock()
	s := h.mic
	h.mu.Unlock()
	if s == nil {
		slog.Debug("bridge: dropping audio chunk without open microphone", "bytes", len(data))
		return
	}
	select {
	case s.chunks <- data:
	case <-ctx.Done():
	}
}

func (h *host) micSpectrum(bins []int) {
	h.mu.Lock()
	s := h.mic
	h.mu.Unlock()
	if s == nil {
		return
	}
	spectrum := spectrumBytes(bins)
	s.mu.Lock()
	s.spectrum = spectrum
	s.spectrumAt = s.now()
	s.mu.Unlock()
}

func (h *host) micClosed() {
	h.mu.Lock()
	s := h.mic
	h.mic = nil
	h.micState = micIdle
	h.mu.Unlock()
	if s != nil {
		s.end()
	}
}

// spectrumStaleAfter is how long a pushed spectrum stays valid. Hosts push on
// every animation frame; a tab throttled to one timer tick per second still
// refreshes within this window.
const spectrumStaleAfter = 1500 * time.Millisecond

// micStream is one host microphone session. Chunks are only ever sent and
// closed from the read loop.
type micStream struct {
	h      *host
	mime   string
	chunks chan []byte
	now    func() time.Time

	stopped    atomic.Bool
	endOnce    sync.Once
	mu         sync.Mutex
	spectrum   []uint8
	spectrumAt time.Time
	ended      bool
}

func (s *micStream) MIMEType() string { return s.mime }

func (s *micStream) Chunks() <-chan []byte { return s.chunks }

// FrequencyData returns the last spectrum the host pushed. The host streams
// spectra on its own animation clock, so this never waits. A spectrum older
// than spectrumStaleAfter reads as silence: all bins zero.
func (s *micStream) FrequencyData() ([]uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, media.ErrStreamClosed
	}
	if s.spectrum != nil && s.now().Sub(s.spectrumAt) > spectrumStaleAfter {
		return make([]uint8, len(s.spectrum)), nil
	}
	return slices.Clone(s.spectrum), nil
}

// Stop asks the host to flush and release the microphone. Chunks is closed
// once the host confirms with mic_closed or disconnects.
func (s *micStream) Stop() error {
	if s.stopped.Swap(true) {
		return nil
	}
	select {
	case <-s.h.gone:
		return nil
	default:
	}
	if err := s.h.send(context.Background(), message{Type: msgMicStop}); err != nil {
		return fmt.Errorf("bridge: stop microphone: %w", err)
	}
	return nil
}

func (s *micStream) end() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		close(s.chunks)
	})
}

// ── camera ───────────────────────────────────────────────────────────────────

type cameraView struct{ b *Bridge }

// Open returns a camera session on the connected host. The host acquires the
// camera per capture and releases it right after, so opening is local.
func (c cameraView) Open(ctx context.Context) (media.CameraStream, error) {
	h := c.b.current()
	if h == nil {
		return nil, &media.AccessError{Device: "camera", Err: media.ErrNoDevice}
	}
	return &cameraStream{h: h, timeout: c.b.requestTimeout}, nil
}

type cameraStream struct {
	h       *host
	timeout time.Duration
	stopped atomic.Bool
}

func (c *cameraStream) TakePhoto(ctx context.Context) (types.ImageSnapshot, error) {
	const device = "camera"
	if c.stopped.Load() {
		return types.ImageSnapshot{}, media.ErrStreamClosed
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.h.request(ctx, message{Type: msgCamCapture})
	switch {
	case errors.Is(err, ErrHostDisconnected):
		return types.ImageSnapshot{}, &media.AccessError{Device: device, Err: media.ErrNoDevice}
	case err != nil:
		return types.ImageSnapshot{}, fmt.Errorf("bridge: take photo: %w", err)
	case resp.Type == msgCamError:
		return types.ImageSnapshot{}, accessError(device, resp.Reason)
	}

	data, err := decodeData(resp.Data)
	if err != nil {
		return types.ImageSnapshot{}, err
	}
	mime := resp.MIME
	if mime == "" {
		mime = types.MIMEImageJPEG
	}
	return types.ImageSnapshot{Data: data, MIMEType: mime}, nil
}

func (c *cameraStream) Stop() error {
	c.stopped.Store(true)
	return nil
}

// ── speaker ──────────────────────────────────────────────────────────────────

func (h *host) newPlayback() *playback {
	pb := &playback{
		id:   h.nextID.Add(1),
		h:    h,
		now:  h.now,
		done: make(chan struct{}),
	}
	h.mu.Lock()
	closed := h.closed
	if !closed {
		h.plays[pb.id] = pb
	}
	h.mu.Unlock()
	if closed {
		pb.finish(ErrHostDisconnected)
	}
	return pb
}

func (h *host) playEvent(msg message) {
	h.mu.Lock()
	pb := h.plays[msg.ID]
	h.mu.Unlock()
	if pb == nil {
		slog.Debug("bridge: event for unknown playback", "type", msg.Type, "id", msg.ID)
		return
	}
	pos := time.Duration(msg.MS) * time.Millisecond
	switch msg.Type {
	case msgPlayStarted:
		pb.report(0)
	case msgPlayPosition:
		pb.report(pos)
	case msgPlayEnded:
		pb.report(pos)
		pb.finish(nil)
	case msgPlayError:
		pb.finish(fmt.Errorf("bridge: host playback failed: %s", msg.Reason))
	}
}

// maxExtrapolation bounds how far Position runs ahead of the last host
// report. Browsers fire timeupdate at least every 250ms while audio advances,
// so a longer silence means the element stalled.
const maxExtrapolation = 250 * time.Millisecond

// playback tracks one clip on the host's audio element. Between host
// position reports the position is extrapolated with the local clock so
// marks keep flowing at render rate. The extrapolation is capped at
// [maxExtrapolation] and Position never decreases.
type playback struct {
	id   uint64
	h    *host
	now  func() time.Time
	done chan struct{}

	mu         sync.Mutex
	started    bool
	finished   bool
	reported   time.Duration
	reportedAt time.Time
	// shown is the largest position handed out so far.
	shown time.Duration
	err   error
}

func (p *playback) report(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.started = true
	p.reported = pos
	p.reportedAt = p.now()
}

func (p *playback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.reported
	if p.started && !p.finished {
		pos += max(0, min(p.now().Sub(p.reportedAt), maxExtrapolation))
	}
	p.shown = max(p.shown, pos)
	return p.shown
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop tells the host to pause and rewind the element.
func (p *playback) Stop() error {
	if !p.finish(nil) {
		return nil
	}
	select {
	case <-p.h.gone:
		return nil
	default:
	}
	if err := p.h.send(context.Background(), message{Type: msgPlayStop, ID: p.id}); err != nil {
		return fmt.Errorf("bridge: stop playback: %w", err)
	}
	return nil
}

// finish ends the playback once and reports whether this call did it.
func (p *playback) finish(err error) bool {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return false
	}
	p.finished = true
	p.err = err
	p.mu.Unlock()
	close(p.done)

	p.h.mu.Lock()
	delete(p.h.plays, p.id)
	p.h.mu.Unlock()
	return true
}
