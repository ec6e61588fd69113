// Package bridge connects the conversation engine to a device host over a
// WebSocket.
//
// The device host is a browser page that owns the microphone, camera, audio
// element and 3D face. [Bridge] accepts a single host connection at a time and
// implements [media.Microphone], [media.Camera], [media.Player] and
// [media.Renderer] on top of it, so the rest of the engine never sees the
// transport. When no host is connected, device access fails with a
// [*media.AccessError] wrapping [media.ErrNoDevice].
//
// The host also drives the session: its start and stop buttons arrive as
// messages and are forwarded to the configured [Controller].
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/facechat/internal/observe"
	"github.com/MrWong99/facechat/pkg/media"
	"github.com/MrWong99/facechat/pkg/types"
)

// ErrHostDisconnected is returned by device calls that were in flight when the
// host connection closed.
var ErrHostDisconnected = errors.New("bridge: device host disconnected")

// Defaults.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	defaultReadLimit      = 16 << 20
)

// Compile-time interface assertions.
var (
	_ media.Microphone = (*Bridge)(nil)
	_ media.Player     = (*Bridge)(nil)
	_ media.Renderer   = (*Bridge)(nil)
	_ http.Handler     = (*Bridge)(nil)
)

// Controller starts and stops conversation sessions on the host's request.
// *conversation.Orchestrator satisfies it.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
}

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithController forwards the host's start and stop requests to c.
func WithController(c Controller) Option {
	return func(b *Bridge) { b.controller = c }
}

// WithMetrics records connected hosts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithOriginPatterns allows cross-origin hosts matching the given patterns.
// By default only same-origin pages may connect.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) { b.originPatterns = patterns }
}

// WithRequestTimeout bounds how long the bridge waits for the host to answer
// a device request such as opening the microphone.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.requestTimeout = d
		}
	}
}

// Bridge is the single device host endpoint. It is safe for concurrent use.
type Bridge struct {
	controller     Controller
	metrics        *observe.Metrics
	originPatterns []string
	requestTimeout time.Duration
	now            func() time.Time

	// sessionCtx is the parent of sessions started by the host. Request
	// contexts end with the WebSocket handler, so they cannot be used.
	sessionCtx context.Context

	mu        sync.Mutex
	host      *host
	accepting bool
}

// New creates a Bridge. Sessions started from the host derive their context
// from ctx.
func New(ctx context.Context, opts ...Option) *Bridge {
	b := &Bridge{
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
		sessionCtx:     ctx,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetController replaces the session controller. Used when the controller
// is built after the bridge it depends on.
func (b *Bridge) SetController(c Controller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controller = c
}

// Connected reports whether a device host is attached.
func (b *Bridge) Connected() bool {
	return b.current() != nil
}

func (b *Bridge) current() *host {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.host
}

// ServeHTTP upgrades the request to a WebSocket and serves the host until it
// disconnects. A second host is turned away with 409 Conflict.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if b.host != nil || b.accepting {
		b.mu.Unlock()
		http.Error(w, "a device host is already connected", http.StatusConflict)
		return
	}
	b.accepting = true
	b.mu.Unlock()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.originPatterns,
	})
	if err != nil {
		b.mu.Lock()
		b.accepting = false
		b.mu.Unlock()
		slog.Warn("bridge: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	h := newHost(conn, b.now)
	b.mu.Lock()
	b.accepting = false
	b.host = h
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.DeviceHosts.Add(r.Context(), 1)
	}
	slog.Info("bridge: device host connected", "remote", r.RemoteAddr)

	err = b.readLoop(r.Context(), h)

	b.mu.Lock()
	b.host = nil
	controller := b.controller
	b.mu.Unlock()
	h.fail()

	if b.metrics != nil {
		b.metrics.DeviceHosts.Add(context.Background(), -1)
	}
	slog.Info("bridge: device host disconnected", "remote", r.RemoteAddr, "reason", err)

	// Without a host there are no devices left to converse with.
	if controller != nil {
		controller.Stop()
	}
	conn.Close(websocket.StatusNormalClosure, "bye")
}

// readLoop dispatches frames until the connection fails.
func (b *Bridge) readLoop(ctx context.Context, h *host) error {
	for {
		typ, data, err := h.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			h.micChunk(ctx, data)
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("bridge: ignoring malformed message", "err", err)
			continue
		}
		b.dispatch(ctx, h, msg)
	}
}

func (b *Bridge) dispatch(ctx context.Context, h *host, msg message) {
	switch msg.Type {
	case msgHello:
		slog.Info("bridge: device host says hello", "agent", msg.Agent)

	case msgMicOpened:
		h.attachMic(msg)
	case msgMicError, msgCamPhoto, msgCamError:
		h.deliver(msg)
	case msgMicSpectrum:
		h.micSpectrum(msg.Bins)
	case msgMicClosed:
		h.micClosed()

	case msgPlayStarted, msgPlayPosition, msgPlayEnded, msgPlayError:
		h.playEvent(msg)

	case msgStart:
		b.mu.Lock()
		c := b.controller
		b.mu.Unlock()
		if c == nil {
			return
		}
		if err := c.Start(b.sessionCtx); err != nil {
			slog.Warn("bridge: host start request rejected", "err", err)
			_ = h.send(ctx, message{Type: msgError, Reason: err.Error()})
		}
	case msgStop:
		b.mu.Lock()
		c := b.controller
		b.mu.Unlock()
		if c != nil {
			// Stop waits for the session loop, which may itself be waiting
			// on this read loop for device replies.
			go c.Stop()
		}

	default:
		slog.Debug("bridge: ignoring unknown message", "type", msg.Type)
	}
}

// NotifyState pushes the conversation state to the host, if one is connected.
func (b *Bridge) NotifyState(state string) {
	h := b.current()
	if h == nil {
		return
	}
	if err := h.send(context.Background(), message{Type: msgState, State: state}); err != nil {
		slog.Debug("bridge: state notification failed", "state", state, "err", err)
	}
}

// Word forwards a spoken word to the host for captions. MS is the word's
// offset into the clip being played.
func (b *Bridge) Word(word string, at time.Duration) {
	h := b.current()
	if h == nil {
		return
	}
	if err := h.send(context.Background(), message{Type: msgWord, Text: word, MS: at.Milliseconds()}); err != nil {
		slog.Debug("bridge: word caption failed", "word", word, "err", err)
	}
}

// Recorded tells the host how a recording session ended so it can drop its
// recording indicator. It has the shape of a capture completion callback.
func (b *Bridge) Recorded(clip types.AudioClip, err error) {
	h := b.current()
	if h == nil {
		return
	}
	msg := message{Type: msgRecorded, MIME: clip.MIMEType, Size: len(clip.Data)}
	if err != nil {
		msg.Reason = err.Error()
	}
	if err := h.send(context.Background(), msg); err != nil {
		slog.Debug("bridge: recording notification failed", "err", err)
	}
}

// Open implements [media.Microphone] by asking the host to start recording.
func (b *Bridge) Open(ctx context.Context) (media.MicStream, error) {
	const device = "microphone"
	h := b.current()
	if h == nil {
		return nil, &media.AccessError{Device: device, Err: media.ErrNoDevice}
	}
	if err := h.reserveMic(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()
	resp, err := h.request(ctx, message{Type: msgMicOpen})
	if err != nil {
		h.releaseMic()
		if errors.Is(err, ErrHostDisconnected) {
			return nil, &media.AccessError{Device: device, Err: media.ErrNoDevice}
		}
		return nil, fmt.Errorf("bridge: open microphone: %w", err)
	}
	if resp.Type == msgMicError {
		h.releaseMic()
		return nil, accessError(device, resp.Reason)
	}
	if resp.mic == nil {
		h.releaseMic()
		return nil, fmt.Errorf("bridge: open microphone: %w", ErrHostDisconnected)
	}
	return resp.mic, nil
}

// Camera returns the bridge's [media.Camera] view. Bridge cannot implement
// both Open methods itself, so the camera is exposed separately.
func (b *Bridge) Camera() media.Camera { return cameraView{b} }

// Play implements [media.Player].
func (b *Bridge) Play(ctx context.Context, clip types.AudioClip) (media.Playback, error) {
	h := b.current()
	if h == nil {
		return nil, &media.AccessError{Device: "speaker", Err: media.ErrNoDevice}
	}
	pb := h.newPlayback()
	mime := clip.MIMEType
	if mime == "" {
		mime = types.MIMEAudioMPEG
	}
	err := h.send(ctx, message{Type: msgPlay, ID: pb.id, MIME: mime, Data: encodeData(clip.Data)})
	if err != nil {
		pb.finish(err)
		return nil, fmt.Errorf("bridge: play: %w", err)
	}
	return pb, nil
}

// Render implements [media.Renderer].
func (b *Bridge) Render(ctx context.Context, frame types.ExpressionFrame) error {
	h := b.current()
	if h == nil {
		return &media.AccessError{Device: "renderer", Err: media.ErrNoDevice}
	}
	return h.send(ctx, message{Type: msgFrame, Weights: frame})
}

// host is one connected device host.
type host struct {
	conn   *websocket.Conn
	now    func() time.Time
	nextID atomic.Uint64
	gone   chan struct{}

	mu       sync.Mutex
	closed   bool
	pending  map[uint64]chan message
	plays    map[uint64]*playback
	mic      *micStream
	micState micState
}

type micState int

const (
	micIdle micState = iota
	micOpening
	micOpen
)

func newHost(conn *websocket.Conn, now func() time.Time) *host {
	return &host{
		conn:    conn,
		now:     now,
		gone:    make(chan struct{}),
		pending: make(map[uint64]chan message),
		plays:   make(map[uint64]*playback),
	}
}

// send writes msg as one text frame. Writes are serialised by the
// connection.
func (h *host) send(ctx context.Context, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bridge: marshal %s: %w", msg.Type, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultWriteTimeout)
		defer cancel()
	}
	if err := h.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bridge: write %s: %w", msg.Type, err)
	}
	return nil
}

// request sends msg with a fresh ID and waits for the reply carrying it.
func (h *host) request(ctx context.Context, msg message) (reply, error) {
	msg.ID = h.nextID.Add(1)
	ch := make(chan message, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return reply{}, ErrHostDisconnected
	}
	h.pending[msg.ID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, msg.ID)
		h.mu.Unlock()
	}()

	if err := h.send(ctx, msg); err != nil {
		return reply{}, err
	}
	select {
	case resp := <-ch:
		r := reply{message: resp}
		if resp.Type == msgMicOpened {
			h.mu.Lock()
			r.mic = h.mic
			h.mu.Unlock()
		}
		return r, nil
	case <-h.gone:
		return reply{}, ErrHostDisconnected
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// reply is a host response plus any stream the read loop attached for it.
type reply struct {
	message
	mic *micStream
}

// deliver hands a response to its waiting request. Responses nobody waits
// for are dropped.
func (h *host) deliver(msg message) {
	h.mu.Lock()
	ch, ok := h.pending[msg.ID]
	delete(h.pending, msg.ID)
	h.mu.Unlock()
	if !ok {
		slog.Debug("bridge: unsolicited reply", "type", msg.Type, "id", msg.ID)
		if msg.Type == msgMicError {
			h.releaseMic()
		}
		return
	}
	ch <- msg
}

// fail wakes every waiter and ends every stream after the connection closed.
func (h *host) fail() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.gone)
	mic := h.mic
	h.mic = nil
	h.micState = micIdle
	plays := make([]*playback, 0, len(h.plays))
	for _, pb := range h.plays {
		plays = append(plays, pb)
	}
	h.mu.Unlock()

	if mic != nil {
		mic.end()
	}
	for _, pb := range plays {
		pb.finish(ErrHostDisconnected)
	}
}
