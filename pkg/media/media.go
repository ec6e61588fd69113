// Package media defines the device abstractions the conversation engine uses to
// reach the user's microphone, camera, speaker and face renderer.
//
// The physical devices live on a device host (a browser page in production)
// that is reached through an adapter such as internal/bridge. The engine never
// touches the host directly: it opens scoped sessions through the interfaces in
// this package and releases them on every exit path.
//
//   - [Microphone] opens a [MicStream]: encoded chunks plus a live frequency
//     spectrum used for voice-activity detection.
//   - [Camera] opens a [CameraStream] that can take still photos.
//   - [Player] starts a [Playback] of one [types.AudioClip] and reports its
//     position as it advances.
//   - [Renderer] receives [types.ExpressionFrame] snapshots for the 3D face.
//
// This package lives under pkg/ because alternative device hosts (native
// desktop, test rigs) are expected to implement these interfaces.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/facechat/pkg/types"
)

// Sentinel reasons wrapped by [AccessError].
var (
	// ErrPermissionDenied indicates the user or the host refused device access.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrNoDevice indicates no device of the requested kind is attached, or no
	// device host is connected at all.
	ErrNoDevice = errors.New("media: no device")
)

// ErrStreamClosed is returned by stream methods called after Stop.
var ErrStreamClosed = errors.New("media: stream closed")

// AccessError reports that a camera or microphone could not be opened.
// Callers distinguish it from transient failures with [errors.As].
type AccessError struct {
	// Device is "microphone" or "camera".
	Device string

	// Err is the underlying reason, usually [ErrPermissionDenied] or [ErrNoDevice].
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("media: %s unavailable: %v", e.Device, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// IsAccessError reports whether err is or wraps an [*AccessError].
func IsAccessError(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}

// Microphone opens audio capture sessions.
type Microphone interface {
	// Open requests access to the microphone and starts encoding. It returns an
	// [*AccessError] when access is denied or no device exists.
	Open(ctx context.Context) (MicStream, error)
}

// MicStream is one open microphone session.
//
// Implementations must be safe for concurrent use: the recorder reads the
// spectrum from its poll loop while a separate goroutine drains Chunks.
type MicStream interface {
	// MIMEType returns the container type of the encoded chunks.
	MIMEType() string

	// Chunks delivers encoded audio as it becomes available. The channel is
	// closed after Stop has flushed the final chunk, or when the stream fails.
	Chunks() <-chan []byte

	// FrequencyData returns the most recent byte-scaled frequency spectrum
	// (each bin in [0, 255]). It never blocks.
	FrequencyData() ([]uint8, error)

	// Stop halts encoding and releases every underlying track. It is safe to
	// call more than once.
	Stop() error
}

// Camera opens image capture sessions.
type Camera interface {
	// Open requests access to the camera. It returns an [*AccessError] when
	// access is denied or no device exists.
	Open(ctx context.Context) (CameraStream, error)
}

// CameraStream is one open camera session.
type CameraStream interface {
	// TakePhoto captures a single still image.
	TakePhoto(ctx context.Context) (types.ImageSnapshot, error)

	// Stop releases every underlying track. It is safe to call more than once.
	Stop() error
}

// Player starts playback of synthesized speech.
type Player interface {
	// Play starts playing clip and returns immediately with a handle that
	// tracks progress.
	Play(ctx context.Context, clip types.AudioClip) (Playback, error)
}

// Playback tracks a single clip being played.
type Playback interface {
	// Position returns the current playback offset from the start of the clip.
	Position() time.Duration

	// Done is closed when playback ends, either naturally or with an error.
	Done() <-chan struct{}

	// Err returns the playback failure after Done is closed, or nil when the
	// clip played to its end.
	Err() error

	// Stop aborts playback and resets the output element. It is safe to call
	// more than once and after Done is closed.
	Stop() error
}

// Renderer receives expression frames for the face model.
type Renderer interface {
	// Render hands one frame to the renderer. The frame is owned by the
	// callee after the call returns.
	Render(ctx context.Context, frame types.ExpressionFrame) error
}
