package bridge

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/MrWong99/facechat/pkg/media"
)

// Message types exchanged with the device host. Text frames carry one JSON
// [message]; binary frames carry encoded microphone audio for the open
// microphone session.
const (
	// host → server
	msgHello        = "hello"
	msgMicOpened    = "mic_opened"
	msgMicError     = "mic_error"
	msgMicSpectrum  = "mic_spectrum"
	msgMicClosed    = "mic_closed"
	msgCamPhoto     = "cam_photo"
	msgCamError     = "cam_error"
	msgPlayStarted  = "play_started"
	msgPlayPosition = "play_position"
	msgPlayEnded    = "play_ended"
	msgPlayError    = "play_error"
	msgStart        = "start"
	msgStop         = "stop"

	// server → host
	msgMicOpen    = "mic_open"
	msgMicStop    = "mic_stop"
	msgCamCapture = "cam_capture"
	msgPlay       = "play"
	msgPlayStop   = "play_stop"
	msgFrame      = "frame"
	msgState      = "state"
	msgWord       = "word"
	msgRecorded   = "recorded"
	msgError      = "error"
)

// message is the single JSON envelope for every text frame. Fields are
// populated per type; ID correlates requests, responses and playback events.
type message struct {
	Type string `json:"type"`
	ID   uint64 `json:"id,omitempty"`

	// MIME names the encoding of Data, or of the microphone chunks in
	// mic_opened.
	MIME string `json:"mime,omitempty"`

	// Data is base64 encoded media: a photo or a clip to play.
	Data string `json:"data,omitempty"`

	// Reason explains mic_error, cam_error, play_error and error, and a
	// failed recording in recorded.
	Reason string `json:"reason,omitempty"`

	// Size is the byte length of a finished recording.
	Size int `json:"size,omitempty"`

	// Bins is a byte-scaled frequency spectrum.
	Bins []int `json:"bins,omitempty"`

	// MS is a playback position in milliseconds.
	MS int64 `json:"ms,omitempty"`

	// Weights is an expression frame keyed by blend-shape index.
	Weights map[int]float64 `json:"weights,omitempty"`

	// Text is the spoken word in word captions.
	Text string `json:"text,omitempty"`

	// State names the conversation state.
	State string `json:"state,omitempty"`

	// Agent describes the host in hello.
	Agent string `json:"agent,omitempty"`
}

func encodeData(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeData(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bridge: decode media: %w", err)
	}
	return b, nil
}

// spectrumBytes clamps bins into [0, 255].
func spectrumBytes(bins []int) []uint8 {
	out := make([]uint8, len(bins))
	for i, v := range bins {
		out[i] = uint8(max(0, min(255, v)))
	}
	return out
}

// accessError maps a host-side failure reason onto the media sentinels.
// Browser DOMException names are accepted alongside the protocol's own.
func accessError(device, reason string) *media.AccessError {
	var err error
	switch strings.ToLower(reason) {
	case "permission_denied", "notallowederror", "securityerror":
		err = media.ErrPermissionDenied
	case "no_device", "notfounderror", "overconstrainederror":
		err = media.ErrNoDevice
	default:
		err = fmt.Errorf("bridge: %s", reason)
	}
	return &media.AccessError{Device: device, Err: err}
}
