// Package types defines the shared data types used across all facechat packages.
//
// These types form the lingua franca between device adapters, collaborators,
// the playback synchronizer, the expression animator and the conversation
// orchestrator. Each package defines its own domain types, but cross-cutting
// data structures live here to avoid circular imports.
//
// Media payloads ([AudioClip], [ImageSnapshot]) are opaque: no package inspects
// their bytes, and once created they are never mutated.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common MIME types produced by the device host and the synthesis collaborator.
const (
	MIMEAudioWebM = "audio/webm"
	MIMEAudioMPEG = "audio/mpeg"
	MIMEImageJPEG = "image/jpeg"
)

// AudioClip is a finalized recording or a synthesized utterance.
type AudioClip struct {
	// Data holds the encoded audio bytes. Callers must treat it as read-only.
	Data []byte

	// MIMEType names the container/codec of Data (e.g. "audio/webm").
	MIMEType string
}

// Empty reports whether the clip carries no audio bytes.
func (c AudioClip) Empty() bool { return len(c.Data) == 0 }

// ImageSnapshot is a single still frame captured from the camera.
type ImageSnapshot struct {
	// Data holds the encoded image bytes (JPEG in practice).
	Data []byte

	// MIMEType names the encoding of Data.
	MIMEType string
}

// MarkType distinguishes the kinds of entries in a [SpeechMarkStream].
type MarkType string

const (
	// MarkViseme identifies a mouth-shape event.
	MarkViseme MarkType = "viseme"

	// MarkWord identifies a word boundary.
	MarkWord MarkType = "word"
)

// SpeechMark is a time-stamped phonetic or lexical event aligned to a
// synthesized [AudioClip].
type SpeechMark struct {
	// Type is either [MarkViseme] or [MarkWord].
	Type MarkType `json:"type"`

	// Time is the offset in milliseconds from the start of the clip. Never negative.
	Time int64 `json:"time"`

	// Value is the viseme symbol or the word text.
	Value string `json:"value"`
}

// Offset returns the mark's time as a [time.Duration].
func (m SpeechMark) Offset() time.Duration { return time.Duration(m.Time) * time.Millisecond }

// SpeechMarkStream is a sequence of speech marks in ascending Time order.
// Consumers rely on the ordering and never re-sort.
type SpeechMarkStream []SpeechMark

// Validate reports the first mark that has a negative time or breaks the
// ascending order. It does not modify the stream.
func (s SpeechMarkStream) Validate() error {
	var prev int64
	for i, m := range s {
		if m.Time < 0 {
			return fmt.Errorf("types: speech mark %d has negative time %d", i, m.Time)
		}
		if i > 0 && m.Time < prev {
			return fmt.Errorf("types: speech mark %d at %dms precedes mark %d at %dms", i, m.Time, i-1, prev)
		}
		prev = m.Time
	}
	return nil
}

// Visemes returns the number of viseme marks in the stream.
func (s SpeechMarkStream) Visemes() int {
	n := 0
	for _, m := range s {
		if m.Type == MarkViseme {
			n++
		}
	}
	return n
}

// ExpressionFrame maps blend-shape indices to weights in [0, 1].
// A frame handed to a renderer is always a copy; renderers never see a frame
// that is still being written.
type ExpressionFrame map[int]float64

// Clone returns a deep copy of f. A nil frame clones to an empty frame.
func (f ExpressionFrame) Clone() ExpressionFrame {
	out := make(ExpressionFrame, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// TurnKind classifies what a turn's recorded audio is submitted for.
type TurnKind string

const (
	TurnVerify   TurnKind = "verify"
	TurnRegister TurnKind = "register"
	TurnConverse TurnKind = "converse"
)

// Turn is one user-utterance → agent-response cycle. It is created when the
// recording finishes and discarded once the response speech has finished.
type Turn struct {
	// ID uniquely identifies the turn in logs and traces.
	ID string

	// Kind is the collaborator the audio is submitted to first.
	Kind TurnKind

	// Image is the face snapshot captured for the session. Nil when the camera
	// was unavailable.
	Image *ImageSnapshot

	// Audio is the user's recorded utterance.
	Audio AudioClip

	// ResponseText is the collaborator's textual reply, spoken back to the user.
	ResponseText string

	// StartedAt is the wall-clock time the turn was created.
	StartedAt time.Time
}

// NewTurn creates a turn with a fresh random ID.
func NewTurn(kind TurnKind, image *ImageSnapshot, audio AudioClip) *Turn {
	return &Turn{
		ID:        uuid.NewString(),
		Kind:      kind,
		Image:     image,
		Audio:     audio,
		StartedAt: time.Now(),
	}
}
