// Package synth defines the Provider interface for the speech synthesis
// collaborator.
//
// A synthesis provider turns a complete utterance into an audio clip plus the
// time-aligned viseme and word marks the playback synchronizer needs to drive
// the face. Unlike a streaming text-to-speech backend, synthesis here is one
// request per utterance: the marks must cover the whole clip before playback
// starts.
//
// Implementations must be safe for concurrent use.
package synth

import (
	"context"
	"fmt"

	"github.com/MrWong99/facechat/pkg/types"
)

// Speech is a synthesized utterance.
type Speech struct {
	// Audio is the encoded clip, typically audio/mpeg.
	Audio types.AudioClip

	// Marks are the viseme and word marks aligned to Audio, ascending by time.
	Marks types.SpeechMarkStream
}

// Provider is the abstraction over any synthesis backend.
type Provider interface {
	// Synthesize renders text to speech. It returns a [*SynthesisError] when
	// the backend fails; transport failures additionally wrap a
	// [*types.NetworkError].
	Synthesize(ctx context.Context, text string) (*Speech, error)
}

// SynthesisError reports that the synthesis collaborator could not render an
// utterance.
type SynthesisError struct {
	// Provider names the backend that failed.
	Provider string

	// Err is the underlying cause.
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synth: %s: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
