// Package dialog defines the Provider interface for the conversation
// collaborator: the backend that hears the user's utterance and decides what
// the assistant says next.
//
// A request carries either the recorded audio (the usual case) or plain text
// (typed input, or a transcript produced elsewhere). The reply is the text the
// assistant should speak; providers that transcribe internally also return the
// transcript for logging.
//
// Implementations must be safe for concurrent use.
package dialog

import (
	"context"
	"errors"

	"github.com/MrWong99/facechat/pkg/types"
)

// ErrEmptyRequest is returned when a request carries neither audio nor text.
var ErrEmptyRequest = errors.New("dialog: request has neither audio nor text")

// Request is the input for one conversational turn.
type Request struct {
	// SessionID keys the provider's per-session context, if it keeps any.
	SessionID string

	// Audio is the user's utterance. Takes precedence over Text when set.
	Audio types.AudioClip

	// Text is used when Audio is empty.
	Text string
}

// Validate reports whether the request carries any input.
func (r Request) Validate() error {
	if r.Audio.Empty() && r.Text == "" {
		return ErrEmptyRequest
	}
	return nil
}

// Reply is the assistant's answer.
type Reply struct {
	// Text is spoken back to the user.
	Text string

	// Transcript is what the provider understood the user to say. Empty when
	// the provider does not expose it.
	Transcript string
}

// Provider is the abstraction over any conversation backend.
type Provider interface {
	// Converse submits one user turn and returns the assistant's reply.
	Converse(ctx context.Context, req Request) (*Reply, error)
}

// SessionForgetter is implemented by providers that keep per-session
// conversation state. Forget is called once the session has ended.
type SessionForgetter interface {
	Forget(sessionID string)
}
