// Package auth defines the Provider interface for the speaker verification and
// registration collaborator.
//
// Verification compares a face snapshot and a voice sample against enrolled
// users. Registration enrols a new speaker; the collaborator may run it as a
// short dialogue (asking for name, age and contact details over several turns),
// so a Register call can return a non-success status together with the next
// question to speak.
//
// A non-success status is not an error: Verify and Register return a nil
// error and a [Result] whose status tells the caller which branch to take.
// Errors are reserved for transport and protocol failures.
//
// Implementations must be safe for concurrent use.
package auth

import (
	"context"
	"fmt"

	"github.com/MrWong99/facechat/pkg/types"
)

// Status values returned by the collaborator.
const (
	StatusVerified   = "verified"
	StatusRegistered = "registered"
	StatusError      = "error"
)

// VerifyRequest is the payload for [Provider.Verify].
type VerifyRequest struct {
	// SessionID correlates the request with the conversation session.
	SessionID string

	// Image is the captured face. Nil when no image could be taken.
	Image *types.ImageSnapshot

	// Audio is the recorded voice sample.
	Audio types.AudioClip
}

// RegisterRequest is the payload for [Provider.Register].
type RegisterRequest struct {
	// SessionID correlates successive registration turns.
	SessionID string

	// Image is the captured face. Nil when no image could be taken.
	Image *types.ImageSnapshot

	// Audio is the recorded voice sample.
	Audio types.AudioClip
}

// Result is the collaborator's answer.
type Result struct {
	// Status is StatusVerified, StatusRegistered, or anything else for a
	// negative outcome.
	Status string `json:"status"`

	// ResponseText is spoken back to the user.
	ResponseText string `json:"responseText"`
}

// Verified reports whether the speaker was recognised.
func (r *Result) Verified() bool { return r != nil && r.Status == StatusVerified }

// Registered reports whether enrolment completed.
func (r *Result) Registered() bool { return r != nil && r.Status == StatusRegistered }

// Provider is the abstraction over any verification/registration backend.
type Provider interface {
	// Verify checks the speaker's identity.
	Verify(ctx context.Context, req VerifyRequest) (*Result, error)

	// Register enrols the speaker or advances an enrolment dialogue.
	Register(ctx context.Context, req RegisterRequest) (*Result, error)
}

// VerificationFailure describes a negative verification outcome. It is used
// for logging and telemetry; Verify itself does not return it.
type VerificationFailure struct {
	Status string
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("auth: speaker not verified (status %q)", e.Status)
}

// RegistrationFailure describes a negative registration outcome.
type RegistrationFailure struct {
	Status string
}

func (e *RegistrationFailure) Error() string {
	return fmt.Sprintf("auth: registration not completed (status %q)", e.Status)
}

// VerifyOutcome returns nil when r is verified, and a [*VerificationFailure]
// otherwise.
func (r *Result) VerifyOutcome() error {
	if r.Verified() {
		return nil
	}
	return &VerificationFailure{Status: r.status()}
}

// RegisterOutcome returns nil when r is registered, and a
// [*RegistrationFailure] otherwise.
func (r *Result) RegisterOutcome() error {
	if r.Registered() {
		return nil
	}
	return &RegistrationFailure{Status: r.status()}
}

func (r *Result) status() string {
	if r == nil {
		return ""
	}
	return r.Status
}
