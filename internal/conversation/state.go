package conversation

import "time"

// State is a step of the conversation loop.
type State int

const (
	// StateIdle means no session is running.
	StateIdle State = iota

	// StatePlayingIntro speaks the welcome text.
	StatePlayingIntro

	// StateCapturingImage takes the face snapshot used for verification.
	StateCapturingImage

	// StateAwaitingVerificationPrompt speaks the optional prompt asking the
	// user to say something before the first recording.
	StateAwaitingVerificationPrompt

	// StateRecording waits for the user's next utterance.
	StateRecording

	// StateVerifying submits image and voice to the verification service.
	StateVerifying

	// StateRegistering enrols an unknown speaker.
	StateRegistering

	// StateConversing sends the utterance to the conversation backend.
	StateConversing

	// StateSpeaking synthesizes and plays a response.
	StateSpeaking
)

var stateNames = [...]string{
	StateIdle:                       "idle",
	StatePlayingIntro:               "playing_intro",
	StateCapturingImage:             "capturing_image",
	StateAwaitingVerificationPrompt: "awaiting_verification_prompt",
	StateRecording:                  "recording",
	StateVerifying:                  "verifying",
	StateRegistering:                "registering",
	StateConversing:                 "conversing",
	StateSpeaking:                   "speaking",
}

// String returns the snake_case name used in logs and metrics.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Transition describes one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}
