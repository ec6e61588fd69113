package dialog

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/facechat/pkg/types"
)

// Transcriber turns a recorded utterance into text. Chat backends without
// native audio input pair with one to accept audio turns.
type Transcriber interface {
	Transcribe(ctx context.Context, clip types.AudioClip) (string, error)
}

// Exchange is one user utterance and the assistant's answer to it.
type Exchange struct {
	User      string
	Assistant string
}

// History keeps the most recent exchanges per session for chat backends that
// are stateless between requests. A zero limit disables it. Safe for
// concurrent use.
type History struct {
	limit int

	mu       sync.Mutex
	sessions map[string][]Exchange
}

// NewHistory returns a History keeping at most limit exchanges per session.
func NewHistory(limit int) *History {
	return &History{limit: max(0, limit), sessions: make(map[string][]Exchange)}
}

// Get returns a copy of the exchanges remembered for sessionID, oldest first.
func (h *History) Get(sessionID string) []Exchange {
	if sessionID == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.sessions[sessionID])
}

// Add appends an exchange, dropping the oldest ones beyond the limit.
// Anonymous sessions are never remembered.
func (h *History) Add(sessionID, user, assistant string) {
	if sessionID == "" || h.limit == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ex := append(h.sessions[sessionID], Exchange{User: user, Assistant: assistant})
	if len(ex) > h.limit {
		ex = slices.Clone(ex[len(ex)-h.limit:])
	}
	h.sessions[sessionID] = ex
}

// Forget drops everything remembered for sessionID.
func (h *History) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// Len reports how many sessions currently have history.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
