package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrConcurrentActivity is returned when an activity is entered while another
// one is still running. The loop is sequential, so seeing this error means a
// step failed to release its activity.
var ErrConcurrentActivity = errors.New("conversation: another activity is already running")

type activity string

const (
	activityRecording activity = "recording"
	activitySpeaking  activity = "speaking"
	activityNetwork   activity = "network"
)

// activityGuard admits at most one of recording, speaking and a
// collaborator call at a time.
type activityGuard struct {
	mu      sync.Mutex
	current activity
}

// enter claims the guard for a. The returned release func is idempotent.
func (g *activityGuard) enter(a activity) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != "" {
		slog.Error("conversation: activity overlap",
			"running", g.current,
			"requested", a)
		return nil, fmt.Errorf("%w: %s while %s", ErrConcurrentActivity, a, g.current)
	}
	g.current = a
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.current = ""
			g.mu.Unlock()
		})
	}, nil
}

func (g *activityGuard) active() activity {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
