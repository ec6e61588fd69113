// Package mock provides a test double for the dialog.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/facechat/pkg/provider/dialog"
)

// Provider is a mock implementation of dialog.Provider.
type Provider struct {
	mu sync.Mutex

	// Replies are returned by successive Converse calls; the last one repeats.
	// When empty, Converse echoes the request as "you said: <text>".
	Replies []*dialog.Reply

	// Err, if non-nil, is returned by Converse.
	Err error

	// Errs, when non-empty, supplies errors for successive calls before Err
	// applies. A nil entry lets that call succeed.
	Errs []error

	// ConverseCalls records every request.
	ConverseCalls []dialog.Request

	// Forgotten records every session passed to Forget.
	Forgotten []string
}

var (
	_ dialog.Provider         = (*Provider)(nil)
	_ dialog.SessionForgetter = (*Provider)(nil)
)

// Forget implements dialog.SessionForgetter.
func (p *Provider) Forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Forgotten = append(p.Forgotten, sessionID)
}

// Converse implements dialog.Provider.
func (p *Provider) Converse(_ context.Context, req dialog.Request) (*dialog.Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConverseCalls = append(p.ConverseCalls, req)
	if len(p.Errs) > 0 {
		err := p.Errs[0]
		p.Errs = p.Errs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.Err != nil {
		return nil, p.Err
	}
	switch len(p.Replies) {
	case 0:
		text := req.Text
		if text == "" {
			text = string(req.Audio.Data)
		}
		return &dialog.Reply{Text: "you said: " + text, Transcript: text}, nil
	case 1:
		return p.Replies[0], nil
	default:
		r := p.Replies[0]
		p.Replies = p.Replies[1:]
		return r, nil
	}
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []dialog.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dialog.Request(nil), p.ConverseCalls...)
}

// ForgottenSessions returns a copy of the sessions passed to Forget.
func (p *Provider) ForgottenSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Forgotten...)
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConverseCalls = nil
}
