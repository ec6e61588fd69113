// Package mock provides a test double for the synth.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Result: &synth.Speech{Audio: types.AudioClip{Data: []byte("mp3")}},
//	}
//	speech, _ := p.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/facechat/pkg/provider/synth"
	"github.com/MrWong99/facechat/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the utterance passed to Synthesize.
	Text string
}

// Provider is a mock implementation of synth.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Result is returned by Synthesize. When nil, a one-viseme speech whose
	// audio bytes are the input text is returned.
	Result *synth.Speech

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Errs, when non-empty, supplies the error for successive calls; once
	// exhausted, Err applies.
	Errs []error

	// --- Recorded calls ---

	// SynthesizeCalls records every Synthesize invocation.
	SynthesizeCalls []SynthesizeCall
}

var _ synth.Provider = (*Provider)(nil)

// Synthesize implements synth.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (*synth.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text})

	if len(p.Errs) > 0 {
		err := p.Errs[0]
		p.Errs = p.Errs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.Err != nil {
		return nil, p.Err
	}

	if p.Result != nil {
		return p.Result, nil
	}
	return &synth.Speech{
		Audio: types.AudioClip{Data: []byte(text), MIMEType: types.MIMEAudioMPEG},
		Marks: types.SpeechMarkStream{{Type: types.MarkViseme, Time: 0, Value: "a"}},
	}, nil
}

// Texts returns the utterances synthesized so far.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}
