// Package httpsynth provides a synthesis provider that talks to a JSON-over-HTTP
// speech service. It implements the synth.Provider interface.
//
// The service receives POST {path} with body {"text": "...", "voice": "..."}
// and answers with the base64-encoded audio and its speech marks:
//
//	{
//	  "audioContent": "SUQzBAAAAA...",
//	  "speechMarks": [
//	    {"time": 0,  "type": "word",   "value": "Welcome"},
//	    {"time": 6,  "type": "viseme", "value": "w"},
//	    ...
//	  ]
//	}
//
// Typical usage:
//
//	p, err := httpsynth.New("http://localhost:8080",
//	    httpsynth.WithVoice("Brian"),
//	    httpsynth.WithTimeout(10*time.Second),
//	)
//	speech, err := p.Synthesize(ctx, "Hello there")
package httpsynth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/facechat/pkg/provider/synth"
	"github.com/MrWong99/facechat/pkg/types"
)

// Compile-time interface assertion.
var _ synth.Provider = (*Provider)(nil)

// ---- constants ----

const (
	providerName    = "httpsynth"
	defaultPath     = "/api/syn"
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 32 << 20
	maxErrorBody    = 512
)

// ---- options ----

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithPath overrides the synthesis endpoint path. Defaults to "/api/syn".
func WithPath(path string) Option {
	return func(p *Provider) { p.path = path }
}

// WithVoice sets the voice name forwarded to the service.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// ---- Provider ----

// Provider implements synth.Provider over HTTP. Safe for concurrent use.
type Provider struct {
	baseURL    string
	path       string
	voice      string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider targeting baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpsynth: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       defaultPath,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

type synthRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type synthResponse struct {
	SpeechMarks  []types.SpeechMark `json:"speechMarks"`
	AudioContent string             `json:"audioContent"`
	ContentType  string             `json:"contentType,omitempty"`
}

// Synthesize implements synth.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (*synth.Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &synth.SynthesisError{Provider: providerName, Err: errors.New("text must not be empty")}
	}

	body, err := json.Marshal(synthRequest{Text: text, Voice: p.voice})
	if err != nil {
		return nil, &synth.SynthesisError{Provider: providerName, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, &synth.SynthesisError{Provider: providerName, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &synth.SynthesisError{Provider: providerName, Err: &types.NetworkError{Op: "synth.synthesize", Err: err}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &synth.SynthesisError{Provider: providerName, Err: &types.NetworkError{
			Op:         "synth.synthesize",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}}
	}

	var out synthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, &synth.SynthesisError{Provider: providerName, Err: fmt.Errorf("decode response: %w", err)}
	}

	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, &synth.SynthesisError{Provider: providerName, Err: fmt.Errorf("decode audio: %w", err)}
	}
	if len(audio) == 0 {
		return nil, &synth.SynthesisError{Provider: providerName, Err: errors.New("response carried no audio")}
	}

	mime := out.ContentType
	if mime == "" {
		mime = types.MIMEAudioMPEG
	}
	return &synth.Speech{
		Audio: types.AudioClip{Data: audio, MIMEType: mime},
		Marks: types.SpeechMarkStream(out.SpeechMarks),
	}, nil
}
