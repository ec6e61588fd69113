// Package httpdialog provides a dialog.Provider that talks to a conversation
// service over HTTP.
//
// Audio turns POST the raw clip bytes to {base}/conversation/api/conversation
// with the clip's MIME type as Content-Type. Text turns POST
// {"text": "..."} as JSON to the same endpoint. The service answers with
// {"responseText": "...", "transcript": "..."}; transcript is optional.
package httpdialog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/types"
)

// Compile-time interface assertion.
var _ dialog.Provider = (*Provider)(nil)

const (
	defaultPath     = "/conversation/api/conversation"
	defaultTimeout  = 30 * time.Second
	sessionHeader   = "X-Session-ID"
	maxResponseSize = 1 << 20
	maxErrorBody    = 512
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithPath overrides the conversation endpoint path.
func WithPath(path string) Option {
	return func(p *Provider) { p.path = path }
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// Provider implements dialog.Provider over HTTP. Safe for concurrent use.
type Provider struct {
	baseURL    string
	path       string
	apiKey     string
	httpClient *http.Client
}

// New creates a Provider targeting baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpdialog: baseURL must not be empty")
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

type textRequest struct {
	Text string `json:"text"`
}

type conversationResponse struct {
	ResponseText string `json:"responseText"`
	Transcript   string `json:"transcript,omitempty"`
}

// Converse implements dialog.Provider.
func (p *Provider) Converse(ctx context.Context, req dialog.Request) (*dialog.Reply, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		body        []byte
		contentType string
	)
	if !req.Audio.Empty() {
		body = req.Audio.Data
		contentType = req.Audio.MIMEType
		if contentType == "" {
			contentType = types.MIMEAudioWebM
		}
	} else {
		b, err := json.Marshal(textRequest{Text: req.Text})
		if err != nil {
			return nil, fmt.Errorf("httpdialog: encode request: %w", err)
		}
		body, contentType = b, "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpdialog: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if req.SessionID != "" {
		httpReq.Header.Set(sessionHeader, req.SessionID)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &types.NetworkError{Op: "dialog.converse", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &types.NetworkError{Op: "dialog.converse", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out conversationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpdialog: decode response: %w", err)
	}
	return &dialog.Reply{Text: out.ResponseText, Transcript: out.Transcript}, nil
}
