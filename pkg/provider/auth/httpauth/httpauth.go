// Package httpauth provides an auth.Provider that talks to the verification
// service over HTTP.
//
// Verification posts a multipart form to {base}/auth/api/verify with the parts
// "face_image" (omitted when no image was captured) and "voice_audio".
// Registration posts the raw voice bytes to {base}/auth/api/register, or the
// same multipart form when a face image is available. Both answer with
// {"status": "...", "responseText": "..."}.
//
// Each request carries the conversation session in the X-Session-ID header so
// the service can keep per-session registration state.
package httpauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/facechat/pkg/provider/auth"
	"github.com/MrWong99/facechat/pkg/types"
)

// Compile-time interface assertion.
var _ auth.Provider = (*Provider)(nil)

// ---- constants ----

const (
	defaultVerifyPath   = "/auth/api/verify"
	defaultRegisterPath = "/auth/api/register"
	defaultTimeout      = 20 * time.Second
	sessionHeader       = "X-Session-ID"
	maxResponseSize     = 1 << 20
	maxErrorBody        = 512
)

// ---- options ----

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 20 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithPaths overrides the verify and register endpoint paths. Empty values
// keep the defaults.
func WithPaths(verify, register string) Option {
	return func(p *Provider) {
		if verify != "" {
			p.verifyPath = verify
		}
		if register != "" {
			p.registerPath = register
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// ---- Provider ----

// Provider implements auth.Provider over HTTP. Safe for concurrent use.
type Provider struct {
	baseURL      string
	verifyPath   string
	registerPath string
	apiKey       string
	httpClient   *http.Client
}

// New creates a Provider targeting baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("httpauth: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		verifyPath:   defaultVerifyPath,
		registerPath: defaultRegisterPath,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Verify implements auth.Provider.
func (p *Provider) Verify(ctx context.Context, req auth.VerifyRequest) (*auth.Result, error) {
	if req.Audio.Empty() {
		return nil, errors.New("httpauth: verify: voice sample is empty")
	}
	body, contentType, err := encodeForm(req.Image, req.Audio)
	if err != nil {
		return nil, fmt.Errorf("httpauth: verify: %w", err)
	}
	return p.post(ctx, "auth.verify", p.verifyPath, req.SessionID, body, contentType)
}

// Register implements auth.Provider.
func (p *Provider) Register(ctx context.Context, req auth.RegisterRequest) (*auth.Result, error) {
	if req.Audio.Empty() {
		return nil, errors.New("httpauth: register: voice sample is empty")
	}
	if req.Image == nil {
		return p.post(ctx, "auth.register", p.registerPath, req.SessionID, req.Audio.Data, mimeOrDefault(req.Audio.MIMEType, types.MIMEAudioWebM))
	}
	body, contentType, err := encodeForm(req.Image, req.Audio)
	if err != nil {
		return nil, fmt.Errorf("httpauth: register: %w", err)
	}
	return p.post(ctx, "auth.register", p.registerPath, req.SessionID, body, contentType)
}

func (p *Provider) post(ctx context.Context, op, path, sessionID string, body []byte, contentType string) (*auth.Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpauth: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if sessionID != "" {
		httpReq.Header.Set(sessionHeader, sessionID)
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &types.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &types.NetworkError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var res auth.Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&res); err != nil {
		return nil, fmt.Errorf("httpauth: %s: decode response: %w", op, err)
	}
	return &res, nil
}

// encodeForm builds the face_image/voice_audio multipart body.
func encodeForm(img *types.ImageSnapshot, audio types.AudioClip) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if img != nil && len(img.Data) > 0 {
		if err := writePart(w, "face_image", "image.jpg", mimeOrDefault(img.MIMEType, types.MIMEImageJPEG), img.Data); err != nil {
			return nil, "", err
		}
	}
	audioMIME := mimeOrDefault(audio.MIMEType, types.MIMEAudioWebM)
	if err := writePart(w, "voice_audio", "voice"+extensionFor(audioMIME), audioMIME, audio.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writePart(w *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

func mimeOrDefault(m, def string) string {
	if m == "" {
		return def
	}
	return m
}

func extensionFor(mimeType string) string {
	base, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ".bin"
	}
	switch base {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	default:
		return ".bin"
	}
}
