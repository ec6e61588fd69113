// Package openai provides a dialog.Provider backed by the OpenAI API.
//
// Audio turns are transcribed with the audio transcription endpoint first; the
// transcript (or the request's text) is then sent to a chat completion model
// together with the system prompt and a bounded per-session history.
//
// [Transcriber] exposes the transcription step on its own so chat backends
// without audio input can share it.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/types"
)

var (
	_ dialog.Provider         = (*Provider)(nil)
	_ dialog.SessionForgetter = (*Provider)(nil)
	_ dialog.Transcriber      = (*Transcriber)(nil)
)

// DefaultSystemPrompt is used when no WithSystemPrompt option is given.
const DefaultSystemPrompt = "You are a friendly virtual assistant with an animated face. " +
	"Answer in one to three short spoken sentences. Do not use markdown."

const (
	defaultHistory            = 10
	defaultTranscriptionModel = oai.AudioModelWhisper1
)

// Provider implements dialog.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	transcriber  *Transcriber
	systemPrompt string
	maxTokens    int
	history      *dialog.History
}

// Transcriber implements dialog.Transcriber with the audio transcription
// endpoint.
type Transcriber struct {
	client oai.Client
	model  oai.AudioModel
}

type config struct {
	baseURL       string
	timeout       time.Duration
	httpClient    *http.Client
	systemPrompt  string
	transcription string
	maxTokens     int
	maxHistory    int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithTranscriptionModel selects the speech-to-text model. Defaults to whisper-1.
func WithTranscriptionModel(model string) Option {
	return func(c *config) { c.transcription = model }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithHistory sets how many previous user/assistant exchanges are kept per
// session. Zero disables history.
func WithHistory(exchanges int) Option {
	return func(c *config) { c.maxHistory = exchanges }
}

// New constructs a new OpenAI dialog Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	cfg := newConfig(opts)
	client := newClient(apiKey, cfg)
	return &Provider{
		client:       client,
		model:        model,
		transcriber:  &Transcriber{client: client, model: oai.AudioModel(cfg.transcription)},
		systemPrompt: cfg.systemPrompt,
		maxTokens:    cfg.maxTokens,
		history:      dialog.NewHistory(cfg.maxHistory),
	}, nil
}

// NewTranscriber constructs a standalone Transcriber. Only WithBaseURL,
// WithTimeout, WithHTTPClient and WithTranscriptionModel apply.
func NewTranscriber(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := newConfig(opts)
	return &Transcriber{client: newClient(apiKey, cfg), model: oai.AudioModel(cfg.transcription)}, nil
}

func newConfig(opts []Option) *config {
	cfg := &config{
		systemPrompt:  DefaultSystemPrompt,
		transcription: string(defaultTranscriptionModel),
		maxHistory:    defaultHistory,
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

func newClient(apiKey string, cfg *config) oai.Client {
	// Retries are owned by the resilience layer wrapping this provider.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return oai.NewClient(reqOpts...)
}

// Converse implements dialog.Provider.
func (p *Provider) Converse(ctx context.Context, req dialog.Request) (*dialog.Reply, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	text := req.Text
	if !req.Audio.Empty() {
		t, err := p.transcriber.Transcribe(ctx, req.Audio)
		if err != nil {
			return nil, err
		}
		text = t
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("openai: transcript is empty")
	}

	params := p.buildParams(req.SessionID, text)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, networkError("dialog.chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)

	p.history.Add(req.SessionID, text, answer)
	return &dialog.Reply{Text: answer, Transcript: text}, nil
}

// Forget implements dialog.SessionForgetter. It drops the stored history
// for sessionID.
func (p *Provider) Forget(sessionID string) {
	p.history.Forget(sessionID)
}

// Transcribe implements dialog.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip types.AudioClip) (string, error) {
	mime := clip.MIMEType
	if mime == "" {
		mime = types.MIMEAudioWebM
	}
	res, err := t.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(clip.Data), "voice"+ExtensionFor(mime), mime),
		Model: t.model,
	})
	if err != nil {
		return "", networkError("dialog.transcribe", err)
	}
	return res.Text, nil
}

// buildParams assembles system prompt, session history and the new user
// message into chat completion params.
func (p *Provider) buildParams(sessionID, text string) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion
	if p.systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(p.systemPrompt))
	}
	for _, ex := range p.history.Get(sessionID) {
		messages = append(messages, oai.UserMessage(ex.User), oai.AssistantMessage(ex.Assistant))
	}
	messages = append(messages, oai.UserMessage(text))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.maxTokens))
	}
	return params
}

// networkError maps SDK failures onto types.NetworkError so the retry layer
// can classify them.
func networkError(op string, err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &types.NetworkError{Op: op, StatusCode: apiErr.StatusCode, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("openai: %s: %w", op, err)
	}
	return &types.NetworkError{Op: op, Err: err}
}

// ExtensionFor returns the file extension transcription endpoints expect for
// an audio MIME type. Unknown types are treated as webm.
func ExtensionFor(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/mp4":
		return ".m4a"
	default:
		return ".webm"
	}
}
