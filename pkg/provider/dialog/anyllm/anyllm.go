// Package anyllm provides a dialog.Provider whose chat step runs on
// github.com/mozilla-ai/any-llm-go, a unified interface over OpenAI, Anthropic,
// Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp and llamafile.
//
// Chat backends take text only, so audio turns need a [dialog.Transcriber]
// (see [WithTranscriber]); the openai package provides one backed by Whisper.
// Text turns work without it.
//
// Usage:
//
//	tr, _ := openai.NewTranscriber(os.Getenv("OPENAI_API_KEY"))
//	p, err := anyllm.New("gemini", "gemini-2.0-flash",
//		anyllm.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//		anyllm.WithTranscriber(tr),
//	)
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
	oai "github.com/openai/openai-go"

	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/types"
)

var (
	_ dialog.Provider         = (*Provider)(nil)
	_ dialog.SessionForgetter = (*Provider)(nil)
)

// DefaultBackend is used when New is called with an empty backend name.
const DefaultBackend = "gemini"

// DefaultSystemPrompt is used when no WithSystemPrompt option is given.
const DefaultSystemPrompt = "You are a friendly virtual assistant with an animated face. " +
	"Answer in one to three short spoken sentences. Do not use markdown."

const defaultHistory = 10

// ErrNoTranscriber is returned for audio turns when no Transcriber is set.
var ErrNoTranscriber = errors.New("anyllm: audio turn without a transcriber")

// Provider implements dialog.Provider on top of an any-llm-go backend.
type Provider struct {
	backend      anyllmlib.Provider
	backendName  string
	model        string
	transcriber  dialog.Transcriber
	systemPrompt string
	maxTokens    int
	history      *dialog.History
}

type config struct {
	libOpts      []anyllmlib.Option
	transcriber  dialog.Transcriber
	systemPrompt string
	maxTokens    int
	maxHistory   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithAPIKey sets the backend's API key. Without it the backend reads its
// usual environment variable (GEMINI_API_KEY, OPENAI_API_KEY, ...).
func WithAPIKey(key string) Option {
	return func(c *config) { c.libOpts = append(c.libOpts, anyllmlib.WithAPIKey(key)) }
}

// WithBaseURL points the backend at a different endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.libOpts = append(c.libOpts, anyllmlib.WithBaseURL(url)) }
}

// WithTranscriber enables audio turns.
func WithTranscriber(t dialog.Transcriber) Option {
	return func(c *config) { c.transcriber = t }
}

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithHistory sets how many previous exchanges are kept per session. Zero
// disables history.
func WithHistory(exchanges int) Option {
	return func(c *config) { c.maxHistory = exchanges }
}

// New creates a Provider on the named any-llm-go backend: one of "openai",
// "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"
// or "llamafile". An empty name selects [DefaultBackend].
func New(backendName, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	if backendName == "" {
		backendName = DefaultBackend
	}
	cfg := &config{systemPrompt: DefaultSystemPrompt, maxHistory: defaultHistory}
	for _, o := range opts {
		o(cfg)
	}

	backend, err := createBackend(backendName, cfg.libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}
	return &Provider{
		backend:      backend,
		backendName:  strings.ToLower(backendName),
		model:        model,
		transcriber:  cfg.transcriber,
		systemPrompt: cfg.systemPrompt,
		maxTokens:    cfg.maxTokens,
		history:      dialog.NewHistory(cfg.maxHistory),
	}, nil
}

func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
}

// Backend returns the lower-cased backend name.
func (p *Provider) Backend() string { return p.backendName }

// Converse implements dialog.Provider.
func (p *Provider) Converse(ctx context.Context, req dialog.Request) (*dialog.Reply, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	text := req.Text
	if !req.Audio.Empty() {
		if p.transcriber == nil {
			return nil, ErrNoTranscriber
		}
		t, err := p.transcriber.Transcribe(ctx, req.Audio)
		if err != nil {
			return nil, err
		}
		text = t
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("anyllm: transcript is empty")
	}

	resp, err := p.backend.Completion(ctx, p.buildParams(req.SessionID, text))
	if err != nil {
		return nil, networkError("dialog.chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: empty choices in response")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.ContentString())

	p.history.Add(req.SessionID, text, answer)
	return &dialog.Reply{Text: answer, Transcript: text}, nil
}

// Forget implements dialog.SessionForgetter.
func (p *Provider) Forget(sessionID string) {
	p.history.Forget(sessionID)
}

func (p *Provider) buildParams(sessionID, text string) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if p.systemPrompt != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: p.systemPrompt})
	}
	for _, ex := range p.history.Get(sessionID) {
		messages = append(messages,
			anyllmlib.Message{Role: anyllmlib.RoleUser, Content: ex.User},
			anyllmlib.Message{Role: anyllmlib.RoleAssistant, Content: ex.Assistant},
		)
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: text})

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if p.maxTokens > 0 {
		mt := p.maxTokens
		params.MaxTokens = &mt
	}
	return params
}

// networkError classifies backend failures for the retry layer. Backends
// built on the OpenAI SDK keep its status code in the error chain; other
// failures are treated as transport errors.
func networkError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("anyllm: %s: %w", op, err)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &types.NetworkError{Op: op, StatusCode: apiErr.StatusCode, Err: err}
	}
	return &types.NetworkError{Op: op, Err: err}
}
