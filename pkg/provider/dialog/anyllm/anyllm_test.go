package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/types"
)

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": " Nice to meet you. "}
  }]
}`

// chatServer is an OpenAI-compatible chat endpoint recording request bodies.
type chatServer struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func (s *chatServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode chat body: %v", err)
		}
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		status := s.status
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(completionJSON))
	}
}

func (s *chatServer) messages(i int) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.bodies) {
		return nil
	}
	msgs, _ := s.bodies[i]["messages"].([]any)
	return msgs
}

func (s *chatServer) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(context.Context, types.AudioClip) (string, error) {
	f.calls++
	return f.text, f.err
}

func newTestProvider(t *testing.T, srv *chatServer, opts ...Option) *Provider {
	t.Helper()
	hs := httptest.NewServer(srv.handler(t))
	t.Cleanup(hs.Close)
	opts = append([]Option{WithAPIKey("sk-test"), WithBaseURL(hs.URL + "/")}, opts...)
	p, err := New("openai", "gpt-4o-mini", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		backend string
		opts    []Option
	}{
		{"openai", []Option{WithAPIKey("sk-test")}},
		{"Anthropic", []Option{WithAPIKey("sk-ant-test")}},
		{"ollama", nil},
		{"llamacpp", nil},
		{"llamafile", nil},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			p, err := New(tt.backend, "some-model", tt.opts...)
			if err != nil {
				t.Fatalf("New(%q): %v", tt.backend, err)
			}
			if got, want := p.Backend(), strings.ToLower(tt.backend); got != want {
				t.Errorf("Backend() = %q, want %q", got, want)
			}
		})
	}
}

func TestConverse_TextTurn(t *testing.T) {
	srv := &chatServer{}
	p := newTestProvider(t, srv, WithSystemPrompt("be brief"))

	reply, err := p.Converse(context.Background(), dialog.Request{SessionID: "s", Text: " hello "})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if reply.Text != "Nice to meet you." {
		t.Errorf("Text = %q, want %q", reply.Text, "Nice to meet you.")
	}
	if reply.Transcript != "hello" {
		t.Errorf("Transcript = %q, want hello", reply.Transcript)
	}

	msgs := srv.messages(0)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want system + user", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Errorf("system message = %v", first)
	}
}

func TestConverse_AudioUsesTranscriber(t *testing.T) {
	srv := &chatServer{}
	tr := &fakeTranscriber{text: "what time is it"}
	p := newTestProvider(t, srv, WithTranscriber(tr))

	reply, err := p.Converse(context.Background(), dialog.Request{
		Audio: types.AudioClip{Data: []byte("webm"), MIMEType: types.MIMEAudioWebM},
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if tr.calls != 1 {
		t.Errorf("transcriber calls = %d, want 1", tr.calls)
	}
	if reply.Transcript != "what time is it" {
		t.Errorf("Transcript = %q", reply.Transcript)
	}
	msgs := srv.messages(0)
	last, _ := msgs[len(msgs)-1].(map[string]any)
	if last["role"] != "user" || last["content"] != "what time is it" {
		t.Errorf("user message = %v", last)
	}
}

func TestConverse_AudioWithoutTranscriber(t *testing.T) {
	srv := &chatServer{}
	p := newTestProvider(t, srv)

	_, err := p.Converse(context.Background(), dialog.Request{Audio: types.AudioClip{Data: []byte("webm")}})
	if !errors.Is(err, ErrNoTranscriber) {
		t.Fatalf("err = %v, want ErrNoTranscriber", err)
	}
	if n := srv.requests(); n != 0 {
		t.Errorf("chat requests = %d, want 0", n)
	}
}

func TestConverse_EmptyTranscript(t *testing.T) {
	srv := &chatServer{}
	p := newTestProvider(t, srv, WithTranscriber(&fakeTranscriber{text: "  "}))

	if _, err := p.Converse(context.Background(), dialog.Request{Audio: types.AudioClip{Data: []byte("x")}}); err == nil {
		t.Fatal("expected error for empty transcript")
	}
	if n := srv.requests(); n != 0 {
		t.Errorf("chat requests = %d, want 0", n)
	}
}

func TestConverse_SessionHistoryAndForget(t *testing.T) {
	srv := &chatServer{}
	p := newTestProvider(t, srv, WithHistory(1))
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := p.Converse(ctx, dialog.Request{SessionID: "s", Text: text}); err != nil {
			t.Fatalf("Converse(%q): %v", text, err)
		}
	}
	// system + one remembered exchange + new user message
	if got := len(srv.messages(2)); got != 4 {
		t.Errorf("third request messages = %d, want 4", got)
	}

	p.Forget("s")
	if _, err := p.Converse(ctx, dialog.Request{SessionID: "s", Text: "four"}); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if got := len(srv.messages(3)); got != 2 {
		t.Errorf("messages after Forget = %d, want 2", got)
	}
}

func TestConverse_BackendErrorIsNetworkError(t *testing.T) {
	srv := &chatServer{status: http.StatusBadRequest}
	p := newTestProvider(t, srv)

	_, err := p.Converse(context.Background(), dialog.Request{Text: "hi"})
	if !types.IsNetworkError(err) {
		t.Fatalf("err = %v, want a NetworkError", err)
	}
}

func TestBuildParams(t *testing.T) {
	p, err := New("openai", "gpt-4o-mini", WithAPIKey("sk"), WithMaxTokens(64), WithSystemPrompt(""))
	if err != nil {
		t.Fatal(err)
	}
	p.history.Add("s", "hi", "hello")

	params := p.buildParams("s", "how are you")
	if len(params.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (no system prompt)", len(params.Messages))
	}
	wantRoles := []string{anyllmlib.RoleUser, anyllmlib.RoleAssistant, anyllmlib.RoleUser}
	for i, m := range params.Messages {
		if m.Role != wantRoles[i] {
			t.Errorf("message %d role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	if got := params.Messages[2].ContentString(); got != "how are you" {
		t.Errorf("last content = %q", got)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("MaxTokens = %v, want 64", params.MaxTokens)
	}
	if params.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", params.Model)
	}
}
