package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

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
    "message": {"role": "assistant", "content": " It is sunny. "}
  }]
}`

type fakeAPI struct {
	mu            sync.Mutex
	transcribed   int
	chatBodies    []map[string]any
	chatStatus    int
	transcription string
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("ParseMultipartForm: %v", err)
				return
			}
			if got := r.FormValue("model"); got != "whisper-1" {
				t.Errorf("model = %q, want whisper-1", got)
			}
			f.mu.Lock()
			f.transcribed++
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]string{"text": f.transcription})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode chat body: %v", err)
				return
			}
			f.mu.Lock()
			f.chatBodies = append(f.chatBodies, body)
			status := f.chatStatus
			f.mu.Unlock()
			if status != 0 {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
				return
			}
			_, _ = w.Write([]byte(completionJSON))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeAPI) transcriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcribed
}

func (f *fakeAPI) messages(i int) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, _ := f.chatBodies[i]["messages"].([]any)
	return msgs
}

func newTestProvider(t *testing.T, api *fakeAPI, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	p, err := New("sk-test", "gpt-4o-mini", append([]Option{WithBaseURL(srv.URL + "/")}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("sk", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestConverse_AudioIsTranscribedFirst(t *testing.T) {
	api := &fakeAPI{transcription: "how is the weather"}
	p := newTestProvider(t, api)

	reply, err := p.Converse(context.Background(), dialog.Request{
		SessionID: "s1",
		Audio:     types.AudioClip{Data: []byte("webm"), MIMEType: types.MIMEAudioWebM},
	})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if reply.Text != "It is sunny." {
		t.Errorf("Text = %q, want %q", reply.Text, "It is sunny.")
	}
	if reply.Transcript != "how is the weather" {
		t.Errorf("Transcript = %q", reply.Transcript)
	}
	if n := api.transcriptions(); n != 1 {
		t.Errorf("transcriptions = %d, want 1", n)
	}
	msgs := api.messages(0)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want system + user", len(msgs))
	}
	last, _ := msgs[1].(map[string]any)
	if last["role"] != "user" || last["content"] != "how is the weather" {
		t.Errorf("user message = %v", last)
	}
}

func TestTranscriber_Standalone(t *testing.T) {
	if _, err := NewTranscriber(""); err == nil {
		t.Error("expected error for empty apiKey")
	}

	api := &fakeAPI{transcription: "good morning"}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	tr, err := NewTranscriber("sk-test", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewTranscriber: %v", err)
	}

	got, err := tr.Transcribe(context.Background(), types.AudioClip{Data: []byte("webm")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "good morning" {
		t.Errorf("Transcribe = %q, want %q", got, "good morning")
	}
	if n := api.transcriptions(); n != 1 {
		t.Errorf("transcriptions = %d, want 1", n)
	}
}

func TestConverse_TextSkipsTranscription(t *testing.T) {
	api := &fakeAPI{}
	p := newTestProvider(t, api)

	if _, err := p.Converse(context.Background(), dialog.Request{Text: "hello"}); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if n := api.transcriptions(); n != 0 {
		t.Errorf("transcriptions = %d, want 0", n)
	}
}

func TestConverse_SessionHistory(t *testing.T) {
	api := &fakeAPI{}
	p := newTestProvider(t, api, WithHistory(1))
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := p.Converse(ctx, dialog.Request{SessionID: "s", Text: text}); err != nil {
			t.Fatalf("Converse(%q): %v", text, err)
		}
	}
	// system + one remembered exchange + new user message
	if got := len(api.messages(2)); got != 4 {
		t.Errorf("third request messages = %d, want 4", got)
	}

	p.Forget("s")
	if _, err := p.Converse(ctx, dialog.Request{SessionID: "s", Text: "four"}); err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if got := len(api.messages(3)); got != 2 {
		t.Errorf("messages after Forget = %d, want 2", got)
	}
}

func TestConverse_ServerErrorIsRetryable(t *testing.T) {
	api := &fakeAPI{chatStatus: http.StatusServiceUnavailable}
	p := newTestProvider(t, api)

	_, err := p.Converse(context.Background(), dialog.Request{Text: "hi"})
	var ne *types.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want *NetworkError", err)
	}
	if ne.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", ne.StatusCode)
	}
	if !ne.Retryable() {
		t.Error("503 should be retryable")
	}
}

func TestBuildParams_SystemPrompt(t *testing.T) {
	p, err := New("sk", "gpt-4o-mini", WithSystemPrompt("be brief"), WithMaxTokens(64))
	if err != nil {
		t.Fatal(err)
	}
	params := p.buildParams("", "hi")
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be a system message")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected second message to be a user message")
	}
	if params.MaxCompletionTokens.Value != 64 {
		t.Errorf("MaxCompletionTokens = %d, want 64", params.MaxCompletionTokens.Value)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"audio/webm;codecs=opus": ".webm",
		"audio/ogg":              ".ogg",
		"audio/mpeg":             ".mp3",
		"":                       ".webm",
	}
	for in, want := range tests {
		if got := ExtensionFor(in); got != want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", in, got, want)
		}
	}
}
