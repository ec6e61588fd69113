package httpsynth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/facechat/pkg/provider/synth"
	"github.com/MrWong99/facechat/pkg/types"
)

// ---- test helpers ----

func newServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(srv.URL, WithVoice("Brian"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// ---- tests ----

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}

func TestSynthesize_Success(t *testing.T) {
	var gotReq synthRequest
	p := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/syn" {
			t.Errorf("request = %s %s, want POST /api/syn", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"audioContent": base64.StdEncoding.EncodeToString([]byte("ID3-mp3-bytes")),
			"speechMarks": []map[string]any{
				{"time": 0, "type": "word", "value": "hi", "start": 0, "end": 2},
				{"time": 0, "type": "viseme", "value": "k"},
				{"time": 75, "type": "viseme", "value": "a"},
			},
		})
	})

	speech, err := p.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotReq.Text != "hi" || gotReq.Voice != "Brian" {
		t.Errorf("request = %+v, want text=hi voice=Brian", gotReq)
	}
	if string(speech.Audio.Data) != "ID3-mp3-bytes" {
		t.Errorf("audio = %q", speech.Audio.Data)
	}
	if speech.Audio.MIMEType != types.MIMEAudioMPEG {
		t.Errorf("mime = %q, want %q", speech.Audio.MIMEType, types.MIMEAudioMPEG)
	}
	want := types.SpeechMarkStream{
		{Type: types.MarkWord, Time: 0, Value: "hi"},
		{Type: types.MarkViseme, Time: 0, Value: "k"},
		{Type: types.MarkViseme, Time: 75, Value: "a"},
	}
	if len(speech.Marks) != len(want) {
		t.Fatalf("marks = %v, want %v", speech.Marks, want)
	}
	for i := range want {
		if speech.Marks[i] != want[i] {
			t.Errorf("marks[%d] = %+v, want %+v", i, speech.Marks[i], want[i])
		}
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "polly throttled", http.StatusServiceUnavailable)
	})

	_, err := p.Synthesize(context.Background(), "hi")
	var se *synth.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SynthesisError", err)
	}
	var ne *types.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("err = %v, want to wrap *NetworkError", err)
	}
	if ne.StatusCode != http.StatusServiceUnavailable || !ne.Retryable() {
		t.Errorf("NetworkError = %+v, want retryable 503", ne)
	}
}

func TestSynthesize_BadRequestNotRetryable(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := p.Synthesize(context.Background(), "hi")
	if types.IsRetryable(err) {
		t.Errorf("400 should not be retryable: %v", err)
	}
}

func TestSynthesize_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := New(url)
	_, err := p.Synthesize(context.Background(), "hi")
	if !types.IsRetryable(err) {
		t.Errorf("transport failure should be retryable: %v", err)
	}
}

func TestSynthesize_InvalidBase64(t *testing.T) {
	p := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"audioContent":"!!!","speechMarks":[]}`))
	})

	_, err := p.Synthesize(context.Background(), "hi")
	var se *synth.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SynthesisError", err)
	}
	if types.IsNetworkError(err) {
		t.Error("decode failure must not be reported as a network error")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	called := false
	p := newServer(t, func(http.ResponseWriter, *http.Request) { called = true })

	if _, err := p.Synthesize(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank text")
	}
	if called {
		t.Error("blank text must not reach the server")
	}
}

func TestSynthesize_APIKeyAndPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/speak" {
			t.Errorf("path = %q, want /v2/speak", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"audioContent":"YQ==","contentType":"audio/ogg"}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL+"/", WithPath("/v2/speak"), WithAPIKey("secret"))
	speech, err := p.Synthesize(context.Background(), "x")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if speech.Audio.MIMEType != "audio/ogg" {
		t.Errorf("mime = %q, want audio/ogg", speech.Audio.MIMEType)
	}
}
