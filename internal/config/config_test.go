package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/facechat/internal/config"
	"github.com/MrWong99/facechat/pkg/provider/auth"
	authmock "github.com/MrWong99/facechat/pkg/provider/auth/mock"
	"github.com/MrWong99/facechat/pkg/provider/dialog"
	dialogmock "github.com/MrWong99/facechat/pkg/provider/dialog/mock"
	"github.com/MrWong99/facechat/pkg/provider/synth"
	synthmock "github.com/MrWong99/facechat/pkg/provider/synth/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  static_dir: ""

vad:
  silence_threshold: 0.08
  silence_duration: 1500ms
  poll_interval: 50ms
  max_duration: 20s

animation:
  speed: 1.5
  base_duration: 100ms
  frame_rate: 30

playback:
  tick_interval: 10ms

conversation:
  welcome_text: Hello there.
  verification_prompt: Please say a few words.
  reset_grace: 250ms
  max_recording_failures: 4

collaborators:
  timeout: 10s
  retry:
    max_attempts: 2
    base_delay: 100ms
    max_delay: 1s
  breaker:
    max_failures: 3
    reset_timeout: 10s
  synth:
    name: http
    base_url: https://tts.example.com
    options:
      voice: Joanna
    fallbacks:
      - name: http
        base_url: https://tts-backup.example.com
  auth:
    name: http
    base_url: https://auth.example.com
  dialog:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    options:
      history: 6

telemetry:
  service_name: facechat-test
`

func load(t *testing.T, doc string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(doc))
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := load(t, sampleYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.VAD.SilenceDuration != 1500*time.Millisecond {
		t.Errorf("vad.silence_duration: got %s, want 1.5s", cfg.VAD.SilenceDuration)
	}
	if cfg.Animation.FrameRate != 30 {
		t.Errorf("animation.frame_rate: got %d, want 30", cfg.Animation.FrameRate)
	}
	if cfg.Conversation.VerificationPrompt != "Please say a few words." {
		t.Errorf("conversation.verification_prompt: got %q", cfg.Conversation.VerificationPrompt)
	}
	if cfg.Collaborators.Synth.Name != "http" || cfg.Collaborators.Synth.BaseURL != "https://tts.example.com" {
		t.Errorf("collaborators.synth: got %+v", cfg.Collaborators.Synth.ProviderEntry)
	}
	if len(cfg.Collaborators.Synth.Fallbacks) != 1 {
		t.Fatalf("collaborators.synth.fallbacks: got %d, want 1", len(cfg.Collaborators.Synth.Fallbacks))
	}
	if v, ok := cfg.Collaborators.Synth.StringOption("voice"); !ok || v != "Joanna" {
		t.Errorf("synth voice option: got %q, %v", v, ok)
	}
	if n, ok := cfg.Collaborators.Dialog.IntOption("history"); !ok || n != 6 {
		t.Errorf("dialog history option: got %d, %v", n, ok)
	}
	if cfg.Telemetry.ServiceName != "facechat-test" {
		t.Errorf("telemetry.service_name: got %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_EmptyAppliesDefaults(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		cfg, err := load(t, doc)
		if err != nil {
			t.Fatalf("LoadFromReader(%q): %v", doc, err)
		}
		if cfg.Server.ListenAddr != config.DefaultListenAddr {
			t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
		}
		if cfg.Server.LogLevel != config.LogInfo {
			t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
		}
		if cfg.VAD.SilenceThreshold != 0.12 {
			t.Errorf("vad.silence_threshold: got %v, want 0.12", cfg.VAD.SilenceThreshold)
		}
		if cfg.Animation.Speed != 1 || cfg.Animation.FrameRate != config.DefaultFrameRate {
			t.Errorf("animation: got %+v", cfg.Animation)
		}
		if cfg.Conversation.WelcomeText == "" {
			t.Error("conversation.welcome_text: got empty, want default welcome")
		}
		if cfg.Collaborators.Retry.MaxAttempts != 3 {
			t.Errorf("retry.max_attempts: got %d, want 3", cfg.Collaborators.Retry.MaxAttempts)
		}
		if cfg.Collaborators.Breaker.ResetTimeout != config.DefaultResetTimeout {
			t.Errorf("breaker.reset_timeout: got %s", cfg.Collaborators.Breaker.ResetTimeout)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := load(t, "server:\n  listen_adr: \":1\"\n")
	if err == nil {
		t.Fatal("expected error for misspelt field, got nil")
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: verbose\n", "log_level"},
		{"threshold range", "vad:\n  silence_threshold: 1.5\n", "vad.silence_threshold"},
		{"negative silence", "vad:\n  silence_duration: -1s\n", "vad.silence_duration"},
		{"negative speed", "animation:\n  speed: -2\n", "animation.speed"},
		{"frame rate", "animation:\n  frame_rate: 1000\n", "animation.frame_rate"},
		{"negative grace", "conversation:\n  reset_grace: -5ms\n", "conversation.reset_grace"},
		{"retry delays", "collaborators:\n  retry:\n    base_delay: 2s\n    max_delay: 1s\n", "base_delay"},
		{"synth url", "collaborators:\n  synth:\n    name: http\n", "collaborators.synth.base_url"},
		{"relative url", "collaborators:\n  auth:\n    name: http\n    base_url: /auth\n", "not an absolute URL"},
		{"orphan fallbacks", "collaborators:\n  synth:\n    fallbacks:\n      - name: http\n        base_url: http://x\n", "requires collaborators.synth.name"},
		{"fallback url", "collaborators:\n  synth:\n    name: http\n    base_url: http://a\n    fallbacks:\n      - name: http\n", "fallbacks[0].base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_SDKDialogNeedsModelNotURL(t *testing.T) {
	for _, name := range []string{"openai", "anyllm"} {
		t.Run(name, func(t *testing.T) {
			ok := "collaborators:\n  dialog:\n    name: " + name + "\n    api_key: sk\n    model: some-model\n"
			if _, err := load(t, ok); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			_, err := load(t, "collaborators:\n  dialog:\n    name: "+name+"\n    api_key: sk\n")
			if err == nil || !strings.Contains(err.Error(), "collaborators.dialog.model") {
				t.Errorf("missing model: got %v, want an error naming collaborators.dialog.model", err)
			}
		})
	}
	if _, err := load(t, "collaborators:\n  dialog:\n    name: http\n"); err == nil {
		t.Error("expected error for http dialog without base_url")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: "loud"},
		VAD:    config.VADConfig{SilenceThreshold: -1},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "silence_threshold"} {
		if !strings.Contains(msg, want) {
			t.Errorf("joined error should mention %q, got: %v", want, msg)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	for _, kind := range []string{"synth", "auth", "dialog"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nope"}

	if _, err := reg.CreateSynth(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSynth: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateAuth(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateAuth: got %v, want ErrProviderNotRegistered", err)
	}
	_, err := reg.CreateDialog(entry)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateDialog: got %v, want ErrProviderNotRegistered", err)
	}
	if err != nil && !strings.Contains(err.Error(), `dialog/"nope"`) {
		t.Errorf("error should name kind and provider, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterSynth("fake", func(e config.ProviderEntry) (synth.Provider, error) {
		gotEntry = e
		return &synthmock.Provider{}, nil
	})
	reg.RegisterAuth("fake", func(config.ProviderEntry) (auth.Provider, error) {
		return &authmock.Provider{}, nil
	})
	reg.RegisterDialog("fake", func(config.ProviderEntry) (dialog.Provider, error) {
		return &dialogmock.Provider{}, nil
	})

	s, err := reg.CreateSynth(config.ProviderEntry{Name: "fake", Model: "m1"})
	if err != nil {
		t.Fatalf("CreateSynth: %v", err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry model: got %q, want m1", gotEntry.Model)
	}
	speech, err := s.Synthesize(context.Background(), "hi")
	if err != nil || string(speech.Audio.Data) != "hi" {
		t.Errorf("Synthesize: got %v, %v", speech, err)
	}
	if _, err := reg.CreateAuth(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateAuth: %v", err)
	}
	if _, err := reg.CreateDialog(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateDialog: %v", err)
	}
	if names := reg.Names("dialog"); len(names) != 1 || names[0] != "fake" {
		t.Errorf("Names(dialog): got %v, want [fake]", names)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterAuth("broken", func(config.ProviderEntry) (auth.Provider, error) {
		return nil, boom
	})
	if _, err := reg.CreateAuth(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
}
