package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/facechat/internal/config"
)

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := &config.Config{
		VAD:          config.VADConfig{SilenceThreshold: 0.5, PollInterval: 10 * time.Millisecond},
		Conversation: config.ConversationConfig{WelcomeText: "Hi.", MaxRecordingFailures: 7},
	}
	config.ApplyDefaults(cfg)

	if cfg.VAD.SilenceThreshold != 0.5 {
		t.Errorf("silence_threshold: got %v, want 0.5", cfg.VAD.SilenceThreshold)
	}
	if cfg.VAD.PollInterval != 10*time.Millisecond {
		t.Errorf("poll_interval: got %s, want 10ms", cfg.VAD.PollInterval)
	}
	if cfg.VAD.SilenceDuration != 2*time.Second {
		t.Errorf("silence_duration: got %s, want default 2s", cfg.VAD.SilenceDuration)
	}
	if cfg.Conversation.WelcomeText != "Hi." {
		t.Errorf("welcome_text: got %q", cfg.Conversation.WelcomeText)
	}
	if cfg.Conversation.MaxRecordingFailures != 7 {
		t.Errorf("max_recording_failures: got %d, want 7", cfg.Conversation.MaxRecordingFailures)
	}
	if cfg.Playback.TickInterval != 16*time.Millisecond {
		t.Errorf("tick_interval: got %s, want 16ms", cfg.Playback.TickInterval)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facechat.yaml")
	writeFile(t, path, sampleYAML)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Collaborators.Auth.BaseURL != "https://auth.example.com" {
		t.Errorf("auth base_url: got %q", cfg.Collaborators.Auth.BaseURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("got %v, want parse error naming the file", err)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	e := config.ProviderEntry{Options: map[string]any{
		"voice": "Matthew",
		"empty": "",
		"n":     3,
		"f":     2.0,
		"frac":  2.5,
	}}
	if v, ok := e.StringOption("voice"); !ok || v != "Matthew" {
		t.Errorf("StringOption(voice): got %q, %v", v, ok)
	}
	if _, ok := e.StringOption("empty"); ok {
		t.Error("StringOption(empty): got ok, want not ok")
	}
	if n, ok := e.IntOption("n"); !ok || n != 3 {
		t.Errorf("IntOption(n): got %d, %v", n, ok)
	}
	if n, ok := e.IntOption("f"); !ok || n != 2 {
		t.Errorf("IntOption(f): got %d, %v", n, ok)
	}
	if _, ok := e.IntOption("frac"); ok {
		t.Error("IntOption(frac): got ok, want not ok")
	}
	if _, ok := e.IntOption("missing"); ok {
		t.Error("IntOption(missing): got ok, want not ok")
	}
}
