// Package config provides the configuration schema, loader, and provider registry
// for the facechat server.
package config

import "time"

// LogLevel controls log verbosity for the facechat server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for facechat.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	VAD           VADConfig           `yaml:"vad"`
	Animation     AnimationConfig     `yaml:"animation"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Collaborators CollaboratorsConfig `yaml:"collaborators"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir, when set, is served at / so a browser page can act as the
	// device host.
	StaticDir string `yaml:"static_dir"`

	// AllowedOrigins lists extra host patterns allowed to open the device
	// host socket. Same-origin pages are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// VADConfig holds the silence-detection tunables of the recorder.
type VADConfig struct {
	// SilenceThreshold is the level in [0, 1] at or below which a sample
	// counts as silence.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration is how long silence must last before a recording ends.
	SilenceDuration time.Duration `yaml:"silence_duration"`

	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxDuration caps one recording.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// AnimationConfig configures the face animator and its render loop.
type AnimationConfig struct {
	// Speed multiplies the interpolation rate. 1 is the natural pace.
	Speed float64 `yaml:"speed"`

	// BaseDuration is the interpolation time at speed 1.
	BaseDuration time.Duration `yaml:"base_duration"`

	// FrameRate is how many frames per second are pushed to the renderer.
	FrameRate int `yaml:"frame_rate"`
}

// PlaybackConfig configures the speech-mark synchronizer.
type PlaybackConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// ConversationConfig holds the orchestrator's texts and tunables.
type ConversationConfig struct {
	WelcomeText        string `yaml:"welcome_text"`
	VerificationPrompt string `yaml:"verification_prompt"`

	// ResetGrace is the pause between the end of speech and the face reset.
	ResetGrace time.Duration `yaml:"reset_grace"`

	// MaxRecordingFailures ends the session after this many consecutive
	// failed recordings.
	MaxRecordingFailures int `yaml:"max_recording_failures"`
}

// CollaboratorsConfig declares the remote services the conversation depends
// on and how calls to them are retried.
type CollaboratorsConfig struct {
	// Timeout bounds a single attempt against any collaborator.
	Timeout time.Duration `yaml:"timeout"`

	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`

	// Synth selects the speech synthesis provider. Fallbacks are tried in
	// order when the primary fails.
	Synth SynthEntry `yaml:"synth"`

	// Auth selects the face/voice verification and registration provider.
	Auth ProviderEntry `yaml:"auth"`

	// Dialog selects the conversation backend.
	Dialog ProviderEntry `yaml:"dialog"`
}

// RetryConfig controls retries of transient collaborator failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BreakerConfig controls the per-collaborator circuit breakers.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "http", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SynthEntry is a [ProviderEntry] with an ordered list of fallbacks.
type SynthEntry struct {
	ProviderEntry `yaml:",inline"`

	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// TelemetryConfig configures OpenTelemetry resource attributes.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}

// StringOption returns e.Options[key] if it is a non-empty string.
func (e ProviderEntry) StringOption(key string) (string, bool) {
	v, ok := e.Options[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// IntOption returns e.Options[key] if it is an integer.
func (e ProviderEntry) IntOption(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
