package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/facechat/internal/capture"
	"github.com/MrWong99/facechat/internal/conversation"
	"github.com/MrWong99/facechat/internal/expression"
	"github.com/MrWong99/facechat/internal/playback"
	"github.com/MrWong99/facechat/internal/resilience"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"synth":  {"http"},
	"auth":   {"http"},
	"dialog": {"http", "openai", "anyllm"},
}

// Defaults for fields not covered by a component package.
const (
	DefaultListenAddr   = ":8080"
	DefaultFrameRate    = 60
	DefaultServiceName  = "facechat"
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
)

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it and fills in
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills every zero-valued tunable with its built-in default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	vad := capture.DefaultConfig()
	setFloat(&cfg.VAD.SilenceThreshold, vad.SilenceThreshold)
	setDuration(&cfg.VAD.SilenceDuration, vad.SilenceDuration)
	setDuration(&cfg.VAD.PollInterval, vad.PollInterval)
	setDuration(&cfg.VAD.MaxDuration, vad.MaxDuration)

	setFloat(&cfg.Animation.Speed, 1)
	setDuration(&cfg.Animation.BaseDuration, expression.DefaultBaseDuration)
	if cfg.Animation.FrameRate == 0 {
		cfg.Animation.FrameRate = DefaultFrameRate
	}

	setDuration(&cfg.Playback.TickInterval, playback.DefaultTickInterval)

	conv := conversation.DefaultSettings()
	if cfg.Conversation.WelcomeText == "" {
		cfg.Conversation.WelcomeText = conv.WelcomeText
	}
	setDuration(&cfg.Conversation.ResetGrace, conv.ResetGrace)
	if cfg.Conversation.MaxRecordingFailures == 0 {
		cfg.Conversation.MaxRecordingFailures = conv.MaxRecordingFailures
	}

	retry := resilience.DefaultRetryPolicy()
	setDuration(&cfg.Collaborators.Timeout, retry.AttemptTimeout)
	if cfg.Collaborators.Retry.MaxAttempts == 0 {
		cfg.Collaborators.Retry.MaxAttempts = retry.MaxAttempts
	}
	setDuration(&cfg.Collaborators.Retry.BaseDelay, retry.BaseDelay)
	setDuration(&cfg.Collaborators.Retry.MaxDelay, retry.MaxDelay)
	if cfg.Collaborators.Breaker.MaxFailures == 0 {
		cfg.Collaborators.Breaker.MaxFailures = DefaultMaxFailures
	}
	setDuration(&cfg.Collaborators.Breaker.ResetTimeout, DefaultResetTimeout)

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setFloat(f *float64, def float64) {
	if *f == 0 {
		*f = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Zero values are accepted everywhere; [ApplyDefaults] replaces them.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.StaticDir != "" {
		if info, err := os.Stat(cfg.Server.StaticDir); err != nil || !info.IsDir() {
			slog.Warn("server.static_dir is not a readable directory; no page will be served",
				"static_dir", cfg.Server.StaticDir)
		}
	}

	// VAD
	if t := cfg.VAD.SilenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %.3f is out of range [0, 1]", t))
	}
	errs = appendNegative(errs, "vad.silence_duration", cfg.VAD.SilenceDuration)
	errs = appendNegative(errs, "vad.poll_interval", cfg.VAD.PollInterval)
	errs = appendNegative(errs, "vad.max_duration", cfg.VAD.MaxDuration)
	if cfg.VAD.MaxDuration > 0 && cfg.VAD.SilenceDuration > cfg.VAD.MaxDuration {
		slog.Warn("vad.silence_duration exceeds vad.max_duration; recordings will always hit the cap",
			"silence_duration", cfg.VAD.SilenceDuration,
			"max_duration", cfg.VAD.MaxDuration)
	}

	// Animation
	if cfg.Animation.Speed < 0 {
		errs = append(errs, fmt.Errorf("animation.speed %.2f must not be negative", cfg.Animation.Speed))
	}
	errs = appendNegative(errs, "animation.base_duration", cfg.Animation.BaseDuration)
	if cfg.Animation.FrameRate < 0 || cfg.Animation.FrameRate > 240 {
		errs = append(errs, fmt.Errorf("animation.frame_rate %d is out of range [1, 240]", cfg.Animation.FrameRate))
	}

	errs = appendNegative(errs, "playback.tick_interval", cfg.Playback.TickInterval)

	// Conversation
	errs = appendNegative(errs, "conversation.reset_grace", cfg.Conversation.ResetGrace)
	if cfg.Conversation.MaxRecordingFailures < 0 {
		errs = append(errs, fmt.Errorf("conversation.max_recording_failures %d must not be negative", cfg.Conversation.MaxRecordingFailures))
	}

	// Collaborators
	c := cfg.Collaborators
	errs = appendNegative(errs, "collaborators.timeout", c.Timeout)
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("collaborators.retry.max_attempts %d must not be negative", c.Retry.MaxAttempts))
	}
	errs = appendNegative(errs, "collaborators.retry.base_delay", c.Retry.BaseDelay)
	errs = appendNegative(errs, "collaborators.retry.max_delay", c.Retry.MaxDelay)
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		errs = append(errs, fmt.Errorf("collaborators.retry.base_delay %s exceeds max_delay %s", c.Retry.BaseDelay, c.Retry.MaxDelay))
	}
	if c.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("collaborators.breaker.max_failures %d must not be negative", c.Breaker.MaxFailures))
	}
	errs = appendNegative(errs, "collaborators.breaker.reset_timeout", c.Breaker.ResetTimeout)

	errs = append(errs, validateEntry("synth", "collaborators.synth", c.Synth.ProviderEntry, true)...)
	for i, fb := range c.Synth.Fallbacks {
		errs = append(errs, validateEntry("synth", fmt.Sprintf("collaborators.synth.fallbacks[%d]", i), fb, true)...)
	}
	if c.Synth.Name == "" && len(c.Synth.Fallbacks) > 0 {
		errs = append(errs, errors.New("collaborators.synth.fallbacks requires collaborators.synth.name"))
	}
	errs = append(errs, validateEntry("auth", "collaborators.auth", c.Auth, true)...)
	// SDK-backed dialog providers have default endpoints but need a model.
	sdkDialog := c.Dialog.Name == "openai" || c.Dialog.Name == "anyllm"
	errs = append(errs, validateEntry("dialog", "collaborators.dialog", c.Dialog, !sdkDialog)...)
	if sdkDialog && c.Dialog.Model == "" {
		errs = append(errs, fmt.Errorf("collaborators.dialog.model is required for provider %q", c.Dialog.Name))
	}

	if c.Synth.Name == "" || c.Auth.Name == "" || c.Dialog.Name == "" {
		slog.Warn("not all collaborators are configured; sessions cannot start until they are",
			"synth", c.Synth.Name,
			"auth", c.Auth.Name,
			"dialog", c.Dialog.Name)
	}

	return errors.Join(errs...)
}

// validateEntry checks one provider block. Blocks without a name are
// skipped. needsURL marks providers that have no default endpoint.
func validateEntry(kind, prefix string, e ProviderEntry, needsURL bool) []error {
	if e.Name == "" {
		return nil
	}
	validateProviderName(kind, e.Name)

	var errs []error
	if e.BaseURL == "" {
		if needsURL {
			errs = append(errs, fmt.Errorf("%s.base_url is required for provider %q", prefix, e.Name))
		}
	} else if u, err := url.Parse(e.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("%s.base_url %q is not an absolute URL", prefix, e.BaseURL))
	}
	return errs
}

func appendNegative(errs []error, field string, d time.Duration) []error {
	if d < 0 {
		return append(errs, fmt.Errorf("%s %s must not be negative", field, d))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
