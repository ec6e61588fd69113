// Command facechat is the main entry point for the facechat conversation server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/facechat/internal/app"
	"github.com/MrWong99/facechat/internal/config"
	"github.com/MrWong99/facechat/internal/observe"
	"github.com/MrWong99/facechat/pkg/provider/auth"
	"github.com/MrWong99/facechat/pkg/provider/auth/httpauth"
	"github.com/MrWong99/facechat/pkg/provider/dialog"
	"github.com/MrWong99/facechat/pkg/provider/dialog/anyllm"
	"github.com/MrWong99/facechat/pkg/provider/dialog/httpdialog"
	oaidialog "github.com/MrWong99/facechat/pkg/provider/dialog/openai"
	"github.com/MrWong99/facechat/pkg/provider/synth"
	"github.com/MrWong99/facechat/pkg/provider/synth/httpsynth"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watchInterval := flag.Duration("watch-interval", 5*time.Second, "how often the config file is checked for changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	// The watcher performs the initial load; changes are applied once the
	// application exists.
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if application != nil {
			application.ApplyConfig(old, new)
		}
	}, config.WithInterval(*watchInterval))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "facechat: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "facechat: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("facechat starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Attributes: []attribute.KeyValue{
			attribute.String("facechat.listen_addr", cfg.Server.ListenAddr),
			attribute.String("facechat.dialog.provider", cfg.Collaborators.Dialog.Name),
		},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, providers,
		app.WithTelemetry(telemetry),
		app.WithLevelVar(level),
		app.WithWatcher(watcher),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Synthesis ─────────────────────────────────────────────────────────────
	reg.RegisterSynth("http", func(entry config.ProviderEntry) (synth.Provider, error) {
		var opts []httpsynth.Option
		if entry.APIKey != "" {
			opts = append(opts, httpsynth.WithAPIKey(entry.APIKey))
		}
		if path, ok := entry.StringOption("path"); ok {
			opts = append(opts, httpsynth.WithPath(path))
		}
		if voice, ok := entry.StringOption("voice"); ok {
			opts = append(opts, httpsynth.WithVoice(voice))
		}
		return httpsynth.New(entry.BaseURL, opts...)
	})

	// ── Verification / registration ───────────────────────────────────────────
	reg.RegisterAuth("http", func(entry config.ProviderEntry) (auth.Provider, error) {
		var opts []httpauth.Option
		if entry.APIKey != "" {
			opts = append(opts, httpauth.WithAPIKey(entry.APIKey))
		}
		verify, _ := entry.StringOption("verify_path")
		register, _ := entry.StringOption("register_path")
		opts = append(opts, httpauth.WithPaths(verify, register))
		return httpauth.New(entry.BaseURL, opts...)
	})

	// ── Dialog ────────────────────────────────────────────────────────────────
	reg.RegisterDialog("http", func(entry config.ProviderEntry) (dialog.Provider, error) {
		var opts []httpdialog.Option
		if entry.APIKey != "" {
			opts = append(opts, httpdialog.WithAPIKey(entry.APIKey))
		}
		if path, ok := entry.StringOption("path"); ok {
			opts = append(opts, httpdialog.WithPath(path))
		}
		return httpdialog.New(entry.BaseURL, opts...)
	})

	// openai talks to any OpenAI-compatible endpoint; BaseURL is optional.
	reg.RegisterDialog("openai", func(entry config.ProviderEntry) (dialog.Provider, error) {
		var opts []oaidialog.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaidialog.WithBaseURL(entry.BaseURL))
		}
		if prompt, ok := entry.StringOption("system_prompt"); ok {
			opts = append(opts, oaidialog.WithSystemPrompt(prompt))
		}
		if model, ok := entry.StringOption("transcription_model"); ok {
			opts = append(opts, oaidialog.WithTranscriptionModel(model))
		}
		if n, ok := entry.IntOption("max_tokens"); ok {
			opts = append(opts, oaidialog.WithMaxTokens(n))
		}
		if n, ok := entry.IntOption("history"); ok {
			opts = append(opts, oaidialog.WithHistory(n))
		}
		return oaidialog.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm runs the chat step on any any-llm-go backend (gemini by default).
	// Audio turns are transcribed through the OpenAI transcription API when
	// transcription_api_key is set.
	reg.RegisterDialog("anyllm", func(entry config.ProviderEntry) (dialog.Provider, error) {
		var opts []anyllm.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllm.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
		}
		if prompt, ok := entry.StringOption("system_prompt"); ok {
			opts = append(opts, anyllm.WithSystemPrompt(prompt))
		}
		if n, ok := entry.IntOption("max_tokens"); ok {
			opts = append(opts, anyllm.WithMaxTokens(n))
		}
		if n, ok := entry.IntOption("history"); ok {
			opts = append(opts, anyllm.WithHistory(n))
		}
		if key, ok := entry.StringOption("transcription_api_key"); ok && key != "" {
			var tOpts []oaidialog.Option
			if u, ok := entry.StringOption("transcription_base_url"); ok {
				tOpts = append(tOpts, oaidialog.WithBaseURL(u))
			}
			if model, ok := entry.StringOption("transcription_model"); ok {
				tOpts = append(tOpts, oaidialog.WithTranscriptionModel(model))
			}
			tr, err := oaidialog.NewTranscriber(key, tOpts...)
			if err != nil {
				return nil, err
			}
			opts = append(opts, anyllm.WithTranscriber(tr))
		} else {
			slog.Warn("anyllm dialog without transcription_api_key accepts text turns only")
		}
		backend, _ := entry.StringOption("backend")
		return anyllm.New(backend, entry.Model, opts...)
	})

	for _, kind := range []string{"synth", "auth", "dialog"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	c := cfg.Collaborators
	ps := &app.Providers{}

	p, err := reg.CreateSynth(c.Synth.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create synth provider %q: %w", c.Synth.Name, err)
	}
	ps.Synth = p
	slog.Info("provider created", "kind", "synth", "name", c.Synth.Name)

	for i, entry := range c.Synth.Fallbacks {
		fb, err := reg.CreateSynth(entry)
		if err != nil {
			return nil, fmt.Errorf("create synth fallback %d (%q): %w", i, entry.Name, err)
		}
		ps.SynthFallbacks = append(ps.SynthFallbacks, app.NamedSynth{Name: entry.Name, Provider: fb})
		slog.Info("provider created", "kind", "synth", "name", entry.Name, "fallback", i)
	}

	a, err := reg.CreateAuth(c.Auth)
	if err != nil {
		return nil, fmt.Errorf("create auth provider %q: %w", c.Auth.Name, err)
	}
	ps.Auth = a
	slog.Info("provider created", "kind", "auth", "name", c.Auth.Name)

	d, err := reg.CreateDialog(c.Dialog)
	if err != nil {
		return nil, fmt.Errorf("create dialog provider %q: %w", c.Dialog.Name, err)
	}
	ps.Dialog = d
	slog.Info("provider created", "kind", "dialog", "name", c.Dialog.Name, "model", c.Dialog.Model)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	c := cfg.Collaborators
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        facechat — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Synth", c.Synth.Name, c.Synth.Model)
	fmt.Printf("║  Synth fallbacks : %-19d ║\n", len(c.Synth.Fallbacks))
	printProvider("Auth", c.Auth.Name, "")
	printProvider("Dialog", c.Dialog.Name, c.Dialog.Model)
	fmt.Printf("║  Silence         : %-19s ║\n", fmt.Sprintf("%.2f / %s", cfg.VAD.SilenceThreshold, cfg.VAD.SilenceDuration))
	fmt.Printf("║  Frame rate      : %-19d ║\n", cfg.Animation.FrameRate)
	if cfg.Server.StaticDir != "" {
		fmt.Printf("║  Static dir      : %-19s ║\n", truncate(cfg.Server.StaticDir))
	} else {
		fmt.Printf("║  Static dir      : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len([]rune(s)) > 19 {
		return string([]rune(s)[:18]) + "…"
	}
	return s
}
