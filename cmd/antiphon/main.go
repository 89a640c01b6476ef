// Command antiphon is the main entry point for the Antiphon voice agent
// server.
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

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/antiphonlabs/antiphon/internal/app"
	"github.com/antiphonlabs/antiphon/internal/config"
	"github.com/antiphonlabs/antiphon/internal/observe"
	"github.com/antiphonlabs/antiphon/internal/resilience"
	discordaudio "github.com/antiphonlabs/antiphon/pkg/audio/discord"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
	oaasr "github.com/antiphonlabs/antiphon/pkg/provider/asr/openai"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr/whisper"
	"github.com/antiphonlabs/antiphon/pkg/provider/embeddings"
	oaembed "github.com/antiphonlabs/antiphon/pkg/provider/embeddings/openai"
	"github.com/antiphonlabs/antiphon/pkg/provider/gen"
	"github.com/antiphonlabs/antiphon/pkg/provider/gen/anyllm"
	oagen "github.com/antiphonlabs/antiphon/pkg/provider/gen/openai"
	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	"github.com/antiphonlabs/antiphon/pkg/provider/tts/elevenlabs"
	oatts "github.com/antiphonlabs/antiphon/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "antiphon: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "antiphon: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("antiphon starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "antiphon",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
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

	// ── Discord voice platform ────────────────────────────────────────────────
	// The Discord session is owned here rather than by the registry so it can
	// be closed on shutdown.
	var dg *discordgo.Session
	if cfg.Providers.Audio.Name == "discord" {
		entry := cfg.Providers.Audio
		dg, err = discordgo.New("Bot " + entry.APIKey)
		if err != nil {
			slog.Error("failed to create Discord session", "err", err)
			return 1
		}
		dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
		if err := dg.Open(); err != nil {
			slog.Error("failed to open Discord session", "err", err)
			return 1
		}
		guildID := optString(entry.Options, "guild_id")
		providers.Audio = discordaudio.New(dg, guildID)
		slog.Info("discord voice connected", "guild_id", guildID)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.DetectorChanged || d.PauseChanged {
			application.Sessions().ApplyTuning(new.Pipeline)
			slog.Info("pipeline tuning reloaded",
				"detector_changed", d.DetectorChanged,
				"pause_changed", d.PauseChanged,
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

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

	// Close the Discord session last so an active voice disconnect can still
	// go out during Shutdown.
	if dg != nil {
		if err := dg.Close(); err != nil {
			slog.Warn("discord session close error", "err", err)
		}
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with Antiphon. Used for startup logging.
var builtinProviders = map[string][]string{
	"asr":        {"openai", "whisper", "whisper-native"},
	"gen":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"openai", "elevenlabs"},
	"embeddings": {"openai"},
	"audio":      {"discord"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Service, error) {
		var opts []oaasr.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaasr.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaasr.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaasr.WithLanguage(lang))
		}
		return oaasr.New(entry.APIKey, opts...)
	})

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Service, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Service, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Gen ───────────────────────────────────────────────────────────────────

	// The native OpenAI client supports temperature and max-token tuning that
	// the any-llm bridge does not expose.
	reg.RegisterGen("openai", func(entry config.ProviderEntry) (gen.Service, error) {
		var opts []oagen.Option
		if entry.BaseURL != "" {
			opts = append(opts, oagen.WithBaseURL(entry.BaseURL))
		}
		if t, ok := optFloat(entry.Options, "temperature"); ok {
			opts = append(opts, oagen.WithTemperature(t))
		}
		if n, ok := optInt(entry.Options, "max_tokens"); ok {
			opts = append(opts, oagen.WithMaxTokens(n))
		}
		return oagen.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterGen(providerName, func(entry config.ProviderEntry) (gen.Service, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterGen("ollama", func(entry config.ProviderEntry) (gen.Service, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Service, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oatts.WithDefaultVoice(voice))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Service, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Service, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// Debug log of all registered providers. The discord audio platform is
	// built in run() because its session needs an explicit close.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.ASR.Name; name != "" {
		p, err := reg.CreateASR(cfg.Providers.ASR)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "asr", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create asr provider %q: %w", name, err)
		} else {
			ps.ASR = p
			slog.Info("provider created", "kind", "asr", "name", name)
		}
	}

	if name := cfg.Providers.Gen.Name; name != "" {
		p, err := reg.CreateGen(cfg.Providers.Gen)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "gen", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create gen provider %q: %w", name, err)
		} else {
			ps.Gen = p
			slog.Info("provider created", "kind", "gen", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "embeddings", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	if name := cfg.Providers.Audio.Name; name != "" && name != "discord" {
		p, err := reg.CreateAudio(cfg.Providers.Audio)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "audio", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create audio provider %q: %w", name, err)
		} else {
			ps.Audio = p
			slog.Info("provider created", "kind", "audio", "name", name)
		}
	}

	if err := wireTTSFallbacks(cfg, reg, ps); err != nil {
		return nil, err
	}

	return ps, nil
}

// wireTTSFallbacks wraps the primary TTS service in a circuit-breaking
// fallback chain when the config lists lower-priority backends.
func wireTTSFallbacks(cfg *config.Config, reg *config.Registry, ps *app.Providers) error {
	if ps.TTS == nil || len(cfg.Providers.TTSFallbacks) == 0 {
		return nil
	}

	chain := resilience.NewTTSFallback(ps.TTS, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(p, entry.Name, resilience.FallbackConfig{})
		slog.Info("tts fallback registered", "name", entry.Name)
	}
	ps.TTS = chain
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Antiphon — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR.Name, cfg.Providers.ASR.Model)
	printProvider("Gen", cfg.Providers.Gen.Name, cfg.Providers.Gen.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  TTS fallbacks   : %-19d ║\n", len(cfg.Providers.TTSFallbacks))
	if cfg.History.PostgresDSN != "" {
		fmt.Printf("║  History archive : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  History archive : %-19s ║\n", "(disabled)")
	}
	if cfg.Personas.Path != "" {
		fmt.Printf("║  Personas        : %-19s ║\n", truncate(cfg.Personas.Path, 19))
	} else {
		fmt.Printf("║  Personas        : %-19s ║\n", "(built-in)")
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
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value, 19))
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a float value, accepting both float64 and int YAML scalars.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// optInt extracts an int value, accepting both int and float64 YAML scalars.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
