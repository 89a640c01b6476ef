package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr":        {"openai", "whisper", "whisper-native"},
	"gen":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"openai", "elevenlabs"},
	"embeddings": {"openai"},
	"audio":      {"discord"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; soft
// issues are logged instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Session service
	if cfg.Session.BaseURL == "" {
		slog.Warn("session.base_url is empty; the runtime will issue local credentials without a session service")
	} else if u, err := url.Parse(cfg.Session.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("session.base_url %q is not an http(s) URL", cfg.Session.BaseURL))
	}

	// Providers. The cascaded pipeline cannot run without its three stages.
	if cfg.Providers.ASR.Name == "" {
		errs = append(errs, errors.New("providers.asr.name is required"))
	}
	if cfg.Providers.Gen.Name == "" {
		errs = append(errs, errors.New("providers.gen.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}
	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("gen", cfg.Providers.Gen.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("tts", fb.Name)
	}

	// History ↔ embeddings
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; conversation archive and recall will not be available")
	} else {
		if cfg.Providers.Embeddings.Name == "" {
			slog.Warn("history is configured without providers.embeddings; semantic recall will not be available")
		}
		if cfg.History.EmbeddingDimensions <= 0 && cfg.Providers.Embeddings.Name != "" {
			slog.Warn("history.embedding_dimensions is not set; defaulting to 1536")
		}
	}

	// Personas
	if cfg.Personas.Path == "" {
		slog.Warn("personas.path is empty; the built-in default persona will be used")
	}
	if cfg.Personas.Default != "" && cfg.Personas.Path == "" {
		errs = append(errs, errors.New("personas.default is set but personas.path is empty"))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.QueueBound < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_bound %d must not be negative", p.QueueBound))
	}
	if p.MinInterruptChars < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_interrupt_chars %d must not be negative", p.MinInterruptChars))
	}
	if p.KeepAliveWindow < 0 {
		errs = append(errs, errors.New("pipeline.keepalive_window must not be negative"))
	}
	if p.Speak.Suppression != "" && !p.Speak.Suppression.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.speak.suppression %q is invalid; valid values: budget, off", p.Speak.Suppression))
	}
	if p.Pause.ShrinkFactor < 0 || p.Pause.ShrinkFactor > 1 {
		errs = append(errs, fmt.Errorf("pipeline.pause.shrink_factor %.2f is out of range (0, 1]", p.Pause.ShrinkFactor))
	}
	// The merged detector thresholds must always form a usable rule.
	if err := p.Detector.Runtime().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.detector: %w", err))
	}

	return errors.Join(errs...)
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
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
