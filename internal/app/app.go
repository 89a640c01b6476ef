// Package app wires the Antiphon subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the persona registry,
// conversation archive, session service client, gateway, and session
// manager from the config; Run serves HTTP and drives session commands;
// Shutdown tears everything down in reverse order.
//
// For testing, inject mock implementations via functional options
// (WithSessionService, WithHistoryStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antiphonlabs/antiphon/internal/brief"
	"github.com/antiphonlabs/antiphon/internal/config"
	"github.com/antiphonlabs/antiphon/internal/gateway"
	"github.com/antiphonlabs/antiphon/internal/health"
	"github.com/antiphonlabs/antiphon/internal/observe"
	"github.com/antiphonlabs/antiphon/internal/persona"
	"github.com/antiphonlabs/antiphon/internal/session"
	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/history"
	"github.com/antiphonlabs/antiphon/pkg/history/postgres"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
	"github.com/antiphonlabs/antiphon/pkg/provider/embeddings"
	"github.com/antiphonlabs/antiphon/pkg/provider/gen"
	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	"github.com/antiphonlabs/antiphon/pkg/shell"
)

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small, the
// embeddings default.
const defaultEmbeddingDimensions = 1536

// Providers holds one service value per pipeline stage. ASR, Gen, TTS, and
// Audio are required to run sessions; Embeddings is only needed for
// semantic recall. Populated by main via the config registry.
type Providers struct {
	ASR        asr.Service
	Gen        gen.Service
	TTS        tts.Service
	Embeddings embeddings.Service
	Audio      audio.Platform
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	// Subsystems — initialised in New, torn down in Shutdown.
	personas *persona.Registry
	sessions session.Service
	store    history.Store
	recaller *history.Recaller
	sh       shell.Shell
	gw       *gateway.Gateway // nil when a shell was injected
	manager  *SessionManager
	server   *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionService injects a session service instead of building a client
// from config.
func WithSessionService(s session.Service) Option {
	return func(a *App) { a.sessions = s }
}

// WithHistoryStore injects a conversation archive instead of connecting to
// PostgreSQL.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPersonas injects a persona registry instead of loading the configured
// file.
func WithPersonas(r *persona.Registry) Option {
	return func(a *App) { a.personas = r }
}

// WithShell injects a UI shell instead of creating the WebSocket gateway.
func WithShell(s shell.Shell) Option {
	return func(a *App) { a.sh = s }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("app: providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initPersonas(); err != nil {
		return nil, fmt.Errorf("app: init personas: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initSessions(); err != nil {
		return nil, fmt.Errorf("app: init session service: %w", err)
	}
	a.initShell()
	if err := a.initManager(); err != nil {
		return nil, fmt.Errorf("app: init session manager: %w", err)
	}
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPersonas loads the persona file, or falls back to a single built-in
// persona when none is configured.
func (a *App) initPersonas() error {
	if a.personas != nil {
		return nil
	}

	if path := a.cfg.Personas.Path; path != "" {
		reg, err := persona.LoadFile(path)
		if err != nil {
			return err
		}
		a.personas = reg
	} else {
		reg, err := persona.NewRegistry("assistant", []persona.Persona{{
			Ref:     "assistant",
			Name:    "Antiphon",
			Summary: "A helpful, concise voice assistant.",
		}})
		if err != nil {
			return err
		}
		a.personas = reg
		slog.Info("no persona file configured, using built-in persona")
	}

	// A bad default ref should fail at startup, not at session start.
	if ref := a.cfg.Personas.Default; ref != "" {
		if _, err := a.personas.Resolve(ref); err != nil {
			return fmt.Errorf("default persona: %w", err)
		}
	}
	return nil
}

// initHistory connects the PostgreSQL archive and, when an embeddings
// provider is configured, the semantic recaller. An empty DSN leaves both
// nil: the pipeline runs without archiving or recall.
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.History.PostgresDSN
		if dsn == "" {
			slog.Info("history archive disabled (no postgres dsn)")
			return nil
		}

		dims := a.cfg.History.EmbeddingDimensions
		if dims == 0 {
			dims = defaultEmbeddingDimensions
		}
		store, err := postgres.NewStore(ctx, dsn, dims)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	if a.store != nil && a.providers.Embeddings != nil {
		recaller, err := history.NewRecaller(a.store, a.providers.Embeddings)
		if err != nil {
			return err
		}
		a.recaller = recaller
	} else {
		slog.Info("semantic recall disabled (no embeddings provider)")
	}
	return nil
}

// initSessions builds the session service client, or a local mock when no
// service is configured.
func (a *App) initSessions() error {
	if a.sessions != nil {
		return nil
	}

	baseURL := a.cfg.Session.BaseURL
	if baseURL == "" {
		slog.Info("session service not configured, issuing local credentials")
		a.sessions = &session.Mock{}
		return nil
	}

	var opts []session.ClientOption
	if t := a.cfg.Session.Timeout.Std(); t > 0 {
		opts = append(opts, session.WithTimeout(t))
	}
	client, err := session.NewClient(baseURL, opts...)
	if err != nil {
		return err
	}
	a.sessions = client
	return nil
}

// initShell creates the WebSocket gateway unless a shell was injected.
func (a *App) initShell() {
	if a.sh != nil {
		return
	}
	gw := gateway.New(gateway.WithMetrics(a.metrics))
	a.sh = gw
	a.gw = gw
	a.closers = append(a.closers, gw.Close)
}

// initManager assembles the session manager from the wired subsystems.
func (a *App) initManager() error {
	if a.providers.Audio == nil {
		return fmt.Errorf("an audio platform provider is required")
	}

	var briefer *brief.Assembler
	if a.store != nil {
		var recall brief.RecallSource
		if a.recaller != nil {
			recall = a.recaller
		}
		ba, err := brief.NewAssembler(a.personas, a.store, recall)
		if err != nil {
			return err
		}
		briefer = ba
	}

	smCfg := SessionManagerConfig{
		Platform:  a.providers.Audio,
		Config:    a.cfg,
		Providers: a.providers,
		Sessions:  a.sessions,
		Personas:  a.personas,
		Shell:     a.sh,
		Metrics:   a.metrics,
	}
	if briefer != nil {
		smCfg.Briefer = briefer
	}
	if a.recaller != nil {
		smCfg.Archiver = a.recaller
	}

	manager, err := NewSessionManager(smCfg)
	if err != nil {
		return err
	}
	a.manager = manager
	return nil
}

// initServer assembles the HTTP surface: health endpoints, the gateway
// WebSocket route, and the Prometheus scrape endpoint, all behind the
// tracing middleware.
func (a *App) initServer() {
	mux := http.NewServeMux()

	checkers := []health.Checker{{
		Name: "providers",
		Check: func(context.Context) error {
			switch {
			case a.providers.ASR == nil:
				return fmt.Errorf("asr provider not configured")
			case a.providers.Gen == nil:
				return fmt.Errorf("generator provider not configured")
			case a.providers.TTS == nil:
				return fmt.Errorf("tts provider not configured")
			}
			return nil
		},
	}}
	if a.store != nil {
		checkers = append(checkers, health.Checker{
			Name:  "history",
			Check: a.store.Ping,
		})
	}
	health.New(checkers...).Register(mux)

	if a.gw != nil {
		a.gw.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and drives session commands from the shell until ctx is
// cancelled. It returns nil on cancellation and an error when the HTTP
// server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	if a.cfg.Server.ListenAddr != "" {
		go func() {
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				slog.Info("serving https", "addr", a.server.Addr)
				err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				slog.Info("serving http", "addr", a.server.Addr)
				err = a.server.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	commands := a.sh.Commands()
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errCh:
			return fmt.Errorf("app: http server: %w", err)

		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			a.handleCommand(ctx, cmd)
		}
	}
}

// handleCommand executes one session control action from the shell.
func (a *App) handleCommand(ctx context.Context, cmd shell.Command) {
	switch cmd {
	case shell.CommandStartSession:
		channelID := a.audioChannelID()
		if err := a.manager.Start(ctx, channelID, ""); err != nil {
			slog.Warn("start session failed", "error", err)
		}
	case shell.CommandStopSession:
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.manager.Stop(stopCtx); err != nil {
			slog.Warn("stop session failed", "error", err)
		}
		cancel()
	default:
		slog.Warn("unknown shell command", "command", cmd)
	}
}

// audioChannelID reads the audio channel from the audio provider options.
func (a *App) audioChannelID() string {
	opts := a.cfg.Providers.Audio.Options
	if opts == nil {
		return ""
	}
	if v, ok := opts["channel_id"].(string); ok {
		return v
	}
	return ""
}

// Sessions returns the session manager, for command surfaces beyond the
// shell (config watcher, tests).
func (a *App) Sessions() *SessionManager {
	return a.manager
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the active session, the HTTP server, and all subsystems in
// reverse-init order. It respects the context deadline: remaining closers
// are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.manager.IsActive() {
			if err := a.manager.Stop(ctx); err != nil {
				slog.Warn("session stop error", "error", err)
			}
		}

		if a.cfg.Server.ListenAddr != "" {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "error", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
