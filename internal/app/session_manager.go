package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antiphonlabs/antiphon/internal/capture"
	"github.com/antiphonlabs/antiphon/internal/config"
	"github.com/antiphonlabs/antiphon/internal/observe"
	"github.com/antiphonlabs/antiphon/internal/orchestrator"
	"github.com/antiphonlabs/antiphon/internal/persona"
	"github.com/antiphonlabs/antiphon/internal/playback"
	"github.com/antiphonlabs/antiphon/internal/session"
	"github.com/antiphonlabs/antiphon/internal/speak"
	"github.com/antiphonlabs/antiphon/internal/transcript"
	"github.com/antiphonlabs/antiphon/internal/transcript/phonetic"
	"github.com/antiphonlabs/antiphon/internal/turn"
	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/shell"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// recorderSize is the turn event ring capacity kept per session.
const recorderSize = 256

// bridgeBuffer sizes the recorder subscription drained by the metrics
// bridge.
const bridgeBuffer = 64

// defaultKeepAliveWindow is used when the pipeline config leaves the
// keep-alive window unset.
const defaultKeepAliveWindow = 30 * time.Second

// SessionInfo holds metadata about the active conversation.
type SessionInfo struct {
	// SessionID is the credential id issued by the session service.
	SessionID string

	// PersonaRef is the resolved persona for this conversation.
	PersonaRef string

	// ChannelID is the audio channel the session is connected to.
	ChannelID string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// liveSession bundles everything torn down when a conversation ends.
type liveSession struct {
	info     SessionInfo
	creds    types.SessionCredentials
	conn     audio.Connection
	detector *capture.Detector
	player   *playback.Controller
	registry *turn.Registry
	recorder *turn.Recorder
	driver   *speak.Driver
	orch     *orchestrator.Orchestrator
	cancel   context.CancelFunc
	done     chan struct{}

	// closers run in reverse order during stop.
	closers []func() error
}

// SessionManager runs at most one live conversation at a time. Start wires
// the full capture→orchestrate→speak pipeline onto a fresh platform
// connection; Stop unwinds it in reverse. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	platform  audio.Platform
	cfg       *config.Config
	providers *Providers
	sessions  session.Service
	personas  *persona.Registry
	briefer   orchestrator.Briefer
	archiver  orchestrator.Archiver
	sh        shell.Shell
	metrics   *observe.Metrics

	mu     sync.Mutex
	live   *liveSession
	stamp  uint64 // incremented per session, guards stale auto-stops
	tuning config.PipelineConfig
}

// SessionManagerConfig holds the dependencies for a [SessionManager].
// Platform, Config, Providers, Sessions, Personas, and Shell are required;
// Briefer and Archiver degrade gracefully when nil.
type SessionManagerConfig struct {
	Platform  audio.Platform
	Config    *config.Config
	Providers *Providers
	Sessions  session.Service
	Personas  *persona.Registry
	Briefer   orchestrator.Briefer
	Archiver  orchestrator.Archiver
	Shell     shell.Shell
	Metrics   *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	switch {
	case cfg.Platform == nil:
		return nil, fmt.Errorf("session manager: audio platform is required")
	case cfg.Config == nil:
		return nil, fmt.Errorf("session manager: config is required")
	case cfg.Providers == nil:
		return nil, fmt.Errorf("session manager: providers are required")
	case cfg.Sessions == nil:
		return nil, fmt.Errorf("session manager: session service is required")
	case cfg.Personas == nil:
		return nil, fmt.Errorf("session manager: persona registry is required")
	case cfg.Shell == nil:
		return nil, fmt.Errorf("session manager: shell is required")
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		platform:  cfg.Platform,
		cfg:       cfg.Config,
		providers: cfg.Providers,
		sessions:  cfg.Sessions,
		personas:  cfg.Personas,
		briefer:   cfg.Briefer,
		archiver:  cfg.Archiver,
		sh:        cfg.Shell,
		metrics:   m,
		tuning:    cfg.Config.Pipeline,
	}, nil
}

// Start begins a new conversation on channelID using the persona named by
// personaRef (empty resolves the configured default). It establishes the
// session credentials, connects to the audio channel, builds the turn
// pipeline, speaks the persona greeting, and starts the orchestrator loop.
//
// Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, channelID, personaRef string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.live != nil {
		return fmt.Errorf("session: a session is already active (id=%s)", sm.live.info.SessionID)
	}

	if personaRef == "" {
		personaRef = sm.cfg.Personas.Default
	}
	p, err := sm.personas.Resolve(personaRef)
	if err != nil {
		return fmt.Errorf("session: resolve persona: %w", err)
	}

	creds, err := sm.sessions.CreateSession(ctx, session.Consent{
		RecordAudio:       true,
		ArchiveTranscript: sm.archiver != nil,
	})
	if err != nil {
		return fmt.Errorf("session: create session: %w", err)
	}

	ls := &liveSession{
		info: SessionInfo{
			SessionID:  creds.ID,
			PersonaRef: p.Ref,
			ChannelID:  channelID,
			StartedAt:  time.Now().UTC(),
		},
		creds: creds,
		done:  make(chan struct{}),
	}

	// Teardown for the half-built pipeline on any construction error.
	fail := func(stage string, err error) error {
		for i := len(ls.closers) - 1; i >= 0; i-- {
			_ = ls.closers[i]()
		}
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sm.sessions.EndSession(endCtx, creds)
		return fmt.Errorf("session: %s: %w", stage, err)
	}

	conn, err := sm.platform.Connect(ctx, channelID)
	if err != nil {
		if fault.KindOf(err) != fault.KindPermissionDenied {
			return fail("connect audio channel", err)
		}
		// Denied capture keeps the conversation alive, text-only. The shell
		// line is the user-visible surface; everything downstream runs on a
		// silent connection.
		slog.Warn("audio capture denied, continuing text-only",
			"channel_id", channelID, "error", err)
		conn = audio.Muted()
		sm.sh.TranscriptAppended(types.TranscriptEntry{
			Speaker:      types.SpeakerSystem,
			Text:         "Voice capture was denied by the platform. The conversation continues in text.",
			Timestamp:    time.Now().UTC(),
			TurnID:       types.NoTurn,
			SegmentIndex: types.NoSegment,
		})
	}
	ls.conn = conn
	ls.closers = append(ls.closers, conn.Disconnect)

	queueBound := sm.tuning.QueueBound
	if queueBound <= 0 {
		queueBound = 2
	}
	queue := capture.NewQueue(queueBound)

	detector, err := capture.NewDetector(conn, queue, sm.tuning.Detector.Runtime())
	if err != nil {
		return fail("build detector", err)
	}
	if err := detector.Start(); err != nil {
		return fail("start detector", err)
	}
	ls.detector = detector
	ls.closers = append(ls.closers, func() error {
		detector.Stop()
		return nil
	})

	player := playback.NewController(conn)
	ls.player = player
	ls.closers = append(ls.closers, func() error {
		player.Stop()
		return nil
	})

	registry := turn.NewRegistry()
	recorder := turn.NewRecorder(recorderSize)
	ls.registry = registry
	ls.recorder = recorder
	log := transcript.NewLog()
	corrector := transcript.NewCorrector(phonetic.New())

	proxy := &speak.AppenderProxy{}
	driver, err := speak.NewDriver(
		sm.providers.TTS, player, detector, registry, proxy,
		sm.tuning.SpeakConfig(),
		speak.WithRecorder(recorder),
		speak.WithSpeakingObserver(func(on bool) {
			sm.sh.StateChanged(shell.State{
				Speaking:    on,
				Recording:   !detector.Suppressed(),
				CurrentTurn: registry.Current(),
			})
		}),
	)
	if err != nil {
		return fail("build speech driver", err)
	}
	ls.driver = driver

	window := sm.tuning.KeepAliveWindow.Std()
	if window <= 0 {
		window = defaultKeepAliveWindow
	}
	var orch *orchestrator.Orchestrator
	keepAlive := orchestrator.NewKeepAlive(window, func() bool {
		return orch != nil && orch.Busy()
	})

	orch, err = orchestrator.New(orchestrator.Deps{
		Queue:    queue,
		Detector: detector,
		ASR:      sm.providers.ASR,
		Gen:      sm.providers.Gen,
		Speaker:  driver,
		Player:   player,
		Registry: registry,
		Log:      log,
		Shell:    sm.sh,

		Recorder:  recorder,
		Corrector: corrector,
		Briefer:   sm.briefer,
		Archiver:  sm.archiver,
		KeepAlive: keepAlive,

		Credentials: creds,
		Persona:     p,
	}, orchestrator.Config{
		MinInterruptChars: sm.tuning.MinInterruptChars,
	})
	if err != nil {
		return fail("build orchestrator", err)
	}
	proxy.Bind(orch)
	ls.orch = orch

	sessionCtx, cancel := context.WithCancel(context.Background())
	ls.cancel = cancel

	events, unsubscribe := recorder.Subscribe(bridgeBuffer)
	ls.closers = append(ls.closers, func() error {
		unsubscribe()
		return nil
	})
	bridge := observe.NewBridge(sm.metrics)
	go bridge.Run(sessionCtx, events)

	sm.stamp++
	stamp := sm.stamp
	sm.live = ls
	sm.metrics.ActiveSessions.Add(ctx, 1)

	go sm.runSession(sessionCtx, ls, p, stamp)

	slog.Info("session started",
		"session_id", creds.ID,
		"channel_id", channelID,
		"persona", p.Ref,
	)
	return nil
}

// runSession speaks the greeting, then drives the orchestrator loop until
// teardown or a session-ending failure. Intake during the greeting queues
// behind it; the loop drains the queue as soon as the greeting finishes.
func (sm *SessionManager) runSession(ctx context.Context, ls *liveSession, p persona.Persona, stamp uint64) {
	defer close(ls.done)

	if p.Greeting != "" {
		id := ls.registry.Open()
		ls.recorder.Record(turn.Event{TurnID: id, Stage: turn.StageOpened, Detail: "greeting"})
		if err := ls.driver.Speak(ctx, id, p.Greeting, p.VoiceRef); err != nil {
			slog.Warn("greeting failed", "session_id", ls.info.SessionID, "error", err)
		}
		ls.recorder.Record(turn.Event{TurnID: id, Stage: turn.StageClosed})
	}

	err := ls.orch.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session ended with error", "session_id", ls.info.SessionID, "error", err)
		// The loop is gone; unwind the rest of the session off this
		// goroutine so Stop's locking is undisturbed.
		go sm.stopIfCurrent(stamp)
	}
}

// stopIfCurrent stops the session identified by stamp if it is still the
// live one. A stale stamp means Stop already ran or a new session replaced
// the failed one.
func (sm *SessionManager) stopIfCurrent(stamp uint64) {
	sm.mu.Lock()
	if sm.live == nil || sm.stamp != stamp {
		sm.mu.Unlock()
		return
	}
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sm.Stop(ctx); err != nil {
		slog.Warn("auto-stop failed", "error", err)
	}
}

// Stop ends the active conversation: cancels the orchestrator loop, waits
// for it to exit, unwinds the pipeline in reverse construction order, and
// revokes the session credentials.
//
// Returns an error if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	ls := sm.live
	if ls == nil {
		sm.mu.Unlock()
		return fmt.Errorf("session: no active session to stop")
	}
	sm.live = nil
	sm.mu.Unlock()

	sessionID := ls.info.SessionID
	ls.cancel()

	select {
	case <-ls.done:
	case <-ctx.Done():
		slog.Warn("session loop did not exit before deadline", "session_id", sessionID)
	}

	for i := len(ls.closers) - 1; i >= 0; i-- {
		if err := ls.closers[i](); err != nil {
			slog.Warn("session closer error", "session_id", sessionID, "index", i, "error", err)
		}
	}

	if err := sm.sessions.EndSession(ctx, ls.creds); err != nil {
		slog.Warn("end session failed", "session_id", sessionID, "error", err)
	}

	sm.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("session stopped", "session_id", sessionID)
	return nil
}

// IsActive reports whether a conversation is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.live != nil
}

// Info returns metadata about the active session, or the zero value when
// none is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.live == nil {
		return SessionInfo{}
	}
	return sm.live.info
}

// ApplyTuning applies hot-reloadable pipeline settings to the running
// session. Detector thresholds and the pause shrink rule take effect
// immediately; the remaining knobs apply to the next session.
func (sm *SessionManager) ApplyTuning(tuning config.PipelineConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.tuning = tuning
	if sm.live == nil {
		return
	}
	if err := sm.live.detector.SetConfig(tuning.Detector.Runtime()); err != nil {
		slog.Warn("apply detector tuning failed", "error", err)
		return
	}
	sm.live.driver.SetPauseAdjust(tuning.Pause.Runtime())
	slog.Info("pipeline tuning applied", "session_id", sm.live.info.SessionID)
}
