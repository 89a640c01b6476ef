// Package orchestrator runs the per-session turn loop: it pops captured
// utterances, transcribes and corrects them, decides barge-in, generates the
// agent reply with its briefing context, and dispatches the speech driver.
//
// One orchestrator goroutine exists per session. Staleness is the only
// cancellation mechanism: a newer turn id makes every older turn's work
// moot, and each stage re-checks at its graceful stopping points.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/antiphonlabs/antiphon/internal/brief"
	"github.com/antiphonlabs/antiphon/internal/capture"
	"github.com/antiphonlabs/antiphon/internal/observe"
	"github.com/antiphonlabs/antiphon/internal/persona"
	"github.com/antiphonlabs/antiphon/internal/transcript"
	"github.com/antiphonlabs/antiphon/internal/turn"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
	"github.com/antiphonlabs/antiphon/pkg/provider/gen"
	"github.com/antiphonlabs/antiphon/pkg/shell"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// transientLine is the one user-visible message for recoverable stage
// failures. Internal details never reach the transcript.
const transientLine = "I didn't catch that — could you say it again?"

// defaultMinInterruptChars is the transcribed length (in runes) at which an
// utterance during playback counts as barge-in rather than backchannel.
const defaultMinInterruptChars = 10

// VoiceDetector is the capture surface the orchestrator needs.
// internal/capture.Detector satisfies it.
type VoiceDetector interface {
	Resume()
	Suppressed() bool
	Terminal() <-chan error
}

// Player exposes playback state for the barge-in decision.
// internal/playback.Controller satisfies it.
type Player interface {
	IsPlaying() bool
}

// Speaker plays one reply. internal/speak.Driver satisfies it.
type Speaker interface {
	Speak(ctx context.Context, turnID uint64, text, voiceRef string) error
}

// Briefer assembles generation context. internal/brief.Assembler satisfies
// it.
type Briefer interface {
	Assemble(ctx context.Context, personaRef, sessionID, userText string) (*brief.Brief, error)
}

// Archiver persists transcript entries. pkg/history.Recaller satisfies it.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, entry types.TranscriptEntry) error
}

// Config holds the orchestrator tuning knobs.
type Config struct {
	// MinInterruptChars is the barge-in threshold in runes. Default: 10.
	MinInterruptChars int
}

// Deps collects the orchestrator's collaborators. Queue, Detector, ASR,
// Gen, Speaker, Player, Registry, Log, and Shell are required; the rest
// degrade gracefully when absent.
type Deps struct {
	Queue    *capture.Queue
	Detector VoiceDetector
	ASR      asr.Service
	Gen      gen.Service
	Speaker  Speaker
	Player   Player
	Registry *turn.Registry
	Log      *transcript.Log
	Shell    shell.Shell

	Recorder  *turn.Recorder
	Corrector *transcript.Corrector
	Briefer   Briefer
	Archiver  Archiver
	KeepAlive *KeepAlive

	Credentials types.SessionCredentials
	Persona     persona.Persona
}

// pendingTurn is a turn id reserved by barge-in or a text submission while
// an older turn was unwinding, together with the user text it will answer.
type pendingTurn struct {
	id   uint64
	text string
}

// Orchestrator is the single-goroutine turn loop of one session.
type Orchestrator struct {
	queue     *capture.Queue
	detector  VoiceDetector
	asr       asr.Service
	gen       gen.Service
	speaker   Speaker
	player    Player
	registry  *turn.Registry
	log       *transcript.Log
	shell     shell.Shell
	recorder  *turn.Recorder
	corrector *transcript.Corrector
	briefer   Briefer
	archiver  Archiver
	keepAlive *KeepAlive

	creds   types.SessionCredentials
	persona persona.Persona

	minInterrupt int

	// subs and typingCh are nilled out once the shell closes them.
	subs     <-chan string
	typingCh <-chan bool

	typing   atomic.Bool
	inFlight atomic.Bool

	pending *pendingTurn

	// parked holds qualifying utterances that arrived while a reply was
	// generating. Speech never invalidates a generating turn; each parked
	// text is answered as its own turn once the current one closes.
	parked []string
}

// New creates an orchestrator. See [Deps] for which collaborators are
// required.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Queue == nil:
		return nil, fmt.Errorf("orchestrator: capture queue is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("orchestrator: voice detector is required")
	case deps.ASR == nil:
		return nil, fmt.Errorf("orchestrator: asr service is required")
	case deps.Gen == nil:
		return nil, fmt.Errorf("orchestrator: generator service is required")
	case deps.Speaker == nil:
		return nil, fmt.Errorf("orchestrator: speaker is required")
	case deps.Player == nil:
		return nil, fmt.Errorf("orchestrator: player is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("orchestrator: turn registry is required")
	case deps.Log == nil:
		return nil, fmt.Errorf("orchestrator: transcript log is required")
	case deps.Shell == nil:
		return nil, fmt.Errorf("orchestrator: shell is required")
	}

	minInterrupt := cfg.MinInterruptChars
	if minInterrupt <= 0 {
		minInterrupt = defaultMinInterruptChars
	}

	return &Orchestrator{
		queue:        deps.Queue,
		detector:     deps.Detector,
		asr:          deps.ASR,
		gen:          deps.Gen,
		speaker:      deps.Speaker,
		player:       deps.Player,
		registry:     deps.Registry,
		log:          deps.Log,
		shell:        deps.Shell,
		recorder:     deps.Recorder,
		corrector:    deps.Corrector,
		briefer:      deps.Briefer,
		archiver:     deps.Archiver,
		keepAlive:    deps.KeepAlive,
		creds:        deps.Credentials,
		persona:      deps.Persona,
		minInterrupt: minInterrupt,
		subs:         deps.Shell.Submissions(),
		typingCh:     deps.Shell.TypingChanges(),
	}, nil
}

// Busy reports whether playback is active or a turn is in flight. The
// keep-alive scheduler consults it before firing.
func (o *Orchestrator) Busy() bool {
	return o.inFlight.Load() || o.player.IsPlaying()
}

// Append implements the speech driver's transcript sink: entries go to the
// session log, the shell, and the archive.
func (o *Orchestrator) Append(e types.TranscriptEntry) types.TranscriptEntry {
	e = o.log.Append(e)
	o.shell.TranscriptAppended(e)
	if o.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.archiver.Archive(ctx, o.creds.ID, e); err != nil {
			slog.Warn("archive append failed", "error", err)
		}
	}
	return e
}

// Run executes the turn loop until ctx is cancelled or a session-ending
// error occurs.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.keepAlive != nil {
		o.keepAlive.Touch()
		defer o.keepAlive.Stop()
	}
	o.pushState()

	var kaC <-chan struct{}
	if o.keepAlive != nil {
		kaC = o.keepAlive.C()
	}

	for {
		// A reserved turn always runs before new intake.
		if p := o.pending; p != nil {
			o.pending = nil
			if err := o.runTurn(ctx, p.id, p.text, false); err != nil {
				return err
			}
			continue
		}

		// Utterances parked during generation run next, oldest first.
		if len(o.parked) > 0 {
			text := o.parked[0]
			o.parked = o.parked[1:]
			id := o.registry.Open()
			o.record(id, turn.StageOpened, "")
			o.pushState()
			if err := o.runTurn(ctx, id, text, false); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil

		case err := <-o.detector.Terminal():
			return fmt.Errorf("orchestrator: voice detector failed: %w", err)

		case blob := <-o.queue.C():
			o.touch()
			if err := o.handleBlob(ctx, blob); err != nil {
				return err
			}

		case text, ok := <-o.subs:
			if !ok {
				o.subs = nil
				continue
			}
			o.touch()
			if err := o.handleText(ctx, text); err != nil {
				return err
			}

		case t, ok := <-o.typingCh:
			if !ok {
				o.typingCh = nil
				continue
			}
			o.typing.Store(t)

		case <-kaC:
			if err := o.handleProactive(ctx); err != nil {
				return err
			}
		}
	}
}

// handleBlob is the idle-path entry for one captured utterance.
func (o *Orchestrator) handleBlob(ctx context.Context, blob types.Blob) error {
	id := o.registry.Open()
	o.record(id, turn.StageOpened, "")
	o.pushState()

	text, err := o.transcribe(ctx, id, blob)
	if err != nil {
		if fault.KindOf(err).EndsSession() {
			return err
		}
		slog.Warn("transcription failed", "turn", id, "error", err)
		o.reportTransient(id)
		o.record(id, turn.StageClosed, fault.KindOf(err).String())
		return nil
	}
	if text == "" {
		// Silence or noise; the turn closes without entries.
		o.record(id, turn.StageClosed, "empty")
		return nil
	}

	if o.registry.IsStale(id) {
		// Invalidated while transcribing; keep the words for the record.
		o.appendUser(text, id)
		o.record(id, turn.StageStale, "")
		return nil
	}

	return o.runTurn(ctx, id, text, false)
}

// handleText is the idle-path entry for a typed submission.
func (o *Orchestrator) handleText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	id := o.registry.Open()
	o.record(id, turn.StageOpened, "text")
	o.pushState()
	return o.runTurn(ctx, id, text, false)
}

// handleProactive runs a keep-alive turn. The user transcript append is
// skipped: the agent re-engages, nothing was said.
func (o *Orchestrator) handleProactive(ctx context.Context) error {
	if o.Busy() {
		return nil
	}
	id := o.registry.Open()
	o.record(id, turn.StageOpened, "proactive")
	o.pushState()
	return o.runTurn(ctx, id, "", true)
}

// runTurn drives one turn from the user-append step to close.
func (o *Orchestrator) runTurn(ctx context.Context, id uint64, userText string, proactive bool) error {
	o.inFlight.Store(true)
	defer o.inFlight.Store(false)

	ctx, span := observe.StartTurnSpan(ctx, o.creds.ID, id, proactive)
	defer span.End()

	if !proactive {
		o.appendUser(userText, id)
	}

	// Stopping point: before Generate.
	if o.registry.IsStale(id) {
		o.record(id, turn.StageStale, "")
		observe.TurnOutcome(span, "stale")
		return nil
	}

	reply, err := o.generate(ctx, id, userText, proactive)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if fault.KindOf(err).EndsSession() {
			observe.TurnOutcome(span, fault.KindOf(err).String())
			return err
		}
		observe.Logger(ctx).Warn("generation failed", "turn", id, "error", err)
		o.reportTransient(id)
		o.record(id, turn.StageClosed, fault.KindOf(err).String())
		observe.TurnOutcome(span, fault.KindOf(err).String())
		return nil
	}

	// Stopping point: after Generate. A stale reply is discarded silently.
	if o.registry.IsStale(id) {
		o.record(id, turn.StageStale, "reply discarded")
		observe.TurnOutcome(span, "stale")
		return nil
	}
	if strings.TrimSpace(reply.Text) == "" {
		o.record(id, turn.StageClosed, "empty reply")
		observe.TurnOutcome(span, "empty")
		return nil
	}

	if reply.Intent != "" {
		o.shell.Intent(types.IntentEvent{TurnID: id, Intent: reply.Intent, Score: reply.Score})
	}

	if err := o.speak(ctx, id, reply.Text); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if o.registry.IsStale(id) {
		// The driver already recorded the stale exit.
		observe.TurnOutcome(span, "stale")
		return nil
	}
	o.record(id, turn.StageClosed, "")
	observe.TurnOutcome(span, "closed")
	o.touch()
	o.pushState()
	return nil
}

// generate calls the generator while keeping the intake channels live. A
// text submission arriving mid-generation invalidates this turn (text is
// explicit intent); speech is parked and answered after the turn closes.
func (o *Orchestrator) generate(ctx context.Context, id uint64, userText string, proactive bool) (gen.Reply, error) {
	o.record(id, turn.StageGenerating, "")

	var contextLines []string
	if o.briefer != nil {
		b, err := o.briefer.Assemble(ctx, o.persona.Ref, o.creds.ID, userText)
		if err != nil {
			slog.Warn("briefing failed, generating without context", "turn", id, "error", err)
		} else {
			contextLines = brief.Format(b)
		}
	}

	req := gen.Request{
		Credentials: o.creds,
		UserText:    userText,
		PersonaRef:  o.persona.Ref,
		ModelRef:    o.persona.ModelRef,
		Context:     contextLines,
		Proactive:   proactive,
	}

	type result struct {
		reply gen.Reply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		r, err := o.gen.Generate(ctx, req)
		done <- result{reply: r, err: err}
	}()

	for {
		select {
		case res := <-done:
			return res.reply, res.err
		case blob := <-o.queue.C():
			if err := o.parkBlob(ctx, blob); err != nil {
				return gen.Reply{}, err
			}
		case text, ok := <-o.subs:
			if !ok {
				o.subs = nil
				continue
			}
			o.intakeText(text)
		case t, ok := <-o.typingCh:
			if !ok {
				o.typingCh = nil
				continue
			}
			o.typing.Store(t)
		}
	}
}

// speak dispatches the driver and awaits it while keeping the intake
// channels live for barge-in.
func (o *Orchestrator) speak(ctx context.Context, id uint64, text string) error {
	done := make(chan error, 1)
	go func() {
		done <- o.speaker.Speak(ctx, id, text, o.persona.VoiceRef)
	}()

	for {
		select {
		case err := <-done:
			return err
		case blob := <-o.queue.C():
			if err := o.intakeBlob(ctx, blob); err != nil {
				return err
			}
		case text2, ok := <-o.subs:
			if !ok {
				o.subs = nil
				continue
			}
			o.intakeText(text2)
		case t, ok := <-o.typingCh:
			if !ok {
				o.typingCh = nil
				continue
			}
			o.typing.Store(t)
		}
	}
}

// parkBlob transcribes an utterance that arrived while the reply was being
// generated. Nothing is playing yet, so there is no barge-in decision and
// the generating turn is never invalidated: a qualifying utterance is
// parked and answered as its own turn once the current one closes, while
// backchannel and typing-protected speech join the record immediately.
func (o *Orchestrator) parkBlob(ctx context.Context, blob types.Blob) error {
	text, err := o.transcribe(ctx, o.registry.Current(), blob)
	if err != nil {
		if fault.KindOf(err).EndsSession() {
			return err
		}
		slog.Warn("mid-generation transcription failed", "error", err)
		return nil
	}
	if text == "" {
		return nil
	}

	o.drainTyping()
	if utf8.RuneCountInString(text) < o.minInterrupt || o.typing.Load() {
		o.appendUser(text, o.registry.Current())
		return nil
	}
	o.parked = append(o.parked, text)
	return nil
}

// intakeBlob transcribes an utterance that arrived while a reply was
// synthesizing or playing and applies the barge-in decision. It does not
// open a turn unless the utterance qualifies.
func (o *Orchestrator) intakeBlob(ctx context.Context, blob types.Blob) error {
	text, err := o.transcribe(ctx, o.registry.Current(), blob)
	if err != nil {
		if fault.KindOf(err).EndsSession() {
			return err
		}
		slog.Warn("barge-in transcription failed", "error", err)
		return nil
	}
	if text == "" {
		return nil
	}

	// Apply typing transitions queued behind the utterance before deciding:
	// a user who started typing just before speaking keeps their protection.
	o.drainTyping()

	// Intake only runs while a turn is in flight, so "agent busy" is given;
	// the length threshold separates real interrupts from backchannel.
	qualifies := utf8.RuneCountInString(text) >= o.minInterrupt &&
		!o.typing.Load()

	if !qualifies {
		// Backchannel, or the user is typing: keep the words, keep talking.
		o.appendUser(text, o.registry.Current())
		return nil
	}

	// One increment per barge-in. The new id is the turn this utterance is
	// answered under once the driver unwinds.
	if o.pending != nil {
		o.appendUser(o.pending.text, o.pending.id)
	}
	id := o.registry.Open()
	o.detector.Resume()
	o.record(id, turn.StageOpened, "barge-in")
	o.pending = &pendingTurn{id: id, text: text}
	o.touch()
	o.pushState()
	return nil
}

// intakeText reserves a turn for a typed submission, invalidating whatever
// is in flight. Text is explicit intent; no length threshold applies.
func (o *Orchestrator) intakeText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if o.pending != nil {
		o.appendUser(o.pending.text, o.pending.id)
	}
	id := o.registry.Open()
	o.detector.Resume()
	o.record(id, turn.StageOpened, "text")
	o.pending = &pendingTurn{id: id, text: text}
	o.touch()
	o.pushState()
}

// transcribe runs ASR and lexicon correction for one blob.
func (o *Orchestrator) transcribe(ctx context.Context, id uint64, blob types.Blob) (string, error) {
	o.record(id, turn.StageTranscribing, "")

	res, err := o.asr.Transcribe(ctx, asr.Request{Credentials: o.creds, Audio: blob})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return "", nil
	}

	if o.corrector != nil && len(o.persona.Lexicon) > 0 {
		corrected, corrections := o.corrector.Correct(text, o.persona.Lexicon)
		if len(corrections) > 0 {
			slog.Debug("lexicon corrections applied",
				"turn", id,
				"count", len(corrections))
			text = corrected
		}
	}
	return text, nil
}

// drainTyping applies every typing transition already buffered on the
// shell channel, without blocking.
func (o *Orchestrator) drainTyping() {
	for {
		select {
		case t, ok := <-o.typingCh:
			if !ok {
				o.typingCh = nil
				return
			}
			o.typing.Store(t)
		default:
			return
		}
	}
}

func (o *Orchestrator) appendUser(text string, id uint64) {
	o.Append(types.TranscriptEntry{
		Speaker:      types.SpeakerUser,
		Text:         text,
		TurnID:       id,
		SegmentIndex: types.NoSegment,
	})
}

func (o *Orchestrator) reportTransient(id uint64) {
	o.Append(types.TranscriptEntry{
		Speaker:      types.SpeakerSystem,
		Text:         transientLine,
		TurnID:       id,
		SegmentIndex: types.NoSegment,
	})
}

func (o *Orchestrator) record(id uint64, stage turn.Stage, detail string) {
	ev := turn.Event{TurnID: id, Stage: stage, Detail: detail, Timestamp: time.Now()}
	if o.recorder != nil {
		o.recorder.Record(ev)
	}
	o.shell.TurnEvent(shell.TurnEvent{
		TurnID:    ev.TurnID,
		Stage:     string(ev.Stage),
		Detail:    ev.Detail,
		Timestamp: ev.Timestamp,
	})
}

func (o *Orchestrator) pushState() {
	o.shell.StateChanged(shell.State{
		Speaking:    o.player.IsPlaying(),
		Recording:   !o.detector.Suppressed(),
		CurrentTurn: o.registry.Current(),
	})
}

func (o *Orchestrator) touch() {
	if o.keepAlive != nil {
		o.keepAlive.Touch()
	}
}
