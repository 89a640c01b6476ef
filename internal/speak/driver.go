// Package speak drives pause-aware synthesis and playback of one agent
// reply.
//
// The driver owns per-segment scheduling for its turn: it splits the reply
// at pause tokens, suppresses the voice detector for the estimated speaking
// budget, then synthesizes and plays segments strictly in order, sleeping
// the prescribed pauses between them. Staleness is re-checked only at the
// graceful stopping points — before each segment's synthesis, after each
// segment's playback, and inside pause sleeps — so in-progress synthesis
// and playback always complete.
package speak

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/antiphonlabs/antiphon/internal/reply"
	"github.com/antiphonlabs/antiphon/internal/resilience"
	"github.com/antiphonlabs/antiphon/internal/turn"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// staleCheckInterval is the slice size for interruptible pause sleeps.
const staleCheckInterval = 50 * time.Millisecond

// Suppressor is the voice-detector surface the driver needs.
// internal/capture.Detector satisfies it.
type Suppressor interface {
	SuppressFor(d time.Duration)
	Resume()
}

// Player is the playback surface the driver needs.
// internal/playback.Controller satisfies it.
type Player interface {
	Play(blob types.Blob, onDone func()) error
	Stop()
	IsPlaying() bool
}

// Appender receives agent transcript entries as segments are committed.
// internal/transcript.Log satisfies it; the orchestrator usually wraps it to
// fan entries out to the shell and the archive.
type Appender interface {
	Append(entry types.TranscriptEntry) types.TranscriptEntry
}

// Config holds the driver tuning knobs.
type Config struct {
	// CharsPerSecond estimates speech rate for the suppression budget.
	// Default: 15.
	CharsPerSecond float64

	// SuppressMargin is added on top of the estimated budget. Default: 2s.
	SuppressMargin time.Duration

	// SuppressionOff disables detector suppression entirely, for
	// echo-cancelled deployments that want live word barge-in during
	// playback.
	SuppressionOff bool

	// Retry bounds the per-segment synthesis retries.
	Retry resilience.RetryConfig

	// PauseAdjust tunes the between-segment pause shrink rule.
	PauseAdjust reply.AdjustConfig
}

func (c Config) withDefaults() Config {
	if c.CharsPerSecond <= 0 {
		c.CharsPerSecond = 15
	}
	if c.SuppressMargin <= 0 {
		c.SuppressMargin = 2 * time.Second
	}
	return c
}

// Driver synthesizes and plays one reply at a time. A single driver is
// reused across turns; Speak must not be called concurrently (the
// orchestrator's single loop guarantees that).
type Driver struct {
	tts      tts.Service
	player   Player
	vad      Suppressor
	registry *turn.Registry
	appender Appender
	recorder *turn.Recorder // optional
	cfg      Config

	// pauseMu guards pauseAdjust, which the config watcher may replace while
	// a reply is playing.
	pauseMu     sync.Mutex
	pauseAdjust reply.AdjustConfig

	// onSpeaking, when set, observes the speaking flag for the UI state.
	onSpeaking func(bool)
}

// Option configures a [Driver].
type Option func(*Driver)

// WithRecorder attaches a turn event recorder.
func WithRecorder(r *turn.Recorder) Option {
	return func(d *Driver) { d.recorder = r }
}

// WithSpeakingObserver registers a callback invoked with true when the
// driver starts speaking and false when it exits. Must not block.
func WithSpeakingObserver(fn func(bool)) Option {
	return func(d *Driver) { d.onSpeaking = fn }
}

// NewDriver creates a driver. All collaborators except the recorder are
// required.
func NewDriver(ttsSvc tts.Service, player Player, vad Suppressor, registry *turn.Registry, appender Appender, cfg Config, opts ...Option) (*Driver, error) {
	if ttsSvc == nil {
		return nil, fmt.Errorf("speak: tts service is required")
	}
	if player == nil {
		return nil, fmt.Errorf("speak: player is required")
	}
	if vad == nil {
		return nil, fmt.Errorf("speak: suppressor is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("speak: turn registry is required")
	}
	if appender == nil {
		return nil, fmt.Errorf("speak: transcript appender is required")
	}
	d := &Driver{
		tts:      ttsSvc,
		player:   player,
		vad:      vad,
		registry: registry,
		appender: appender,
		cfg:      cfg.withDefaults(),
	}
	d.pauseAdjust = d.cfg.PauseAdjust
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SetPauseAdjust replaces the pause shrink rule. Safe to call while a reply
// is playing; pauses already sleeping keep their computed duration.
func (d *Driver) SetPauseAdjust(cfg reply.AdjustConfig) {
	d.pauseMu.Lock()
	d.pauseAdjust = cfg
	d.pauseMu.Unlock()
}

func (d *Driver) pauseConfig() reply.AdjustConfig {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	return d.pauseAdjust
}

// Speak synthesizes and plays text under turnID using voiceRef. It returns
// nil on normal completion and when the turn goes stale mid-reply (staleness
// is an expected outcome, not an error); it returns ctx.Err() only on
// session teardown. Per-segment synthesis failures skip the segment and the
// turn continues.
func (d *Driver) Speak(ctx context.Context, turnID uint64, text, voiceRef string) error {
	segs := reply.Split(text)
	if len(segs) == 0 {
		return nil
	}

	if !d.cfg.SuppressionOff {
		d.vad.SuppressFor(d.budget(segs) + d.cfg.SuppressMargin)
	}
	d.setSpeaking(true)
	defer func() {
		d.setSpeaking(false)
		d.vad.Resume()
	}()

	d.record(turnID, turn.StageSynthesizing, "")

	for i, seg := range segs {
		if d.registry.IsStale(turnID) {
			d.record(turnID, turn.StageStale, "before segment")
			return nil
		}

		if seg.PauseOnly() {
			if stop := d.sleepPause(ctx, turnID, seg.Pause, "", nextText(segs, i)); stop != nil {
				return stop.err
			}
			continue
		}

		// The entry is committed before synthesis starts, so the
		// transcript reflects every segment whose synthesis began.
		d.appender.Append(types.TranscriptEntry{
			Speaker:      types.SpeakerAgent,
			Text:         seg.Text,
			TurnID:       turnID,
			SegmentIndex: i,
		})

		blob, err := d.synthesize(ctx, turnID, seg.Text, voiceRef)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fault.IsInvalidated(err) {
				d.record(turnID, turn.StageStale, "during synthesis")
				return nil
			}
			slog.Warn("segment synthesis exhausted retries, skipping",
				"turn", turnID,
				"segment", i,
				"error", err)
			d.record(turnID, turn.StageSynthesizing, fault.KindSynthesisFailed.String())
			continue
		}

		if err := d.play(ctx, turnID, blob); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("segment playback failed, skipping",
				"turn", turnID,
				"segment", i,
				"error", err)
			d.record(turnID, turn.StagePlaying, fault.KindPlaybackFailed.String())
			continue
		}

		if d.registry.IsStale(turnID) {
			d.record(turnID, turn.StageStale, "after playback")
			return nil
		}

		if seg.Pause > 0 {
			if stop := d.sleepPause(ctx, turnID, seg.Pause, seg.Text, nextText(segs, i)); stop != nil {
				return stop.err
			}
		}
	}

	return nil
}

// budget estimates the total speaking time of the reply: spoken characters
// at the configured rate plus the declared pauses.
func (d *Driver) budget(segs []reply.Segment) time.Duration {
	var runes int
	var pauses time.Duration
	for _, s := range segs {
		runes += utf8.RuneCountInString(s.Text)
		pauses += s.Pause
	}
	speech := time.Duration(float64(runes) / d.cfg.CharsPerSecond * float64(time.Second))
	return speech + pauses
}

// synthesize runs TTS for one segment with bounded retries. A turn that goes
// stale between attempts aborts the retry loop via the permanent marker.
func (d *Driver) synthesize(ctx context.Context, turnID uint64, text, voiceRef string) (types.Blob, error) {
	var blob types.Blob
	err := resilience.Retry(ctx, d.cfg.Retry, "tts.synthesize", func() error {
		if d.registry.IsStale(turnID) {
			return resilience.Permanent(fault.Invalidated("tts.synthesize"))
		}
		b, err := d.tts.Synthesize(ctx, tts.Request{Text: text, VoiceRef: voiceRef})
		if err != nil {
			return err
		}
		blob = b
		return nil
	})
	if err != nil {
		return types.Blob{}, err
	}
	return blob, nil
}

// play hands the blob to the playback controller and waits for completion.
// Session teardown is the only thing that cuts a segment mid-play.
func (d *Driver) play(ctx context.Context, turnID uint64, blob types.Blob) error {
	done := make(chan struct{})
	if err := d.player.Play(blob, func() { close(done) }); err != nil {
		return err
	}
	d.record(turnID, turn.StagePlaying, "")

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.player.Stop()
		<-done
		return ctx.Err()
	}
}

// pauseStop is the non-nil result of a pause sleep that should end Speak.
// err is nil for staleness (normal exit) and ctx.Err() for teardown.
type pauseStop struct {
	err error
}

// sleepPause sleeps the context-adjusted pause in short slices, re-checking
// staleness and teardown between slices.
func (d *Driver) sleepPause(ctx context.Context, turnID uint64, pause time.Duration, prevText, next string) *pauseStop {
	remaining := reply.AdjustPause(pause, prevText, next, d.pauseConfig())
	for remaining > 0 {
		if d.registry.IsStale(turnID) {
			d.record(turnID, turn.StageStale, "during pause")
			return &pauseStop{err: nil}
		}
		slice := staleCheckInterval
		if slice > remaining {
			slice = remaining
		}
		select {
		case <-ctx.Done():
			return &pauseStop{err: ctx.Err()}
		case <-time.After(slice):
		}
		remaining -= slice
	}
	return nil
}

// nextText returns the text of the following segment, for the pause shrink
// rule.
func nextText(segs []reply.Segment, i int) string {
	if i+1 < len(segs) {
		return segs[i+1].Text
	}
	return ""
}

func (d *Driver) setSpeaking(on bool) {
	if d.onSpeaking != nil {
		d.onSpeaking(on)
	}
}

func (d *Driver) record(turnID uint64, stage turn.Stage, detail string) {
	if d.recorder != nil {
		d.recorder.Record(turn.Event{TurnID: turnID, Stage: stage, Detail: detail})
	}
}
