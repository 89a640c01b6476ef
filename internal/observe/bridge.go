package observe

import (
	"context"
	"sync"
	"time"

	"github.com/antiphonlabs/antiphon/internal/turn"
)

// turnState tracks one in-flight turn for stage-duration accounting.
type turnState struct {
	openedAt   time.Time
	stage      turn.Stage
	stageStart time.Time
}

// Bridge translates the turn-scoped event stream into metric observations:
// stage latency histograms from consecutive event timestamps, counters for
// turn openings, finishes, barge-ins, and segment outcomes. Wiring the
// pipeline to metrics through its own event stream keeps the orchestrator
// and the driver unaware of instrumentation.
//
// A Bridge serves one session; create one per recorder.
type Bridge struct {
	metrics *Metrics

	mu    sync.Mutex
	turns map[uint64]*turnState
}

// NewBridge creates a bridge recording into metrics. A nil metrics uses
// [DefaultMetrics].
func NewBridge(metrics *Metrics) *Bridge {
	if metrics == nil {
		metrics = DefaultMetrics()
	}
	return &Bridge{
		metrics: metrics,
		turns:   make(map[uint64]*turnState),
	}
}

// Run consumes events until the channel closes or ctx is cancelled.
// Typically started as `go bridge.Run(ctx, ch)` with a channel obtained from
// [turn.Recorder.Subscribe].
func (b *Bridge) Run(ctx context.Context, events <-chan turn.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Observe(ctx, ev)
		}
	}
}

// Observe records the metric observations for one event.
func (b *Bridge) Observe(ctx context.Context, ev turn.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Stage {
	case turn.StageOpened:
		b.metrics.RecordTurnOpened(ctx, openReason(ev.Detail))
		if ev.Detail == "barge-in" {
			b.metrics.BargeIns.Add(ctx, 1)
		}
		b.turns[ev.TurnID] = &turnState{openedAt: ev.Timestamp}

	case turn.StageTranscribing, turn.StageGenerating, turn.StageSynthesizing, turn.StagePlaying:
		st := b.turns[ev.TurnID]
		if st == nil {
			// Transcription can start before the turn opens (barge-in
			// intake probes under the current id); track from here.
			st = &turnState{openedAt: ev.Timestamp}
			b.turns[ev.TurnID] = st
		}
		b.closeStage(ctx, st, ev.Timestamp)
		st.stage = ev.Stage
		st.stageStart = ev.Timestamp

		if ev.Stage == turn.StagePlaying && ev.Detail == "" {
			b.metrics.SegmentsPlayed.Add(ctx, 1)
		}
		if ev.Detail == "synthesis_failed" || ev.Detail == "playback_failed" {
			b.metrics.RecordSegmentSkipped(ctx, ev.Detail)
		}

	case turn.StageClosed, turn.StageStale:
		st := b.turns[ev.TurnID]
		if st != nil {
			b.closeStage(ctx, st, ev.Timestamp)
			b.metrics.TurnDuration.Record(ctx, ev.Timestamp.Sub(st.openedAt).Seconds())
			delete(b.turns, ev.TurnID)
		}
		b.metrics.RecordTurnFinished(ctx, finishOutcome(ev))
	}
}

// closeStage records the elapsed stage duration, if a stage was in progress.
func (b *Bridge) closeStage(ctx context.Context, st *turnState, now time.Time) {
	if st.stageStart.IsZero() {
		return
	}
	elapsed := now.Sub(st.stageStart).Seconds()
	switch st.stage {
	case turn.StageTranscribing:
		b.metrics.TranscriptionDuration.Record(ctx, elapsed)
	case turn.StageGenerating:
		b.metrics.GenerationDuration.Record(ctx, elapsed)
	case turn.StageSynthesizing:
		b.metrics.SynthesisDuration.Record(ctx, elapsed)
	case turn.StagePlaying:
		b.metrics.PlaybackDuration.Record(ctx, elapsed)
	}
	st.stage = ""
	st.stageStart = time.Time{}
}

// openReason maps an opened-event detail to the metric reason attribute.
func openReason(detail string) string {
	switch detail {
	case "":
		return "utterance"
	case "barge-in":
		return "barge_in"
	default:
		return detail
	}
}

// finishOutcome maps a terminal event to the metric outcome attribute.
func finishOutcome(ev turn.Event) string {
	if ev.Stage == turn.StageStale {
		return "stale"
	}
	switch ev.Detail {
	case "", "empty", "empty reply":
		return "closed"
	default:
		return ev.Detail
	}
}
