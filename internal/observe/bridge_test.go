package observe

import (
	"context"
	"testing"
	"time"

	"github.com/antiphonlabs/antiphon/internal/turn"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// feed plays a sequence of events through a fresh bridge and returns the
// collected metrics.
func feed(t *testing.T, events []turn.Event) metricdata.ResourceMetrics {
	t.Helper()
	m, reader := newTestMetrics(t)
	b := NewBridge(m)
	ctx := context.Background()
	for _, ev := range events {
		b.Observe(ctx, ev)
	}
	return collect(t, reader)
}

func TestBridge_HappyTurnRecordsStageDurations(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rm := feed(t, []turn.Event{
		{TurnID: 1, Stage: turn.StageOpened, Timestamp: base},
		{TurnID: 1, Stage: turn.StageTranscribing, Timestamp: base.Add(10 * time.Millisecond)},
		{TurnID: 1, Stage: turn.StageGenerating, Timestamp: base.Add(310 * time.Millisecond)},
		{TurnID: 1, Stage: turn.StageSynthesizing, Timestamp: base.Add(1310 * time.Millisecond)},
		{TurnID: 1, Stage: turn.StagePlaying, Timestamp: base.Add(1510 * time.Millisecond)},
		{TurnID: 1, Stage: turn.StageClosed, Timestamp: base.Add(3 * time.Second)},
	})

	for _, name := range []string{
		"antiphon.asr.duration",
		"antiphon.gen.duration",
		"antiphon.tts.duration",
		"antiphon.playback.duration",
		"antiphon.turn.duration",
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) == 0 {
			t.Fatalf("metric %q has no histogram data", name)
		}
		if hist.DataPoints[0].Count != 1 {
			t.Errorf("%s count = %d, want 1", name, hist.DataPoints[0].Count)
		}
	}

	// Generation took exactly one second.
	gen := findMetric(rm, "antiphon.gen.duration")
	hist := gen.Data.(metricdata.Histogram[float64])
	if got := hist.DataPoints[0].Sum; got != 1.0 {
		t.Errorf("generation duration sum = %v, want 1.0", got)
	}

	// One segment reached the device.
	played := findMetric(rm, "antiphon.segments.played")
	if played == nil {
		t.Fatal("segments.played not found")
	}
	sum := played.Data.(metricdata.Sum[int64])
	if sum.DataPoints[0].Value != 1 {
		t.Errorf("segments played = %d, want 1", sum.DataPoints[0].Value)
	}
}

func TestBridge_BargeInCountsOnceAndMarksStale(t *testing.T) {
	t.Parallel()

	base := time.Now()
	rm := feed(t, []turn.Event{
		{TurnID: 1, Stage: turn.StageOpened, Timestamp: base},
		{TurnID: 1, Stage: turn.StagePlaying, Timestamp: base.Add(time.Second)},
		{TurnID: 2, Stage: turn.StageOpened, Detail: "barge-in", Timestamp: base.Add(2 * time.Second)},
		{TurnID: 1, Stage: turn.StageStale, Timestamp: base.Add(2 * time.Second)},
	})

	bi := findMetric(rm, "antiphon.barge_ins")
	if bi == nil {
		t.Fatal("barge_ins not found")
	}
	if got := bi.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("barge-ins = %d, want 1", got)
	}

	fin := findMetric(rm, "antiphon.turns.finished")
	if fin == nil {
		t.Fatal("turns.finished not found")
	}
	for _, dp := range fin.Data.(metricdata.Sum[int64]).DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "outcome" && kv.Value.AsString() == "stale" {
				if dp.Value != 1 {
					t.Errorf("stale outcome = %d, want 1", dp.Value)
				}
				return
			}
		}
	}
	t.Error("outcome=stale data point not found")
}

func TestBridge_SkippedSegmentCounted(t *testing.T) {
	t.Parallel()

	base := time.Now()
	rm := feed(t, []turn.Event{
		{TurnID: 3, Stage: turn.StageOpened, Timestamp: base},
		{TurnID: 3, Stage: turn.StageSynthesizing, Timestamp: base.Add(time.Millisecond)},
		{TurnID: 3, Stage: turn.StageSynthesizing, Detail: "synthesis_failed", Timestamp: base.Add(time.Second)},
		{TurnID: 3, Stage: turn.StageClosed, Timestamp: base.Add(2 * time.Second)},
	})

	met := findMetric(rm, "antiphon.segments.skipped")
	if met == nil {
		t.Fatal("segments.skipped not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Errorf("skipped = %v, want one data point of 1", sum.DataPoints)
	}
}

func TestBridge_RunDrainsSubscription(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	b := NewBridge(m)

	rec := turn.NewRecorder(16)
	ch, cancel := rec.Subscribe(16)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, ch)
		close(done)
	}()

	rec.Record(turn.Event{TurnID: 1, Stage: turn.StageOpened})
	rec.Record(turn.Event{TurnID: 1, Stage: turn.StageClosed})

	// Give the bridge a moment to drain, then stop it.
	deadline := time.After(2 * time.Second)
	for {
		rm := collect(t, reader)
		if met := findMetric(rm, "antiphon.turns.finished"); met != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("bridge never recorded the finished turn")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
