package speak_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antiphonlabs/antiphon/internal/resilience"
	"github.com/antiphonlabs/antiphon/internal/speak"
	"github.com/antiphonlabs/antiphon/internal/turn"
	ttsmock "github.com/antiphonlabs/antiphon/pkg/provider/tts/mock"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// fakeVAD records suppression calls.
type fakeVAD struct {
	mu       sync.Mutex
	suppress []time.Duration
	resumes  int
}

func (v *fakeVAD) SuppressFor(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.suppress = append(v.suppress, d)
}

func (v *fakeVAD) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resumes++
}

// fakePlayer completes every segment immediately and can invoke a hook
// after each completed playback.
type fakePlayer struct {
	mu        sync.Mutex
	played    []types.Blob
	playErr   error
	afterPlay func(n int) // called with the 1-based playback count

	playing bool
}

func (p *fakePlayer) Play(blob types.Blob, onDone func()) error {
	p.mu.Lock()
	if p.playErr != nil {
		err := p.playErr
		p.mu.Unlock()
		return err
	}
	p.played = append(p.played, blob)
	n := len(p.played)
	hook := p.afterPlay
	p.mu.Unlock()

	onDone()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (p *fakePlayer) Stop() {}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}

// fakeAppender records appended entries.
type fakeAppender struct {
	mu      sync.Mutex
	entries []types.TranscriptEntry
}

func (a *fakeAppender) Append(e types.TranscriptEntry) types.TranscriptEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return e
}

func (a *fakeAppender) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Text
	}
	return out
}

func fastConfig() speak.Config {
	return speak.Config{
		Retry: resilience.RetryConfig{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}
}

func newDriver(t *testing.T, ttsSvc *ttsmock.Service, player *fakePlayer, vad *fakeVAD, reg *turn.Registry, app *fakeAppender, cfg speak.Config, opts ...speak.Option) *speak.Driver {
	t.Helper()
	d, err := speak.NewDriver(ttsSvc, player, vad, reg, app, cfg, opts...)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d
}

func TestDriver_SpeaksSegmentsInOrder(t *testing.T) {
	t.Parallel()

	ttsSvc := &ttsmock.Service{}
	player := &fakePlayer{}
	vad := &fakeVAD{}
	app := &fakeAppender{}
	reg := turn.NewRegistry()
	id := reg.Open()

	d := newDriver(t, ttsSvc, player, vad, reg, app, fastConfig())

	err := d.Speak(context.Background(), id, "Hello there.[pause:0.1s]Still with me?", "nova")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if got := ttsSvc.Texts(); len(got) != 2 || got[0] != "Hello there." || got[1] != "Still with me?" {
		t.Fatalf("synthesized %v, want both segments in order without pause tokens", got)
	}
	if player.count() != 2 {
		t.Fatalf("played %d segments, want 2", player.count())
	}
	if got := app.texts(); len(got) != 2 || got[0] != "Hello there." {
		t.Fatalf("transcript entries %v, want both segments", got)
	}
	if ttsSvc.SynthesizeCalls[0].Req.VoiceRef != "nova" {
		t.Fatalf("voice ref = %q, want nova", ttsSvc.SynthesizeCalls[0].Req.VoiceRef)
	}

	vad.mu.Lock()
	defer vad.mu.Unlock()
	if len(vad.suppress) != 1 || vad.suppress[0] <= 0 {
		t.Fatalf("SuppressFor calls = %v, want one positive budget", vad.suppress)
	}
	if vad.resumes != 1 {
		t.Fatalf("Resume called %d times, want 1", vad.resumes)
	}
}

func TestDriver_SegmentIndicesAndTurnID(t *testing.T) {
	t.Parallel()

	ttsSvc := &ttsmock.Service{}
	player := &fakePlayer{}
	app := &fakeAppender{}
	reg := turn.NewRegistry()
	id := reg.Open()

	d := newDriver(t, ttsSvc, player, &fakeVAD{}, reg, app, fastConfig())
	if err := d.Speak(context.Background(), id, "One.[pause:0.05s]Two.", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	for i, e := range app.entries {
		if e.Speaker != types.SpeakerAgent {
			t.Errorf("entry %d speaker = %q, want agent", i, e.Speaker)
		}
		if e.TurnID != id {
			t.Errorf("entry %d turn = %d, want %d", i, e.TurnID, id)
		}
		if e.SegmentIndex != i {
			t.Errorf("entry %d segment index = %d, want %d", i, e.SegmentIndex, i)
		}
	}
}

func TestDriver_StaleAfterFirstSegmentStopsReply(t *testing.T) {
	t.Parallel()

	ttsSvc := &ttsmock.Service{}
	vad := &fakeVAD{}
	app := &fakeAppender{}
	reg := turn.NewRegistry()
	id := reg.Open()

	player := &fakePlayer{}
	player.afterPlay = func(n int) {
		if n == 1 {
			reg.Open() // barge-in makes the speaking turn stale
		}
	}

	d := newDriver(t, ttsSvc, player, vad, reg, app, fastConfig())
	err := d.Speak(context.Background(), id, "First.[pause:0.05s]Second.", "")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if player.count() != 1 {
		t.Fatalf("played %d segments, want 1 (second suppressed by staleness)", player.count())
	}
	if got := app.texts(); len(got) != 1 || got[0] != "First." {
		t.Fatalf("transcript entries %v, want only the first segment", got)
	}

	vad.mu.Lock()
	defer vad.mu.Unlock()
	if vad.resumes != 1 {
		t.Fatalf("Resume called %d times on stale exit, want 1", vad.resumes)
	}
}

func TestDriver_PauseOnlyReplyProducesNothing(t *testing.T) {
	t.Parallel()

	ttsSvc := &ttsmock.Service{}
	player := &fakePlayer{}
	app := &fakeAppender{}
	reg := turn.NewRegistry()
	id := reg.Open()

	d := newDriver(t, ttsSvc, player, &fakeVAD{}, reg, app, fastConfig())
	if err := d.Speak(context.Background(), id, "[pause:0.05s]", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if ttsSvc.CallCount() != 0 || player.count() != 0 || len(app.texts()) != 0 {
		t.Fatal("pause-only reply must produce no synthesis, playback, or entries")
	}
}

func TestDriver_EmptyReplyIsNoop(t *testing.T) {
	t.Parallel()

	vad := &fakeVAD{}
	reg := turn.NewRegistry()
	d := newDriver(t, &ttsmock.Service{}, &fakePlayer{}, vad, reg, &fakeAppender{}, fastConfig())

	if err := d.Speak(context.Background(), reg.Open(), "   ", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	vad.mu.Lock()
	defer vad.mu.Unlock()
	if len(vad.suppress) != 0 {
		t.Fatal("empty reply must not suppress the detector")
	}
}

func TestDriver_SynthesisRetryThenSkipKeepsTurnAlive(t *testing.T) {
	t.Parallel()

	boom := errors.New("tts down")
	ttsSvc := &ttsmock.Service{
		// First segment fails both attempts; second segment succeeds.
		Replies: []ttsmock.Scripted{{Err: boom}, {Err: boom}},
	}
	player := &fakePlayer{}
	app := &fakeAppender{}
	reg := turn.NewRegistry()
	id := reg.Open()

	d := newDriver(t, ttsSvc, player, &fakeVAD{}, reg, app, fastConfig())
	err := d.Speak(context.Background(), id, "Doomed.[pause:0.05s]Fine.", "")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if ttsSvc.CallCount() != 3 {
		t.Fatalf("tts called %d times, want 3 (two failed attempts + second segment)", ttsSvc.CallCount())
	}
	if player.count() != 1 {
		t.Fatalf("played %d segments, want 1 (failed segment skipped)", player.count())
	}
	// The transcript keeps the failed segment's entry: synthesis started.
	if got := app.texts(); len(got) != 2 || got[0] != "Doomed." || got[1] != "Fine." {
		t.Fatalf("transcript entries %v, want both segments retained", got)
	}
}

func TestDriver_PlaybackFailureSkipsSegment(t *testing.T) {
	t.Parallel()

	ttsSvc := &ttsmock.Service{}
	player := &fakePlayer{playErr: errors.New("device gone")}
	app := &fakeAppender{}
	reg := turn.NewRegistry()
	id := reg.Open()

	d := newDriver(t, ttsSvc, player, &fakeVAD{}, reg, app, fastConfig())
	if err := d.Speak(context.Background(), id, "Hello.", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if player.count() != 0 {
		t.Fatal("playback should have failed")
	}
	if len(app.texts()) != 1 {
		t.Fatal("entry must be retained even when playback fails")
	}
}

func TestDriver_TeardownDuringPauseReturnsContextError(t *testing.T) {
	t.Parallel()

	ttsSvc := &ttsmock.Service{}
	player := &fakePlayer{}
	reg := turn.NewRegistry()
	id := reg.Open()

	ctx, cancel := context.WithCancel(context.Background())
	player.afterPlay = func(int) { cancel() }

	d := newDriver(t, ttsSvc, player, &fakeVAD{}, reg, &fakeAppender{}, fastConfig())
	err := d.Speak(ctx, id, "One.[pause:5s]Two.", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Speak = %v, want context.Canceled", err)
	}
	if player.count() != 1 {
		t.Fatalf("played %d segments, want 1", player.count())
	}
}

func TestDriver_SuppressionOff(t *testing.T) {
	t.Parallel()

	vad := &fakeVAD{}
	reg := turn.NewRegistry()
	cfg := fastConfig()
	cfg.SuppressionOff = true

	d := newDriver(t, &ttsmock.Service{}, &fakePlayer{}, vad, reg, &fakeAppender{}, cfg)
	if err := d.Speak(context.Background(), reg.Open(), "Hello.", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	vad.mu.Lock()
	defer vad.mu.Unlock()
	if len(vad.suppress) != 0 {
		t.Fatal("SuppressFor must not be called with suppression off")
	}
	if vad.resumes != 1 {
		t.Fatal("Resume still fires on exit")
	}
}

func TestDriver_SpeakingObserver(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var states []bool
	reg := turn.NewRegistry()

	d := newDriver(t, &ttsmock.Service{}, &fakePlayer{}, &fakeVAD{}, reg, &fakeAppender{}, fastConfig(),
		speak.WithSpeakingObserver(func(on bool) {
			mu.Lock()
			states = append(states, on)
			mu.Unlock()
		}))

	if err := d.Speak(context.Background(), reg.Open(), "Hello.", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || !states[0] || states[1] {
		t.Fatalf("speaking states = %v, want [true false]", states)
	}
}
