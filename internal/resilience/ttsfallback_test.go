package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	ttsmock "github.com/antiphonlabs/antiphon/pkg/provider/tts/mock"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

func TestTTSFallback_PrimaryServes(t *testing.T) {
	t.Parallel()

	want := types.Blob{PCM: []byte{1, 2}, SampleRate: 24000, Channels: 1}
	primary := &ttsmock.Service{Blob: want}
	backup := &ttsmock.Service{}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback(backup, "backup", FallbackConfig{})

	got, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.SampleRate != want.SampleRate || len(got.PCM) != len(want.PCM) {
		t.Fatalf("Synthesize returned %+v, want primary's blob", got)
	}
	if backup.CallCount() != 0 {
		t.Fatal("backup must not be called when the primary succeeds")
	}
}

func TestTTSFallback_FallsThrough(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Service{Err: errors.New("backend down")}
	backup := &ttsmock.Service{Blob: types.Blob{PCM: []byte{9}, SampleRate: 16000, Channels: 1}}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback(backup, "backup", FallbackConfig{})

	got, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got.SampleRate != 16000 {
		t.Fatalf("Synthesize returned sample rate %d, want the backup's 16000", got.SampleRate)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Fatalf("calls = primary %d, backup %d; want 1 and 1", primary.CallCount(), backup.CallCount())
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()

	primary := &ttsmock.Service{Err: errors.New("down")}
	fb := NewTTSFallback(primary, "primary", FallbackConfig{})

	_, err := fb.Synthesize(context.Background(), tts.Request{Text: "hello"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("Synthesize = %v, want ErrAllFailed", err)
	}
}
