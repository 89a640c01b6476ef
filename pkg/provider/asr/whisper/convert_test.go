package whisper

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestPCMToFloat32(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 6)
	minSample := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(int16(0)))
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(pcm[4:6], uint16(minSample))

	got := pcmToFloat32(pcm)
	want := []float32{0, 0.5, -1.0}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPCMToFloat32Mono_DownMixesStereo(t *testing.T) {
	t.Parallel()

	// One stereo frame: left 16384 (0.5), right -16384 (-0.5) → average 0.
	pcm := make([]byte, 4)
	right := int16(-16384)
	binary.LittleEndian.PutUint16(pcm[0:2], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(right))

	got := pcmToFloat32Mono(pcm, 2)
	if len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
	if math.Abs(float64(got[0])) > 1e-6 {
		t.Errorf("down-mixed sample = %v, want 0", got[0])
	}
}

func TestPCMToFloat32Mono_PassThroughMono(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 2)
	binary.LittleEndian.PutUint16(pcm, uint16(int16(16384)))

	got := pcmToFloat32Mono(pcm, 1)
	if len(got) != 1 || math.Abs(float64(got[0]-0.5)) > 1e-6 {
		t.Fatalf("mono pass-through = %v, want [0.5]", got)
	}
}
