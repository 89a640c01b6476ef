package capture

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	audiomock "github.com/antiphonlabs/antiphon/pkg/audio/mock"

	"github.com/antiphonlabs/antiphon/pkg/audio"
)

// testConfig uses tight timings so utterances close after a handful of
// 20 ms frames.
func testConfig() DetectorConfig {
	return DetectorConfig{
		StartThreshold:    0.1,
		StopThreshold:     0.05,
		MinSpeechDuration: 40 * time.Millisecond,
		MaxGap:            40 * time.Millisecond,
		WindowFrames:      1,
	}
}

// pcmFrame builds a 20 ms 16 kHz mono frame whose RMS equals level.
func pcmFrame(level float64, ts time.Duration) audio.Frame {
	const samples = 320 // 20 ms at 16 kHz
	amp := int16(level * 32767)
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(amp))
	}
	return audio.Frame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: ts}
}

// feed pushes count frames of the given level starting at start, stepping
// 20 ms per frame, and returns the timestamp after the last frame.
func feed(conn *audiomock.Connection, level float64, start time.Duration, count int) time.Duration {
	ts := start
	for i := 0; i < count; i++ {
		conn.PushInput(pcmFrame(level, ts))
		ts += 20 * time.Millisecond
	}
	return ts
}

func waitForBlobs(t *testing.T, q *Queue, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for q.Len() < want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d blob(s), have %d", want, q.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func startDetector(t *testing.T, conn *audiomock.Connection, q *Queue, opts ...DetectorOption) *Detector {
	t.Helper()
	d, err := NewDetector(conn, q, testConfig(), opts...)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func TestDetector_EmitsUtteranceBlob(t *testing.T) {
	t.Parallel()

	conn := audiomock.NewConnection(64)
	q := NewQueue(2)
	startDetector(t, conn, q)

	ts := feed(conn, 0.5, 0, 5) // speech
	feed(conn, 0.0, ts, 5)      // silence closes the utterance

	waitForBlobs(t, q, 1)
	blob, err := q.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if blob.SampleRate != 16000 || blob.Channels != 1 {
		t.Fatalf("blob format = %d Hz %d ch, want 16000 Hz mono", blob.SampleRate, blob.Channels)
	}
	if blob.Duration < 40*time.Millisecond {
		t.Fatalf("blob duration = %v, want at least the speech span", blob.Duration)
	}
	if blob.Empty() {
		t.Fatal("blob carries no samples")
	}
}

func TestDetector_RejectsShortNoise(t *testing.T) {
	t.Parallel()

	conn := audiomock.NewConnection(64)
	q := NewQueue(2)
	d := startDetector(t, conn, q)

	// One loud frame (20 ms < MinSpeechDuration 40 ms), then silence.
	ts := feed(conn, 0.5, 0, 1)
	feed(conn, 0.0, ts, 5)

	// Wait for the speech-end signal so we know the utterance was judged.
	waitForSignal(t, d, SignalSpeechEnd)
	if q.Len() != 0 {
		t.Fatalf("noise utterance reached the queue, len=%d", q.Len())
	}
}

func waitForSignal(t *testing.T, d *Detector, want Signal) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-d.Signals():
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for signal %v", want)
		}
	}
}

func TestDetector_SpeechStartSignal(t *testing.T) {
	t.Parallel()

	conn := audiomock.NewConnection(64)
	q := NewQueue(2)
	d := startDetector(t, conn, q)

	feed(conn, 0.5, 0, 2)
	waitForSignal(t, d, SignalSpeechStart)
}

func TestDetector_SuppressedEmitsNothing(t *testing.T) {
	t.Parallel()

	conn := audiomock.NewConnection(64)
	q := NewQueue(2)
	d := startDetector(t, conn, q)

	d.SuppressFor(time.Hour)

	ts := feed(conn, 0.5, 0, 5)
	ts = feed(conn, 0.0, ts, 5)

	// Frames must still be consumed (pipeline stays hot) without blobs or
	// signals appearing.
	deadline := time.After(2 * time.Second)
	for len(conn.Input()) > 0 {
		select {
		case <-deadline:
			t.Fatal("suppressed detector stopped consuming frames")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if q.Len() != 0 {
		t.Fatalf("suppressed detector pushed a blob, len=%d", q.Len())
	}
	select {
	case s := <-d.Signals():
		t.Fatalf("suppressed detector emitted signal %v", s)
	default:
	}

	// Resume cancels suppression: new speech is detected again.
	d.Resume()
	ts = feed(conn, 0.5, ts, 5)
	feed(conn, 0.0, ts, 5)
	waitForBlobs(t, q, 1)
}

func TestDetector_SuppressForExtendWins(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Unix(0, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	conn := audiomock.NewConnection(64)
	q := NewQueue(2)
	d, err := NewDetector(conn, q, testConfig(), WithClock(clock))
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	d.SuppressFor(10 * time.Second)
	d.SuppressFor(2 * time.Second) // shorter — must not cut the first short

	mu.Lock()
	now = now.Add(5 * time.Second)
	mu.Unlock()
	if !d.Suppressed() {
		t.Fatal("shorter SuppressFor truncated an active longer suppression")
	}

	d.SuppressFor(20 * time.Second) // longer — extends
	mu.Lock()
	now = now.Add(10 * time.Second)
	mu.Unlock()
	if !d.Suppressed() {
		t.Fatal("longer SuppressFor did not extend suppression")
	}

	mu.Lock()
	now = now.Add(20 * time.Second)
	mu.Unlock()
	if d.Suppressed() {
		t.Fatal("suppression did not expire")
	}
}

func TestDetector_StopIdempotent(t *testing.T) {
	t.Parallel()

	conn := audiomock.NewConnection(64)
	q := NewQueue(2)
	d := startDetector(t, conn, q)

	d.Stop()
	d.Stop() // must not panic or block
}

func TestDetector_TerminalOnInputClose(t *testing.T) {
	t.Parallel()

	conn := audiomock.NewConnection(64)
	q := NewQueue(2)
	d, err := NewDetector(conn, q, testConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Simulate the device dying underneath the detector.
	_ = conn.Disconnect()

	select {
	case err, ok := <-d.Terminal():
		if !ok || err == nil {
			t.Fatal("expected a terminal error after input close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal error after input close")
	}
}

func TestDetectorConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := DefaultDetectorConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultDetectorConfig()
	bad.StopThreshold = bad.StartThreshold + 0.1
	if err := bad.Validate(); err == nil {
		t.Fatal("stop threshold above start threshold must be rejected")
	}
}
