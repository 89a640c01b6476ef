package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// Signal is a speech boundary event emitted by the [Detector].
type Signal int

const (
	// SignalSpeechStart is emitted when the smoothed level first exceeds the
	// start threshold.
	SignalSpeechStart Signal = iota

	// SignalSpeechEnd is emitted when an utterance ends and its blob has been
	// pushed (or discarded as noise).
	SignalSpeechEnd
)

// String returns the human-readable name of the signal.
func (s Signal) String() string {
	switch s {
	case SignalSpeechStart:
		return "speech_start"
	case SignalSpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// DetectorConfig fixes the shape of the detection rule: two hysteresis
// thresholds, a minimum-duration floor, and a maximum silence gap. The
// numeric values are deployment tuning and may be updated live via
// [Detector.SetConfig].
type DetectorConfig struct {
	// StartThreshold is the normalised RMS level [0,1] the smoothed signal
	// must exceed for speech to begin. Default: 0.045.
	StartThreshold float64

	// StopThreshold is the level below which speech is considered to have
	// paused. Must be ≤ StartThreshold. Default: 0.02.
	StopThreshold float64

	// MinSpeechDuration discards utterances shorter than this as noise.
	// Default: 300ms.
	MinSpeechDuration time.Duration

	// MaxGap is how long the level may stay at or below StopThreshold before
	// the utterance is closed. Default: 700ms.
	MaxGap time.Duration

	// WindowFrames is the length of the moving-average window, in frames.
	// Default: 4.
	WindowFrames int
}

// DefaultDetectorConfig returns the tuned defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		StartThreshold:    0.045,
		StopThreshold:     0.02,
		MinSpeechDuration: 300 * time.Millisecond,
		MaxGap:            700 * time.Millisecond,
		WindowFrames:      4,
	}
}

// Validate reports configuration errors.
func (c DetectorConfig) Validate() error {
	var errs []error
	if c.StartThreshold <= 0 || c.StartThreshold > 1 {
		errs = append(errs, errors.New("capture: start threshold must be in (0,1]"))
	}
	if c.StopThreshold <= 0 || c.StopThreshold > c.StartThreshold {
		errs = append(errs, errors.New("capture: stop threshold must be in (0, start threshold]"))
	}
	if c.MinSpeechDuration <= 0 {
		errs = append(errs, errors.New("capture: min speech duration must be positive"))
	}
	if c.MaxGap <= 0 {
		errs = append(errs, errors.New("capture: max gap must be positive"))
	}
	if c.WindowFrames <= 0 {
		errs = append(errs, errors.New("capture: window frames must be positive"))
	}
	return errors.Join(errs...)
}

// asrSampleRate is the format utterance blobs are captured in. ASR services
// consume 16 kHz mono PCM; frames are converted at the head of the loop so
// level measurement and blob assembly see one format.
const asrSampleRate = 16000

// Detector owns the microphone stream. It converts incoming frames to
// 16 kHz mono, tracks a moving-average RMS level, and applies hysteresis:
// speech begins when the smoothed level exceeds StartThreshold, continues
// while above StopThreshold, and ends once the level has stayed at or below
// StopThreshold for MaxGap. Utterances shorter than MinSpeechDuration are
// discarded as noise.
//
// While suppressed the detector still consumes frames — keeping the pipeline
// hot — but emits neither signals nor blobs. Suppression is re-entrant: a
// later suppression that extends beyond the current one wins.
//
// All exported methods are safe for concurrent use.
type Detector struct {
	conn  audio.Connection
	queue *Queue

	mu            sync.Mutex
	cfg           DetectorConfig
	suppressUntil time.Time
	started       bool
	stopped       bool

	signals  chan Signal
	terminal chan error
	stopCh   chan struct{}
	loopDone chan struct{}

	now func() time.Time // injected clock for tests
}

// DetectorOption configures a [Detector] during construction.
type DetectorOption func(*Detector)

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a detector reading frames from conn and pushing
// finished utterance blobs to queue.
func NewDetector(conn audio.Connection, queue *Queue, cfg DetectorConfig, opts ...DetectorOption) (*Detector, error) {
	if conn == nil {
		return nil, errors.New("capture: connection must not be nil")
	}
	if queue == nil {
		return nil, errors.New("capture: queue must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture: invalid config: %w", err)
	}

	d := &Detector{
		conn:     conn,
		queue:    queue,
		cfg:      cfg,
		signals:  make(chan Signal, 8),
		terminal: make(chan error, 1),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start begins consuming microphone frames. It returns an error if the
// detector was already started or stopped.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return errors.New("capture: detector already stopped")
	}
	if d.started {
		return errors.New("capture: detector already started")
	}
	d.started = true
	go d.frameLoop()
	return nil
}

// Stop releases the detector. The microphone itself is released by the owner
// of the [audio.Connection]. Stop is idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	started := d.started
	d.mu.Unlock()

	close(d.stopCh)
	if started {
		<-d.loopDone
	}
}

// SuppressFor disables speech detection and blob emission for duration.
// Re-entrant: a suppression that ends before the current one is ignored.
func (d *Detector) SuppressFor(duration time.Duration) {
	if duration <= 0 {
		return
	}
	until := d.now().Add(duration)
	d.mu.Lock()
	if until.After(d.suppressUntil) {
		d.suppressUntil = until
	}
	d.mu.Unlock()
}

// Resume cancels any outstanding suppression immediately. Used for barge-in
// reaction so the microphone is hot the instant a turn is invalidated.
func (d *Detector) Resume() {
	d.mu.Lock()
	d.suppressUntil = time.Time{}
	d.mu.Unlock()
}

// SetConfig replaces the detection thresholds. Invalid configs are rejected.
// An in-progress utterance keeps the thresholds it started with until the
// next frame.
func (d *Detector) SetConfig(cfg DetectorConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("capture: invalid config: %w", err)
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// Signals returns the speech boundary event stream. Events are dropped if
// the consumer falls more than a small buffer behind.
func (d *Detector) Signals() <-chan Signal {
	return d.signals
}

// Terminal returns a channel that delivers at most one error: the terminal
// device failure that ended the frame loop. The channel is closed when the
// loop exits; a clean shutdown closes it without a value.
func (d *Detector) Terminal() <-chan error {
	return d.terminal
}

// Suppressed reports whether the detector is currently suppressed. Shells
// render its inverse as the recording indicator.
func (d *Detector) Suppressed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.suppressUntil)
}

// config returns a copy of the current thresholds.
func (d *Detector) config() DetectorConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// frameLoop is the detector's single goroutine. It owns all utterance state;
// nothing outside the loop mutates it.
func (d *Detector) frameLoop() {
	defer close(d.loopDone)
	defer close(d.terminal)

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: asrSampleRate, Channels: 1}}

	var (
		window     []float64 // moving-average ring of per-frame RMS
		inSpeech   bool
		utterance  []byte
		startedAt  time.Duration // frame timestamp at utterance start
		lastAbove  time.Duration // frame timestamp the level last exceeded StopThreshold
		frameStamp time.Duration
	)

	resetUtterance := func() {
		inSpeech = false
		utterance = nil
	}

	for {
		var (
			frame audio.Frame
			ok    bool
		)
		select {
		case <-d.stopCh:
			return
		case frame, ok = <-d.conn.Input():
		}
		if !ok {
			// Input closed underneath us: the device is gone. Surface once
			// unless this is an orderly Stop.
			select {
			case <-d.stopCh:
			default:
				d.terminal <- fault.New(fault.KindNotSupported, "capture.frames",
					errors.New("capture: input stream ended"))
			}
			return
		}

		frame = conv.Convert(frame)
		if len(frame.Data) == 0 {
			continue
		}
		frameStamp = frame.Timestamp

		cfg := d.config()

		level := rmsLevel(frame.Data)
		window = append(window, level)
		if len(window) > cfg.WindowFrames {
			window = window[len(window)-cfg.WindowFrames:]
		}
		smoothed := mean(window)

		if d.Suppressed() {
			// Keep the pipeline hot but emit nothing; any half-built
			// utterance is abandoned so agent playback cannot leak into the
			// capture path.
			resetUtterance()
			continue
		}

		switch {
		case !inSpeech && smoothed > cfg.StartThreshold:
			inSpeech = true
			utterance = append([]byte(nil), frame.Data...)
			startedAt = frameStamp
			lastAbove = frameStamp
			d.emit(SignalSpeechStart)

		case inSpeech:
			utterance = append(utterance, frame.Data...)
			if smoothed > cfg.StopThreshold {
				lastAbove = frameStamp
				continue
			}
			if frameStamp-lastAbove < cfg.MaxGap {
				continue
			}

			// Utterance closed. Apply the noise-rejection floor.
			elapsed := frameStamp - startedAt
			if elapsed >= cfg.MinSpeechDuration {
				d.queue.Push(types.Blob{
					PCM:        utterance,
					SampleRate: asrSampleRate,
					Channels:   1,
					Start:      startedAt,
					Duration:   elapsed,
				})
			} else {
				slog.Debug("capture: discarding short utterance",
					"duration", elapsed, "floor", cfg.MinSpeechDuration)
			}
			d.emit(SignalSpeechEnd)
			resetUtterance()
		}
	}
}

// emit delivers a signal without ever blocking the frame loop.
func (d *Detector) emit(s Signal) {
	select {
	case d.signals <- s:
	default:
	}
}

// rmsLevel computes the root-mean-square of 16-bit little-endian PCM,
// normalised to [0,1].
func rmsLevel(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:i*2+2]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// mean averages a non-empty window; returns 0 for an empty one.
func mean(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}
