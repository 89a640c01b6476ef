package audio

import "time"

// Frame is a single frame of audio flowing through the pipeline. Frames are
// the atomic unit of transport: captured from the platform input, inspected
// by the voice activity detector, and written to the platform output during
// playback.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for ASR input).
	SampleRate int

	// Channels: 1 for mono (ASR input), 2 for interleaved stereo (Discord output).
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the audible length of the frame, or zero when the format
// fields are unset.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 || len(f.Data) == 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
