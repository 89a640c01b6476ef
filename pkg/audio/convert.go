package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// FormatConverter converts Frames to a target format. It logs a warning on
// the first format mismatch and validates PCM alignment. Create one per
// stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target format. A frame already in the
// target format is returned unchanged with zero allocation. Resampling
// happens before channel conversion so a stereo source headed for mono is
// not resampled twice per channel unnecessarily.
func (c *FormatConverter) Convert(frame Frame) Frame {
	if len(frame.Data)%2 != 0 {
		// int16 PCM must be an even number of bytes.
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return Frame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", Format{frame.SampleRate, frame.Channels}.String(),
			"to", c.Target.String(),
		)
	})

	pcm := Resample(frame.Data, frame.Channels, frame.SampleRate, c.Target.SampleRate)
	switch {
	case frame.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case frame.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	}

	return Frame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
}

// sampleAt reads the little-endian int16 sample at index i.
func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

// putSample writes s as a little-endian int16 sample at index i.
func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

// MonoToStereo duplicates each int16 mono sample into an L+R pair. Input
// must be little-endian int16 PCM.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		s := sampleAt(pcm, i)
		putSample(out, i*2, s)
		putSample(out, i*2+1, s)
	}
	return out
}

// StereoToMono averages each L+R pair into one sample, clamping to the
// int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		avg := (int32(sampleAt(pcm, i*2)) + int32(sampleAt(pcm, i*2+1))) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		putSample(out, i, int16(avg))
	}
	return out
}

// Resample converts interleaved little-endian int16 PCM from srcRate to
// dstRate using per-channel linear interpolation. channels must match the
// interleaving of pcm. If the rates are equal or the input is shorter than
// one frame, the input is returned unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	frameBytes := channels * 2
	srcFrames := len(pcm) / frameBytes
	if srcRate == dstRate || srcFrames < 1 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		nextIdx := srcIdx + 1
		if nextIdx >= srcFrames {
			nextIdx = srcIdx
		}

		for ch := range channels {
			s0 := float64(sampleAt(pcm, srcIdx*channels+ch))
			s1 := float64(sampleAt(pcm, nextIdx*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}
