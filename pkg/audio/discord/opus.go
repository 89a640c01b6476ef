package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 2

	// opusFrameSize is the sample count per channel in one 20 ms frame.
	opusFrameSize = opusSampleRate * 20 / 1000 // 960

	// opusFrameBytes is the PCM byte size of one frame: samples per channel
	// times channels times two bytes per int16 sample.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

// opusDecoder decodes one participant's Opus stream. Opus decoders are
// stateful, so every SSRC needs its own.
type opusDecoder struct {
	dec *gopus.Decoder
}

func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode returns one frame of interleaved little-endian int16 PCM.
func (d *opusDecoder) decode(pkt []byte) ([]byte, error) {
	if len(pkt) == 0 {
		return nil, fmt.Errorf("discord: empty opus packet")
	}
	pcm, err := d.dec.Decode(pkt, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// opusEncoder encodes the outbound playback stream.
type opusEncoder struct {
	enc *gopus.Encoder
	pcm []int16 // scratch frame, reused across encode calls
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, pcm: make([]int16, opusFrameSize*opusChannels)}, nil
}

// encode consumes exactly one frame of interleaved little-endian int16 PCM.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	if len(frame) != opusFrameBytes {
		return nil, fmt.Errorf("discord: opus encode: frame is %d bytes, want %d", len(frame), opusFrameBytes)
	}
	for i := range e.pcm {
		e.pcm[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	pkt, err := e.enc.Encode(e.pcm, opusFrameSize, len(frame))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return pkt, nil
}
