package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 64
	outputChannelBuffer = 64
)

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Incoming Opus packets are decoded to PCM and
// merged into the single input stream regardless of SSRC — a session has one
// human speaker, and the voice activity detector downstream rejects
// non-speech anyway. Outgoing PCM frames are encoded to Opus for
// transmission.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc *discordgo.VoiceConnection

	input  chan audio.Frame
	output chan audio.Frame

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC is called during Disconnect to tear down the voice
	// connection. Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the receive and send loops.
func newConnection(vc *discordgo.VoiceConnection) *Connection {
	c := &Connection{
		vc:           vc,
		input:        make(chan audio.Frame, inputChannelBuffer),
		output:       make(chan audio.Frame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	go c.recvLoop()
	go c.sendLoop()

	return c
}

// Input returns the merged microphone stream.
func (c *Connection) Input() <-chan audio.Frame {
	return c.input
}

// Output returns the write-only channel for agent audio. Frames written here
// are encoded to Opus and sent to Discord.
func (c *Connection) Output() chan<- audio.Frame {
	return c.output
}

// Disconnect cleanly tears down the voice connection and stops all background
// goroutines. Safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		// Close the input so the downstream detector sees EOF.
		close(c.input)
	})
	return err
}

// recvLoop reads Opus packets from the Discord voice connection, decodes them
// to PCM, and delivers frames to the input channel. Each SSRC keeps its own
// decoder because Opus decoder state is per-stream.
func (c *Connection) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			frame := audio.Frame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}

			select {
			case c.input <- frame:
			default:
				// Channel full — drop the frame rather than block the
				// receive loop. Transient frame loss is tolerated.
			}
		}
	}
}

// sendLoop reads PCM frames from the output channel, converts them to
// Discord's target format (48 kHz stereo), extracts exact Opus frame-sized
// chunks, encodes them, and sends them via the voice connection. The blocking
// write to OpusSend is what paces playback: discordgo consumes one packet per
// 20 ms, so backpressure propagates to the playback controller.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "error", err)
		return
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}}

	speakingSet := false

	var buf []byte

	for {
		select {
		case <-c.done:
			if speakingSet {
				c.setSpeaking(false)
			}
			return
		case frame, ok := <-c.output:
			if !ok {
				return
			}

			if !speakingSet {
				c.setSpeaking(true)
				speakingSet = true
			}

			frame = conv.Convert(frame)
			buf = append(buf, frame.Data...)

			for len(buf) >= opusFrameBytes {
				opus, eErr := enc.encode(buf[:opusFrameBytes])
				if eErr != nil {
					slog.Warn("discord: opus encode error", "error", eErr)
					buf = buf[opusFrameBytes:]
					continue
				}
				buf = buf[opusFrameBytes:]

				select {
				case c.vc.OpusSend <- opus:
				case <-c.done:
					return
				}
			}
		}
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}
