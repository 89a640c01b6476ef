package discord

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/bwmarrin/discordgo"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// newTestConnection creates a Connection suitable for unit testing without
// a real Discord voice connection. It wires up fake OpusSend/OpusRecv channels.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		OpusSend: make(chan []byte, 16),
		OpusRecv: make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:           vc,
		input:        make(chan audio.Frame, inputChannelBuffer),
		output:       make(chan audio.Frame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil }, // no-op for tests
	}
	go c.recvLoop()
	go c.sendLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

// ─── Platform tests ──────────────────────────────────────────────────────────

// TestNewPlatform verifies that New creates a Platform with the expected fields.
func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123")
	if p == nil {
		t.Fatal("New returned nil")
	}
	if p.session != s {
		t.Error("session not stored correctly")
	}
	if p.guildID != "guild-123" {
		t.Errorf("guildID = %q, want %q", p.guildID, "guild-123")
	}
}

// TestClassifyJoinError verifies the mapping from Discord join failures onto
// the fault taxonomy.
func TestClassifyJoinError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want fault.Kind
	}{
		{
			name: "missing permissions",
			err: &discordgo.RESTError{
				Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions},
			},
			want: fault.KindPermissionDenied,
		},
		{
			name: "missing access",
			err: &discordgo.RESTError{
				Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingAccess},
			},
			want: fault.KindPermissionDenied,
		},
		{
			name: "handshake timeout",
			err:  errors.New("timeout waiting for voice"),
			want: fault.KindDeviceBusy,
		},
		{
			name: "other failure",
			err:  errors.New("gateway closed"),
			want: fault.KindUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := classifyJoinError("chan-1", tc.err)
			if got == nil {
				t.Fatal("classifyJoinError returned nil")
			}
			if kind := fault.KindOf(got); kind != tc.want {
				t.Errorf("kind = %v, want %v", kind, tc.want)
			}
		})
	}
}

// ─── Connection tests ─────────────────────────────────────────────────────────

// TestConnection_DisconnectIdempotent verifies that Disconnect can be called
// multiple times without panicking and returns nil on subsequent calls.
func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		err := c.Disconnect()
		// First call may return an error from the fake vc.Disconnect()
		// (which is expected since there's no real connection).
		// Subsequent calls must return nil (no-op).
		if i > 0 && err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

// TestConnection_DisconnectClosesInput verifies that the input channel sees
// EOF after Disconnect so the downstream detector can unwind.
func TestConnection_DisconnectClosesInput(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case _, ok := <-c.Input():
		if ok {
			t.Fatal("Input delivered a frame after Disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("Input not closed after Disconnect")
	}
}

// TestConnection_RecvMerges verifies that incoming Opus packets from any SSRC
// are decoded and delivered on the single input stream.
func TestConnection_RecvMerges(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	// Opus silence frame: 0xF8 0xFF 0xFE (3 bytes).
	silenceOpus := []byte{0xF8, 0xFF, 0xFE}

	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	for i := 0; i < 2; i++ {
		select {
		case frame := <-c.Input():
			if frame.SampleRate != opusSampleRate {
				t.Errorf("frame %d: SampleRate = %d, want %d", i, frame.SampleRate, opusSampleRate)
			}
			if frame.Channels != opusChannels {
				t.Errorf("frame %d: Channels = %d, want %d", i, frame.Channels, opusChannels)
			}
			if len(frame.Data) == 0 {
				t.Errorf("frame %d: data is empty", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

// TestConnection_SendEncodes verifies that frames written to Output are
// encoded and appear on OpusSend.
func TestConnection_SendEncodes(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)

	// One 20 ms stereo 48 kHz frame:
	// 960 samples * 2 channels * 2 bytes/sample = 3840 bytes.
	pcmSize := opusFrameSize * opusChannels * 2
	frame := audio.Frame{
		Data:       make([]byte, pcmSize),
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	}

	c.Output() <- frame

	select {
	case opus := <-c.vc.OpusSend:
		if len(opus) == 0 {
			t.Error("OpusSend: received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet on OpusSend")
	}
}

// TestConnection_ConcurrentDisconnect exercises Disconnect from multiple
// goroutines to verify thread safety (run with -race).
func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}
