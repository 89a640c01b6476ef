// Package audio defines the interfaces and types for audio platform
// connectivity within Antiphon.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a voice channel and returns a [Connection].
//   - [Connection] — an active full-duplex audio session: one microphone
//     input stream and one output stream.
//
// Implementations are provided by platform-specific adapter packages (e.g.,
// audio/discord for voice channels, audio/mock for tests). The interfaces are
// intentionally narrow: the capture detector only needs input frames, the
// playback controller only needs an output sink, and neither knows which
// platform is behind them.
//
// This package lives under pkg/ because external code (third-party platform
// adapters) is expected to implement [Platform] and [Connection].
package audio

import "context"

// Connection represents an active full-duplex session on an audio platform.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Disconnect] is called. The input channel is closed automatically
// when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Input returns the read-only stream of microphone frames. The channel is
	// owned by the connection and is closed on Disconnect or when the platform
	// loses the stream. Exactly one component (the voice activity detector)
	// should consume it.
	Input() <-chan Frame

	// Output returns the single write-only channel for agent audio. The
	// channel is buffered; the platform paces reads at playback rate, so
	// writes apply backpressure to the writer.
	//
	// Ownership: the returned channel is owned by the writer. The platform
	// does NOT close it on Disconnect — writes after Disconnect result in
	// dropped frames, not a panic.
	Output() chan<- Frame

	// Disconnect cleanly tears the session down, drains pending frames, and
	// closes the input channel. Safe to call more than once; subsequent calls
	// are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for an audio provider. Implementations wrap
// provider-specific SDKs and expose a uniform [Connection] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the audio channel identified by channelID and returns an
	// active [Connection]. The supplied ctx governs the connection attempt
	// only; once established, the Connection lives until
	// [Connection.Disconnect].
	//
	// Returns an error if the connection cannot be established (permission
	// denied, device busy, unknown channel, network error).
	Connect(ctx context.Context, channelID string) (Connection, error)
}
