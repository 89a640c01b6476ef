// Package elevenlabs provides an ElevenLabs-backed tts.Service using the
// ElevenLabs streaming WebSocket API. The stream is collected into one blob
// per request: the speech driver wants whole segments, so the adapter drains
// the socket and hands back the concatenated PCM.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	outputSampleRate = 16000
)

// Option is a functional option for configuring the ElevenLabs Service.
type Option func(*Service)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// WithDefaultVoice sets the voice used when Request.VoiceRef is empty.
func WithDefaultVoice(voiceID string) Option {
	return func(s *Service) { s.defaultVoice = voiceID }
}

// Service implements tts.Service backed by the ElevenLabs streaming API.
type Service struct {
	apiKey       string
	model        string
	defaultVoice string

	// endpointFmt is overridden in tests to point at a local server.
	endpointFmt string
}

// New creates a new ElevenLabs Service. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	s := &Service{
		apiKey:      apiKey,
		model:       defaultModel,
		endpointFmt: wsEndpointFmt,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize implements tts.Service. It opens a WebSocket to ElevenLabs,
// sends the whole segment text, flushes, and collects the audio stream into
// one 16 kHz mono blob.
func (s *Service) Synthesize(ctx context.Context, req tts.Request) (types.Blob, error) {
	voice := req.VoiceRef
	if voice == "" {
		voice = s.defaultVoice
	}
	if voice == "" {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize",
			errors.New("elevenlabs: no voice configured"))
	}
	if req.Text == "" {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize",
			errors.New("elevenlabs: text must not be empty"))
	}

	pcm, err := s.stream(ctx, voice, req.Text)
	if err != nil {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize", err)
	}
	if len(pcm) == 0 {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize",
			errors.New("elevenlabs: stream produced no audio"))
	}

	samples := len(pcm) / 2
	return types.Blob{
		PCM:        pcm,
		SampleRate: outputSampleRate,
		Channels:   1,
		Duration:   time.Duration(samples) * time.Second / outputSampleRate,
	}, nil
}

// stream runs one full WebSocket exchange and returns the concatenated PCM.
func (s *Service) stream(ctx context.Context, voiceID, text string) ([]byte, error) {
	wsURL := fmt.Sprintf(s.endpointFmt, voiceID, s.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

	// Initial BOI message authenticates and configures the stream.
	boi := boiMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: vs,
		XiAPIKey:      s.apiKey,
		OutputFormat:  defaultOutputFmt,
	}
	if err := writeJSON(ctx, conn, boi); err != nil {
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	// Reader goroutine drains audio until the server signals the end.
	type readResult struct {
		pcm []byte
		err error
	}
	readDone := make(chan readResult, 1)
	go func() {
		var pcm []byte
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				// A normal closure after isFinal still surfaces as an
				// error from Read; the collected audio decides.
				readDone <- readResult{pcm: pcm, err: err}
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil {
					pcm = append(pcm, chunk...)
				}
			}
			if resp.IsFinal {
				readDone <- readResult{pcm: pcm}
				return
			}
		}
	}()

	// Send the segment text, then the empty-text flush.
	if err := writeJSON(ctx, conn, textMessage{Text: text, VoiceSettings: vs}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	select {
	case res := <-readDone:
		if len(res.pcm) == 0 && res.err != nil {
			return nil, fmt.Errorf("elevenlabs: read audio: %w", res.err)
		}
		return res.pcm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeJSON marshals v and writes it as one text frame.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ensure Service implements tts.Service at compile time.
var _ tts.Service = (*Service)(nil)
