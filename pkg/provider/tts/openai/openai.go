// Package openai provides a tts.Service backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/tts"
	"github.com/antiphonlabs/antiphon/pkg/types"
)

// The speech endpoint's raw PCM output is fixed: 24 kHz, 16-bit, mono.
const (
	pcmSampleRate = 24000
	defaultVoice  = "alloy"
)

// Service implements tts.Service using the OpenAI speech endpoint.
type Service struct {
	client       oai.Client
	model        string
	defaultVoice string
}

// config holds optional configuration for the service.
type config struct {
	baseURL string
	model   string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Service.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithDefaultVoice sets the voice used when Request.VoiceRef is empty.
// Defaults to "alloy".
func WithDefaultVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI speech service.
func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{
		model: string(oai.SpeechModelTTS1),
		voice: defaultVoice,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Service{
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		defaultVoice: cfg.voice,
	}, nil
}

// Synthesize implements tts.Service. The response body is raw 24 kHz mono
// PCM, read to completion and wrapped in a blob.
func (s *Service) Synthesize(ctx context.Context, req tts.Request) (types.Blob, error) {
	if req.Text == "" {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize",
			errors.New("openai: text must not be empty"))
	}

	voice := req.VoiceRef
	if voice == "" {
		voice = s.defaultVoice
	}

	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize",
			fmt.Errorf("openai: speech: %w", err))
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize",
			fmt.Errorf("openai: read audio: %w", err))
	}
	if len(pcm) == 0 {
		return types.Blob{}, fault.New(fault.KindSynthesisFailed, "tts.synthesize",
			errors.New("openai: speech returned no audio"))
	}

	samples := len(pcm) / 2
	return types.Blob{
		PCM:        pcm,
		SampleRate: pcmSampleRate,
		Channels:   1,
		Duration:   time.Duration(samples) * time.Second / pcmSampleRate,
	}, nil
}

// Ensure Service implements tts.Service at compile time.
var _ tts.Service = (*Service)(nil)
