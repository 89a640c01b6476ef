// Package openai provides an asr.Service backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
)

// defaultModel is used when neither the adapter nor the request names one.
const defaultModel = oai.AudioModelWhisper1

// Service implements asr.Service using the OpenAI transcription endpoint.
type Service struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the service.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Service.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the default transcription model. Request.ModelHint still
// wins per call.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the ISO-639-1 language hint (e.g. "en").
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI transcription service.
func New(apiKey string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
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
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe implements asr.Service. The blob is wrapped in a WAV container
// and submitted as one batch inference request.
func (s *Service) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if req.Credentials.ID == "" {
		return asr.Result{}, fault.New(fault.KindSessionExpired, "asr.transcribe",
			errors.New("openai: request carries no session credentials"))
	}
	if req.Audio.Empty() {
		return asr.Result{}, fault.New(fault.KindTranscriptionFailed, "asr.transcribe",
			errors.New("openai: audio blob is empty"))
	}

	model := req.ModelHint
	if model == "" {
		model = s.model
	}

	wav := audio.EncodeWAV(req.Audio.PCM, req.Audio.SampleRate, req.Audio.Channels)
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: model,
	}
	if s.language != "" {
		params.Language = oai.String(s.language)
	}

	resp, err := s.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return asr.Result{}, fault.New(fault.KindTranscriptionFailed, "asr.transcribe",
			fmt.Errorf("openai: transcription: %w", err))
	}

	return asr.Result{
		Text:     resp.Text,
		Duration: req.Audio.Duration,
	}, nil
}

// Ensure Service implements asr.Service at compile time.
var _ asr.Service = (*Service)(nil)
