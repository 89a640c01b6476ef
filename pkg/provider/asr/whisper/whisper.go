// Package whisper provides local whisper.cpp-backed asr.Service
// implementations.
//
// Two variants exist. ServerService talks to a running whisper-server binary
// (which exposes a REST API at POST /inference); NativeService links
// whisper.cpp directly via CGO. Both are batch engines: one utterance blob
// in, one transcript out, which matches the asr.Service contract exactly.
//
// Usage:
//
//	s, err := whisper.NewServer("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	res, err := s.Transcribe(ctx, req)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/antiphonlabs/antiphon/pkg/audio"
	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
)

const defaultLanguage = "en"

// Compile-time assertion that ServerService implements asr.Service.
var _ asr.Service = (*ServerService)(nil)

// Option is a functional option for configuring a ServerService.
type Option func(*ServerService)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default. Request.ModelHint still wins per
// call.
func WithModel(model string) Option {
	return func(s *ServerService) { s.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(s *ServerService) { s.language = lang }
}

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *ServerService) { s.httpClient = c }
}

// ServerService implements asr.Service backed by a whisper.cpp HTTP server.
// It is safe for concurrent use; the server serialises inference itself.
type ServerService struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// NewServer creates a ServerService that connects to the whisper.cpp HTTP
// server at serverURL (e.g., "http://localhost:8080"). serverURL must be
// non-empty.
func NewServer(serverURL string, opts ...Option) (*ServerService, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &ServerService{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe implements asr.Service. The blob is wrapped in a WAV container
// and POSTed to the server's /inference endpoint as multipart/form-data.
func (s *ServerService) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if req.Credentials.ID == "" {
		return asr.Result{}, fault.New(fault.KindSessionExpired, "asr.transcribe",
			errors.New("whisper: request carries no session credentials"))
	}
	if req.Audio.Empty() {
		return asr.Result{}, fault.New(fault.KindTranscriptionFailed, "asr.transcribe",
			errors.New("whisper: audio blob is empty"))
	}

	model := req.ModelHint
	if model == "" {
		model = s.model
	}

	text, err := s.infer(ctx, req.Audio.PCM, req.Audio.SampleRate, req.Audio.Channels, model)
	if err != nil {
		return asr.Result{}, fault.New(fault.KindTranscriptionFailed, "asr.transcribe", err)
	}
	return asr.Result{Text: text, Duration: req.Audio.Duration}, nil
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint. It returns the transcribed text or an error.
func (s *ServerService) infer(ctx context.Context, pcm []byte, sampleRate, channels int, model string) (string, error) {
	wav := audio.EncodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := s.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return result.Text, nil
}
