// This file contains the NativeService implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/asr"
)

// Compile-time assertion that NativeService satisfies asr.Service.
var _ asr.Service = (*NativeService)(nil)

// NativeService implements asr.Service using whisper.cpp Go bindings (CGO),
// eliminating HTTP overhead entirely. The model is loaded once at startup
// and shared across all sessions; each Transcribe call runs on its own
// whisper context so concurrent calls do not interfere.
type NativeService struct {
	model    whisperlib.Model
	language string

	// mu serialises inference. whisper.cpp contexts are cheap but the
	// underlying model evaluation is CPU-bound; running utterances
	// back to back keeps latency predictable on small hosts.
	mu sync.Mutex
}

// NativeOption is a functional option for configuring a NativeService.
type NativeOption func(*NativeService)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(s *NativeService) { s.language = lang }
}

// NewNative creates a NativeService that loads the whisper.cpp model from
// the given file path. The caller must call Close when the service is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeService, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	s := &NativeService{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the whisper model. Must be called when the service is no
// longer needed.
func (s *NativeService) Close() error {
	if s.model != nil {
		return s.model.Close()
	}
	return nil
}

// Transcribe implements asr.Service. The utterance blob is down-mixed to
// mono float32 and run through whisper.cpp as one batch inference.
// Request.ModelHint is ignored: the model was fixed at load time.
func (s *NativeService) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	if req.Credentials.ID == "" {
		return asr.Result{}, fault.New(fault.KindSessionExpired, "asr.transcribe",
			errors.New("whisper: request carries no session credentials"))
	}
	if req.Audio.Empty() {
		return asr.Result{}, fault.New(fault.KindTranscriptionFailed, "asr.transcribe",
			errors.New("whisper: audio blob is empty"))
	}
	if err := ctx.Err(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if req.ModelHint != "" {
		slog.Debug("whisper: ignoring model hint, native model is fixed",
			"hint", req.ModelHint)
	}

	samples := pcmToFloat32Mono(req.Audio.PCM, req.Audio.Channels)

	s.mu.Lock()
	text, err := s.infer(samples)
	s.mu.Unlock()
	if err != nil {
		return asr.Result{}, fault.New(fault.KindTranscriptionFailed, "asr.transcribe", err)
	}

	return asr.Result{Text: text, Duration: req.Audio.Duration}, nil
}

// infer runs whisper.cpp inference using a fresh context and returns the
// concatenated segment text.
func (s *NativeService) infer(samples []float32) (string, error) {
	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", s.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
