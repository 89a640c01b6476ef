// Package anyllm provides a universal gen.Service backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	s, err := anyllm.New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-..."))
//	s, err := anyllm.NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/gen"
)

// proactivePrompt stands in for the user message on keep-alive turns.
const proactivePrompt = "The user has gone quiet. Gently re-engage them, " +
	"picking up on the most recent topic. Keep it to one or two sentences."

// Service implements gen.Service by wrapping github.com/mozilla-ai/any-llm-go.
type Service struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Service backed by the given LLM provider name.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// model is the default model (e.g., "gpt-4o", "claude-3-5-sonnet-latest");
// Request.ModelRef still wins per call.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). If no API key option is provided, the provider
// falls back to the relevant environment variable (e.g., OPENAI_API_KEY).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Service, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Service{backend: backend, model: model}, nil
}

// NewOpenAI creates a Service backed by OpenAI.
// Without options, it reads the OPENAI_API_KEY environment variable.
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Service, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Service backed by Anthropic.
// Without options, it reads the ANTHROPIC_API_KEY environment variable.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Service, error) {
	return New("anthropic", model, opts...)
}

// NewGemini creates a Service backed by Google Gemini.
// Without options, it reads the GEMINI_API_KEY or GOOGLE_API_KEY environment variable.
func NewGemini(model string, opts ...anyllmlib.Option) (*Service, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Service backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Service, error) {
	return New("ollama", model, opts...)
}

// NewGroq creates a Service backed by Groq.
// Without options, it reads the GROQ_API_KEY environment variable.
func NewGroq(model string, opts ...anyllmlib.Option) (*Service, error) {
	return New("groq", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given
// provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Generate implements gen.Service.
func (s *Service) Generate(ctx context.Context, req gen.Request) (gen.Reply, error) {
	if req.Credentials.ID == "" {
		return gen.Reply{}, fault.New(fault.KindSessionExpired, "gen.generate",
			errors.New("anyllm: request carries no session credentials"))
	}

	params, err := s.buildParams(req)
	if err != nil {
		return gen.Reply{}, fault.New(fault.KindGenerationFailed, "gen.generate", err)
	}

	resp, err := s.backend.Completion(ctx, params)
	if err != nil {
		return gen.Reply{}, fault.New(fault.KindGenerationFailed, "gen.generate",
			fmt.Errorf("anyllm: completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return gen.Reply{}, fault.New(fault.KindGenerationFailed, "gen.generate",
			errors.New("anyllm: empty choices in response"))
	}

	return gen.Reply{
		Text: strings.TrimSpace(resp.Choices[0].Message.ContentString()),
	}, nil
}

// buildParams converts a gen.Request into anyllm CompletionParams. The
// context lines become the system prompt verbatim, in order.
func (s *Service) buildParams(req gen.Request) (anyllmlib.CompletionParams, error) {
	var messages []anyllmlib.Message

	if len(req.Context) > 0 {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: strings.Join(req.Context, "\n"),
		})
	}

	switch {
	case req.UserText != "":
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleUser,
			Content: req.UserText,
		})
	case req.Proactive:
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleUser,
			Content: proactivePrompt,
		})
	default:
		return anyllmlib.CompletionParams{},
			errors.New("anyllm: request has neither user text nor proactive flag")
	}

	model := req.ModelRef
	if model == "" {
		model = s.model
	}

	return anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}, nil
}

// Ensure Service implements gen.Service at compile time.
var _ gen.Service = (*Service)(nil)
