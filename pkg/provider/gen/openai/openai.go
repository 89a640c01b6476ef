// Package openai provides a gen.Service backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/antiphonlabs/antiphon/pkg/fault"
	"github.com/antiphonlabs/antiphon/pkg/provider/gen"
)

// proactivePrompt stands in for the user message on keep-alive turns, where
// there is no user submission to answer.
const proactivePrompt = "The user has gone quiet. Gently re-engage them, " +
	"picking up on the most recent topic. Keep it to one or two sentences."

// Service implements gen.Service using the OpenAI API.
type Service struct {
	client      oai.Client
	model       string
	temperature float64
	maxTokens   int
}

// config holds optional configuration for the service.
type config struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// Option is a functional option for Service.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the default model. Request.ModelRef still wins per call.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithMaxTokens caps the reply length in tokens.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI generation service.
func New(apiKey string, model string, opts ...Option) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{model: model}
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
		client:      oai.NewClient(reqOpts...),
		model:       cfg.model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}, nil
}

// Generate implements gen.Service.
func (s *Service) Generate(ctx context.Context, req gen.Request) (gen.Reply, error) {
	if req.Credentials.ID == "" {
		return gen.Reply{}, fault.New(fault.KindSessionExpired, "gen.generate",
			errors.New("openai: request carries no session credentials"))
	}

	params, err := s.buildParams(req)
	if err != nil {
		return gen.Reply{}, fault.New(fault.KindGenerationFailed, "gen.generate", err)
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return gen.Reply{}, fault.New(fault.KindGenerationFailed, "gen.generate",
			fmt.Errorf("openai: chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return gen.Reply{}, fault.New(fault.KindGenerationFailed, "gen.generate",
			errors.New("openai: empty choices in response"))
	}

	return gen.Reply{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
	}, nil
}

// buildParams converts a gen.Request into OpenAI SDK params. The context
// lines become the system prompt verbatim, in order.
func (s *Service) buildParams(req gen.Request) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if len(req.Context) > 0 {
		messages = append(messages, oai.SystemMessage(strings.Join(req.Context, "\n")))
	}

	switch {
	case req.UserText != "":
		messages = append(messages, oai.UserMessage(req.UserText))
	case req.Proactive:
		messages = append(messages, oai.UserMessage(proactivePrompt))
	default:
		return oai.ChatCompletionNewParams{},
			errors.New("openai: request has neither user text nor proactive flag")
	}

	model := req.ModelRef
	if model == "" {
		model = s.model
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if s.temperature != 0 {
		params.Temperature = param.NewOpt(s.temperature)
	}
	if s.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(s.maxTokens))
	}
	return params, nil
}

// Ensure Service implements gen.Service at compile time.
var _ gen.Service = (*Service)(nil)
