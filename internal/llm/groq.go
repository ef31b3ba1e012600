package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Epistemic-Technology/trialqa/internal/citations"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "llama-3.1-8b-instant"

	// groqPageChars keeps the secondary prompt inside small context windows.
	groqPageChars = 800
)

// GroqMatcher is the lower-cost secondary matcher. Groq speaks the OpenAI chat
// completions protocol, so it reuses the OpenAI client with another base URL.
type GroqMatcher struct {
	client  openai.Client
	model   string
	limiter *Limiter
	log     logger.Logger
}

func NewGroqMatcher(apiKey, model, baseURL string, limiter *Limiter, log logger.Logger, opts ...option.RequestOption) *GroqMatcher {
	if model == "" {
		model = DefaultGroqModel
	}
	if baseURL == "" {
		baseURL = DefaultGroqBaseURL
	}
	if limiter == nil {
		limiter = NewLimiter("groq", 5000, 12000, log)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithBaseURL(baseURL)}, opts...)
	return &GroqMatcher{
		client:  openai.NewClient(opts...),
		model:   model,
		limiter: limiter,
		log:     log,
	}
}

func (m *GroqMatcher) Name() string { return "groq" }

func (m *GroqMatcher) Match(ctx context.Context, req citations.MatchRequest) (*models.ExtractionResult, error) {
	system, user := citationPrompt(req, groqPageChars, true)
	m.log.Debug("Calling Groq %s for citations over %d pages", m.model, len(req.Pages))

	completion, err := RateLimitedCall(ctx, m.limiter, estimateTokens(system, user), func(ctx context.Context) (*openai.ChatCompletion, error) {
		return m.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: m.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			Temperature: openai.Float(0),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("groq citation request: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, errors.New("no choices in completion"))
	}

	result, err := ParseCitationOutput(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	result.Strategy = m.Name()
	return result, nil
}
