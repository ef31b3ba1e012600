package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/Epistemic-Technology/trialqa/internal/citations"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

// OpenAIMatcher is the primary citation matcher. It sends the full text of
// every page to the Responses API with a strict JSON schema output format.
type OpenAIMatcher struct {
	client  openai.Client
	model   string
	limiter *Limiter
	log     logger.Logger
}

// NewOpenAIMatcher creates the matcher. An empty model selects gpt-5-mini.
func NewOpenAIMatcher(apiKey, model string, limiter *Limiter, log logger.Logger, opts ...option.RequestOption) *OpenAIMatcher {
	if model == "" {
		model = shared.ChatModelGPT5Mini
	}
	if limiter == nil {
		limiter = NewLimiter("openai", 0, 0, log)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIMatcher{
		client:  openai.NewClient(opts...),
		model:   model,
		limiter: limiter,
		log:     log,
	}
}

func (m *OpenAIMatcher) Name() string { return "openai" }

func (m *OpenAIMatcher) Match(ctx context.Context, req citations.MatchRequest) (*models.ExtractionResult, error) {
	system, user := citationPrompt(req, 0, false)
	m.log.Debug("Calling OpenAI %s for citations over %d pages", m.model, len(req.Pages))

	response, err := RateLimitedCall(ctx, m.limiter, estimateTokens(system, user), func(ctx context.Context) (*responses.Response, error) {
		return m.client.Responses.New(ctx, responses.ResponseNewParams{
			Model:        m.model,
			Instructions: openai.String(system),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: openai.String(user),
			},
			Text: responses.ResponseTextConfigParam{
				Format: responses.ResponseFormatTextConfigParamOfJSONSchema("citations", citationResultSchema),
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("openai citation request: %w", err)
	}

	result, err := ParseCitationOutput(response.OutputText())
	if err != nil {
		return nil, err
	}
	result.Strategy = m.Name()
	return result, nil
}
