package answer

import (
	"context"
	"fmt"

	"github.com/Epistemic-Technology/trialqa/models"
)

// MockProvider answers deterministically without any network access.
type MockProvider struct{}

func (MockProvider) Kind() models.ProviderKind { return models.ProviderMock }

func (MockProvider) Available() bool { return true }

func (MockProvider) Answer(ctx context.Context, params QueryParams) (*models.UnifiedAnswerResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &models.UnifiedAnswerResponse{
		Content: fmt.Sprintf("Mock answer to %q. The study design is described on the first page [P1] and the eligibility criteria follow [P2].", params.Question),
		Sources: []models.Citation{},
		Usage:   &models.Usage{},
	}, nil
}
