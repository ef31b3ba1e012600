package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/operations"
	"github.com/Epistemic-Technology/trialqa/models"
)

type CitationsLocateQuery struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer"` // Must carry [P<n>] or [Page n: 'quote'] markers
	Document DocumentRef `json:"document"`
}

type CitationsLocateResponse struct {
	Citations  []models.Citation `json:"citations"`
	Confidence float64           `json:"confidence"`
	Strategy   string            `json:"strategy,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

func CitationsLocateTool() *mcp.Tool {
	inputschema, err := jsonschema.For[CitationsLocateQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "citations-locate",
		Description: "Find verbatim supporting quotes for an answer that was produced elsewhere. The answer must reference pages with [P<n>] or [Page n: 'quote'] markers; the referenced pages and their neighbours are searched.",
		InputSchema: inputschema,
	}
}

func CitationsLocateToolHandler(ctx context.Context, req *mcp.CallToolRequest, query CitationsLocateQuery, pipeline *operations.Pipeline, log logger.Logger) (*mcp.CallToolResult, *CitationsLocateResponse, error) {
	log.Info("citations-locate tool called")

	loc, err := query.Document.locator()
	if err != nil {
		return nil, nil, err
	}

	result, warnings := pipeline.LocateCitations(ctx, query.Question, query.Answer, loc)
	return nil, &CitationsLocateResponse{
		Citations:  result.Citations,
		Confidence: result.Confidence,
		Strategy:   result.Strategy,
		Warnings:   warnings,
	}, nil
}
