package tools

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/trialqa/internal/config"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/operations"
)

type TrialDocumentsQuery struct {
	TrialID    string `json:"trial_id,omitempty"`   // Registry id, e.g. NCT01234567
	Query      string `json:"query,omitempty"`      // Extra search text
	Collection string `json:"collection,omitempty"` // Zotero collection key
	Limit      int    `json:"limit,omitempty"`      // Max items (default 25)
}

type TrialDocumentsResponse struct {
	Documents []operations.TrialDocument `json:"documents"`
	Count     int                        `json:"count"`
}

func TrialDocumentsTool() *mcp.Tool {
	inputschema, err := jsonschema.For[TrialDocumentsQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "trial-documents",
		Description: "Find the PDF documents for a trial in the configured Zotero library. Pass a returned locator's zotero_id to document-question.",
		InputSchema: inputschema,
	}
}

func TrialDocumentsToolHandler(ctx context.Context, req *mcp.CallToolRequest, query TrialDocumentsQuery, cfg *config.Config, log logger.Logger) (*mcp.CallToolResult, *TrialDocumentsResponse, error) {
	log.Info("trial-documents tool called")

	docs, err := operations.FindTrialDocuments(ctx, cfg.Zotero.APIKey, cfg.Zotero.LibraryID, operations.TrialDocumentQuery{
		TrialID:    query.TrialID,
		Query:      query.Query,
		Collection: query.Collection,
		Limit:      query.Limit,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	if docs == nil {
		docs = []operations.TrialDocument{}
	}
	return nil, &TrialDocumentsResponse{Documents: docs, Count: len(docs)}, nil
}
