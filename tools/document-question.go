package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/operations"
	"github.com/Epistemic-Technology/trialqa/internal/storage"
	"github.com/Epistemic-Technology/trialqa/models"
)

// DocumentRef names the document a question is about. Exactly one of URL,
// ZoteroID or FilePath should be set.
type DocumentRef struct {
	DocumentID string `json:"document_id,omitempty"`
	Name       string `json:"name,omitempty"`
	URL        string `json:"url,omitempty"`
	ZoteroID   string `json:"zotero_id,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
}

func (d DocumentRef) locator() (models.DocumentLocator, error) {
	loc := models.DocumentLocator{
		ID:       d.DocumentID,
		Name:     d.Name,
		URL:      strings.TrimSpace(d.URL),
		ZoteroID: strings.TrimSpace(d.ZoteroID),
		FilePath: strings.TrimSpace(d.FilePath),
	}
	if loc.URL == "" && loc.ZoteroID == "" && loc.FilePath == "" {
		return loc, errors.New("one of url, zotero_id or file_path is required")
	}
	return loc, nil
}

type DocumentQuestionQuery struct {
	Question string      `json:"question"`
	Document DocumentRef `json:"document"`
	UserID   string      `json:"user_id,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	// Saving requires a trial id.
	Save    bool     `json:"save,omitempty"`
	TrialID string   `json:"trial_id,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type DocumentQuestionResponse struct {
	Answer         string            `json:"answer"`
	RawAnswer      string            `json:"raw_answer"`
	Provider       string            `json:"provider"`
	PageReferences []int             `json:"page_references"`
	Citations      []models.Citation `json:"citations"`
	Confidence     float64           `json:"confidence"`
	Strategy       string            `json:"strategy,omitempty"`
	Usage          *models.Usage     `json:"usage,omitempty"`
	ItemID         string            `json:"item_id,omitempty"`
	ResourcePaths  []string          `json:"resource_paths,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
}

func DocumentQuestionTool() *mcp.Tool {
	inputschema, err := jsonschema.For[DocumentQuestionQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "document-question",
		Description: "Ask a question about a clinical trial document (protocol, CSR, publication). Returns the answer together with verbatim page citations, each with a relevance tier and a link that opens the PDF at the quoted passage. Set save with a trial_id to keep the answer in the trial's Q&A log.",
		InputSchema: inputschema,
	}
}

func DocumentQuestionToolHandler(ctx context.Context, req *mcp.CallToolRequest, query DocumentQuestionQuery, pipeline *operations.Pipeline, log logger.Logger) (*mcp.CallToolResult, *DocumentQuestionResponse, error) {
	log.Info("document-question tool called")

	loc, err := query.Document.locator()
	if err != nil {
		return nil, nil, err
	}

	result, err := pipeline.AskQuestion(ctx, operations.QuestionRequest{
		Question:    query.Question,
		Document:    loc,
		UserID:      query.UserID,
		TrialID:     query.TrialID,
		Save:        query.Save,
		Tags:        query.Tags,
		ResultLimit: query.Limit,
	})
	if err != nil {
		log.Error("document-question tool failed: %v", err)
		return nil, nil, err
	}

	response := &DocumentQuestionResponse{
		Answer:         result.DisplayAnswer,
		RawAnswer:      result.Answer.Content,
		Provider:       string(result.Answer.ProviderUsed),
		PageReferences: result.PageReferences,
		Citations:      result.Citations.Citations,
		Confidence:     result.Citations.Confidence,
		Strategy:       result.Citations.Strategy,
		Usage:          result.Answer.Usage,
		ItemID:         result.ItemID,
		Warnings:       result.Warnings,
	}
	if result.ItemID != "" {
		response.ResourcePaths = storage.CalculateResourcePaths(&models.QAItem{ID: result.ItemID, TrialID: query.TrialID})
	}
	return nil, response, nil
}
