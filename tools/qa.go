package tools

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/storage"
	"github.com/Epistemic-Technology/trialqa/models"
)

type QASearchQuery struct {
	TrialID    string `json:"trial_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Query      string `json:"query,omitempty"` // Text matched against question and answer
	Tag        string `json:"tag,omitempty"`
	Verified   *bool  `json:"verified,omitempty"`
	Limit      int    `json:"limit,omitempty"` // Max results (default 50)
}

type QASearchResponse struct {
	Items []models.QAItem `json:"items"`
	Count int             `json:"count"`
}

type QAItemQuery struct {
	ItemID string `json:"item_id"`
}

type QAVerifyQuery struct {
	ItemID   string `json:"item_id"`
	Verified *bool  `json:"verified,omitempty"` // Defaults to true
}

type QAItemResponse struct {
	ItemID   string `json:"item_id"`
	Verified bool   `json:"verified,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

var errNoStore = errors.New("Q&A storage is not configured")

func QASearchTool() *mcp.Tool {
	inputschema, err := jsonschema.For[QASearchQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "qa-search",
		Description: "Search saved questions and answers by trial, document, text, tag or review status. Results are newest first and include their citations.",
		InputSchema: inputschema,
	}
}

func QASearchToolHandler(ctx context.Context, req *mcp.CallToolRequest, query QASearchQuery, store storage.QAStore, log logger.Logger) (*mcp.CallToolResult, *QASearchResponse, error) {
	log.Info("qa-search tool called")
	if store == nil {
		return nil, nil, errNoStore
	}

	items, err := store.SearchItems(ctx, models.QAFilter{
		TrialID:    query.TrialID,
		DocumentID: query.DocumentID,
		Query:      query.Query,
		Tag:        query.Tag,
		Verified:   query.Verified,
		Limit:      query.Limit,
	})
	if err != nil {
		return nil, nil, err
	}
	return nil, &QASearchResponse{Items: items, Count: len(items)}, nil
}

func QAVerifyTool() *mcp.Tool {
	inputschema, err := jsonschema.For[QAVerifyQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "qa-verify",
		Description: "Mark a saved answer as checked by a reviewer, or clear the mark with verified=false.",
		InputSchema: inputschema,
	}
}

func QAVerifyToolHandler(ctx context.Context, req *mcp.CallToolRequest, query QAVerifyQuery, store storage.QAStore, log logger.Logger) (*mcp.CallToolResult, *QAItemResponse, error) {
	log.Info("qa-verify tool called")
	if store == nil {
		return nil, nil, errNoStore
	}
	verified := true
	if query.Verified != nil {
		verified = *query.Verified
	}
	if err := store.SetVerified(ctx, query.ItemID, verified); err != nil {
		return nil, nil, err
	}
	return nil, &QAItemResponse{ItemID: query.ItemID, Verified: verified}, nil
}

func QADeleteTool() *mcp.Tool {
	inputschema, err := jsonschema.For[QAItemQuery](nil)
	if err != nil {
		panic(err)
	}
	return &mcp.Tool{
		Name:        "qa-delete",
		Description: "Delete a saved question and answer with its citations.",
		InputSchema: inputschema,
	}
}

func QADeleteToolHandler(ctx context.Context, req *mcp.CallToolRequest, query QAItemQuery, store storage.QAStore, log logger.Logger) (*mcp.CallToolResult, *QAItemResponse, error) {
	log.Info("qa-delete tool called")
	if store == nil {
		return nil, nil, errNoStore
	}
	if err := store.DeleteItem(ctx, query.ItemID); err != nil {
		return nil, nil, err
	}
	return nil, &QAItemResponse{ItemID: query.ItemID, Deleted: true}, nil
}
