package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Epistemic-Technology/trialqa/internal/storage"
	"github.com/Epistemic-Technology/trialqa/models"
)

// QAResourceHandler serves saved Q&A items as qa://{trialId} and
// qa://{trialId}/{itemId} resources.
type QAResourceHandler struct {
	store storage.QAStore
}

func NewQAResourceHandler(store storage.QAStore) *QAResourceHandler {
	return &QAResourceHandler{store: store}
}

// TrialSummary is the body of a qa://{trialId} resource.
type TrialSummary struct {
	TrialID  string          `json:"trial_id"`
	Count    int             `json:"count"`
	Verified int             `json:"verified"`
	Items    []models.QAItem `json:"items"`
}

// ListResources returns one resource per trial that has saved items.
func (h *QAResourceHandler) ListResources(ctx context.Context) ([]*mcp.Resource, error) {
	items, err := h.store.SearchItems(ctx, models.QAFilter{Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("failed to list qa items: %w", err)
	}

	seen := make(map[string]bool)
	var resources []*mcp.Resource
	for _, item := range items {
		if seen[item.TrialID] {
			continue
		}
		seen[item.TrialID] = true
		resources = append(resources, &mcp.Resource{
			URI:         storage.TrialResourceURI(item.TrialID),
			Name:        fmt.Sprintf("%s (Q&A)", item.TrialID),
			Description: fmt.Sprintf("Saved questions and answers for trial %s", item.TrialID),
			MIMEType:    "application/json",
		})
	}
	return resources, nil
}

// ReadResource reads a specific resource by URI
func (h *QAResourceHandler) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	if !strings.HasPrefix(uri, "qa://") {
		return nil, fmt.Errorf("invalid URI scheme, expected qa://")
	}
	parts := strings.Split(strings.TrimPrefix(uri, "qa://"), "/")
	if parts[0] == "" {
		return nil, fmt.Errorf("invalid URI, missing trial ID")
	}
	trialID := parts[0]

	var body any
	switch len(parts) {
	case 1:
		items, err := h.store.SearchItems(ctx, models.QAFilter{TrialID: trialID, Limit: 1000})
		if err != nil {
			return nil, err
		}
		summary := TrialSummary{TrialID: trialID, Count: len(items), Items: items}
		for _, it := range items {
			if it.Verified {
				summary.Verified++
			}
		}
		body = summary
	case 2:
		item, err := h.store.GetItem(ctx, parts[1])
		if errors.Is(err, storage.ErrNotFound) {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		if err != nil {
			return nil, err
		}
		if item.TrialID != trialID {
			return nil, mcp.ResourceNotFoundError(uri)
		}
		body = item
	default:
		return nil, fmt.Errorf("invalid URI: %s", uri)
	}

	content, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
