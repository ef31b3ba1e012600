// Package answer generates answers to questions about trial documents. Several
// services can answer; the Router walks them in a fixed fallback order.
package answer

import (
	"context"

	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/models"
)

// QueryParams is one question about one document.
type QueryParams struct {
	Question   string
	DocumentID string
	Document   models.DocumentLocator
	UserID     string
	// ResultLimit caps how many sources a provider should return. Zero means
	// the provider default.
	ResultLimit int
}

// documentID returns the explicit id, else the cache identity of the locator.
func (p QueryParams) documentID() string {
	if p.DocumentID != "" {
		return p.DocumentID
	}
	return documents.Key(p.Document)
}

// Provider is an answer-generation service.
type Provider interface {
	Kind() models.ProviderKind
	// Available reports whether the provider has the credentials it needs.
	Available() bool
	Answer(ctx context.Context, params QueryParams) (*models.UnifiedAnswerResponse, error)
}
