package models

import "time"

// DocumentLocator identifies a trial document. Exactly one of URL, ZoteroID or
// FilePath is expected to be set; the rest is informational.
type DocumentLocator struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url,omitempty"`
	ZoteroID string `json:"zotero_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// PageText is the extracted text of a single 1-based page.
// Content is whitespace-normalised within each line, but line breaks are kept
// so the heading on the first line can name the section. Quotes are matched
// against it with whitespace differences ignored.
// Placeholder is set when no strategy could read the page; Content then holds
// a notice rather than document text.
type PageText struct {
	PageNumber  int    `json:"page_number"`
	Content     string `json:"content"`
	Placeholder bool   `json:"placeholder,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
}

// Relevance is the coarse three-level ranking of a citation.
type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

// Rank orders relevance tiers; unknown values rank below low.
func (r Relevance) Rank() int {
	switch r {
	case RelevanceHigh:
		return 3
	case RelevanceMedium:
		return 2
	case RelevanceLow:
		return 1
	default:
		return 0
	}
}

// ParseRelevance normalises a model-supplied tier, defaulting to low.
func ParseRelevance(s string) Relevance {
	switch Relevance(s) {
	case RelevanceHigh, RelevanceMedium, RelevanceLow:
		return Relevance(s)
	}
	return RelevanceLow
}

type Citation struct {
	Page          int       `json:"page"`
	Section       string    `json:"section"`
	ExactText     string    `json:"exact_text,omitempty"`
	Relevance     Relevance `json:"relevance"`
	Context       string    `json:"context,omitempty"`
	HighlightURL  string    `json:"highlight_url,omitempty"`
	Verified      bool      `json:"verified"`
	LowConfidence bool      `json:"low_confidence,omitempty"`
}

// ExtractionResult is the terminal output of the citation pipeline.
type ExtractionResult struct {
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Strategy   string     `json:"strategy,omitempty"`
}

// ProviderKind enumerates the answer-generation services.
type ProviderKind string

const (
	ProviderBackend ProviderKind = "backend"
	ProviderChatPDF ProviderKind = "chatpdf"
	ProviderDirect  ProviderKind = "direct"
	ProviderMock    ProviderKind = "mock"
)

// ParseProviderKind returns false for unknown provider names.
func ParseProviderKind(s string) (ProviderKind, bool) {
	switch ProviderKind(s) {
	case ProviderBackend, ProviderChatPDF, ProviderDirect, ProviderMock:
		return ProviderKind(s), true
	}
	return "", false
}

type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// UnifiedAnswerResponse is the provider-independent answer shape.
// PageReferences holds structured page numbers when the provider returned
// them natively; text-marker parsing is skipped in that case.
type UnifiedAnswerResponse struct {
	Content        string       `json:"content"`
	Sources        []Citation   `json:"sources"`
	ProviderUsed   ProviderKind `json:"provider_used"`
	Usage          *Usage       `json:"usage,omitempty"`
	PageReferences []int        `json:"page_references,omitempty"`
}

// QAItem is a persisted question/answer record for a trial.
type QAItem struct {
	ID         string     `json:"id"`
	TrialID    string     `json:"trial_id"`
	DocumentID string     `json:"document_id,omitempty"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Tags       []string   `json:"tags,omitempty"`
	Source     string     `json:"source,omitempty"`
	Sources    []Citation `json:"sources,omitempty"`
	Verified   bool       `json:"verified"`
	CreatedAt  time.Time  `json:"created_at"`
}

// QAFilter narrows a Q&A search. Zero values mean "any".
type QAFilter struct {
	TrialID    string
	DocumentID string
	Query      string
	Tag        string
	Verified   *bool
	Limit      int
}
