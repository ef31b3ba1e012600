package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

const directSystemPrompt = `You answer questions about a clinical trial document. Answer only from the document, be concise, and say so plainly when the document does not contain the answer.`

// DirectProvider sends the PDF itself to Claude with native citations enabled.
type DirectProvider struct {
	claude  *llm.ClaudeClient
	fetcher documents.Fetcher
	log     logger.Logger
}

// NewDirectProvider creates the provider. A nil claude client makes it
// unavailable.
func NewDirectProvider(claude *llm.ClaudeClient, fetcher documents.Fetcher, log logger.Logger) *DirectProvider {
	return &DirectProvider{claude: claude, fetcher: fetcher, log: log}
}

func (p *DirectProvider) Kind() models.ProviderKind { return models.ProviderDirect }

func (p *DirectProvider) Available() bool { return p.claude != nil && p.fetcher != nil }

func (p *DirectProvider) Answer(ctx context.Context, params QueryParams) (*models.UnifiedAnswerResponse, error) {
	data, err := p.fetcher.Fetch(ctx, params.Document)
	if err != nil {
		return nil, err
	}
	if !documents.IsPDF(data) {
		return nil, &documents.FetchError{
			DocumentID: params.documentID(),
			Source:     "direct",
			Cause:      fmt.Errorf("document is %s, not a PDF", documents.DetectDocumentType(data)),
		}
	}

	reply, err := p.claude.AskDocument(ctx, llm.DocumentQuestion{
		Question: params.Question,
		Title:    params.Document.Name,
		PDF:      data,
		System:   directSystemPrompt,
	})
	if err != nil {
		return nil, err
	}

	out := &models.UnifiedAnswerResponse{
		Content: withPageMarkers(reply.Blocks),
		Sources: []models.Citation{},
		Usage:   &reply.Usage,
	}
	seen := make(map[int]bool)
	for _, c := range reply.Citations() {
		end := c.EndPage
		if end <= c.StartPage {
			end = c.StartPage + 1
		}
		for page := c.StartPage; page < end; page++ {
			if !seen[page] {
				seen[page] = true
				out.PageReferences = append(out.PageReferences, page)
			}
		}
		out.Sources = append(out.Sources, models.Citation{
			Page:      c.StartPage,
			Section:   fmt.Sprintf("Page %d", c.StartPage),
			ExactText: c.CitedText,
			Relevance: models.RelevanceHigh,
		})
	}
	if len(out.PageReferences) == 0 {
		p.log.Debug("Claude returned no page citations for %s; falling back to inline markers", params.documentID())
	}
	return out, nil
}

// withPageMarkers renders the reply text with a [Page n: 'quote'] marker after
// every cited block.
func withPageMarkers(blocks []llm.AnswerBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
		for _, c := range b.Citations {
			if c.CitedText == "" {
				fmt.Fprintf(&sb, " [P%d]", c.StartPage)
				continue
			}
			fmt.Fprintf(&sb, " [Page %d: %s]", c.StartPage, quoteForMarker(c.CitedText))
		}
	}
	return strings.TrimSpace(sb.String())
}

// quoteForMarker picks a quote character that does not occur in s.
func quoteForMarker(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	switch {
	case !strings.Contains(s, "'"):
		return "'" + s + "'"
	case !strings.Contains(s, `"`):
		return `"` + s + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", "’") + "'"
}
