package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

const (
	DefaultClaudeBaseURL = "https://api.anthropic.com"
	DefaultClaudeModel   = "claude-sonnet-4-5"

	anthropicVersion = "2023-06-01"
	claudeMaxTokens  = 2048
)

// ErrDeclined is returned when a model refuses to answer.
var ErrDeclined = errors.New("model declined to answer")

// ClaudeClient calls the Anthropic Messages API with a PDF attached as a
// base64 document block and native citations enabled.
type ClaudeClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	limiter    *Limiter
	log        logger.Logger
}

func NewClaudeClient(httpClient *http.Client, apiKey, model, baseURL string, limiter *Limiter, log logger.Logger) *ClaudeClient {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	if model == "" {
		model = DefaultClaudeModel
	}
	if baseURL == "" {
		baseURL = DefaultClaudeBaseURL
	}
	if limiter == nil {
		limiter = NewLimiter("anthropic", 0, 0, log)
	}
	return &ClaudeClient{
		httpClient: httpClient,
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    limiter,
		log:        log,
	}
}

// DocumentQuestion is a question about one PDF.
type DocumentQuestion struct {
	Question string
	Title    string
	PDF      []byte
	System   string
}

// PageCitation is a page_location citation returned by Claude. EndPage is
// exclusive.
type PageCitation struct {
	CitedText string
	StartPage int
	EndPage   int
}

// AnswerBlock is one text block of the reply with the citations attached to it.
type AnswerBlock struct {
	Text      string
	Citations []PageCitation
}

type DocumentAnswer struct {
	Blocks []AnswerBlock
	Usage  models.Usage
}

// Text joins the text of every block.
func (a *DocumentAnswer) Text() string {
	var sb strings.Builder
	for _, b := range a.Blocks {
		sb.WriteString(b.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Citations returns every page citation in reply order.
func (a *DocumentAnswer) Citations() []PageCitation {
	var out []PageCitation
	for _, b := range a.Blocks {
		out = append(out, b.Citations...)
	}
	return out
}

type claudeContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Citations []struct {
		Type            string `json:"type"`
		CitedText       string `json:"cited_text"`
		DocumentIndex   int    `json:"document_index"`
		DocumentTitle   string `json:"document_title"`
		StartPageNumber int    `json:"start_page_number"`
		EndPageNumber   int    `json:"end_page_number"`
	} `json:"citations"`
}

type claudeResponse struct {
	Content    []claudeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// AskDocument sends the question and document and collects the text blocks
// and page citations of the reply.
func (c *ClaudeClient) AskDocument(ctx context.Context, q DocumentQuestion) (*DocumentAnswer, error) {
	encoded := base64.StdEncoding.EncodeToString(q.PDF)
	document := map[string]any{
		"type": "document",
		"source": map[string]any{
			"type":       "base64",
			"media_type": "application/pdf",
			"data":       encoded,
		},
		"citations": map[string]any{"enabled": true},
	}
	if q.Title != "" {
		document["title"] = q.Title
	}

	body := map[string]any{
		"model":      c.model,
		"max_tokens": claudeMaxTokens,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					document,
					{"type": "text", "text": q.Question},
				},
			},
		},
	}
	if q.System != "" {
		body["system"] = q.System
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	// PDF pages cost roughly 1500-3000 tokens each; the base64 length is a
	// usable proxy for the limiter.
	tokens := estimateTokens(q.Question) + len(encoded)/8
	raw, err := RateLimitedCall(ctx, c.limiter, tokens, func(ctx context.Context) ([]byte, error) {
		return SendJSON(ctx, c.httpClient, c.baseURL+"/v1/messages", body, headers, c.log)
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages request: %w", err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode anthropic response: %v", ErrMalformedOutput, err)
	}
	if resp.StopReason == "refusal" {
		return nil, ErrDeclined
	}

	answer := &DocumentAnswer{
		Usage: models.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		ab := AnswerBlock{Text: block.Text}
		for _, cit := range block.Citations {
			if cit.Type != "page_location" || cit.StartPageNumber < 1 {
				continue
			}
			ab.Citations = append(ab.Citations, PageCitation{
				CitedText: strings.TrimSpace(cit.CitedText),
				StartPage: cit.StartPageNumber,
				EndPage:   cit.EndPageNumber,
			})
		}
		answer.Blocks = append(answer.Blocks, ab)
	}
	if answer.Text() == "" {
		return nil, fmt.Errorf("%w: empty answer", ErrMalformedOutput)
	}
	return answer, nil
}
