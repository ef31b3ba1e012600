package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

// BackendProvider asks the hosted trial backend, which indexes documents on
// its side and answers with inline [P<n>] markers.
type BackendProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	limiter *llm.Limiter
	log     logger.Logger
}

func NewBackendProvider(client *http.Client, baseURL, apiKey string, log logger.Logger) *BackendProvider {
	return &BackendProvider{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		limiter: llm.NewLimiter("backend", 0, 0, log),
		log:     log,
	}
}

func (p *BackendProvider) Kind() models.ProviderKind { return models.ProviderBackend }

func (p *BackendProvider) Available() bool { return p.baseURL != "" }

type backendRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type backendSource struct {
	Page      int    `json:"page"`
	Section   string `json:"section"`
	ExactText string `json:"exactText"`
	Text      string `json:"text"`
	Relevance string `json:"relevance"`
}

// backendResponse accepts the field names the backend has used over time.
type backendResponse struct {
	Answer         string          `json:"answer"`
	Content        string          `json:"content"`
	Response       string          `json:"response"`
	Sources        []backendSource `json:"sources"`
	PageReferences []int           `json:"page_references"`
	Usage          *models.Usage   `json:"usage"`
}

func (p *BackendProvider) Answer(ctx context.Context, params QueryParams) (*models.UnifiedAnswerResponse, error) {
	docID := params.documentID()
	if docID == "" {
		return nil, fmt.Errorf("backend query needs a document id")
	}
	endpoint := fmt.Sprintf("%s/api/documents/%s/query", p.baseURL, url.PathEscape(docID))

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}
	body := backendRequest{Question: params.Question, UserID: params.UserID, Limit: params.ResultLimit}

	raw, err := llm.RateLimitedCall(ctx, p.limiter, 0, func(ctx context.Context) ([]byte, error) {
		return llm.SendJSON(ctx, p.client, endpoint, body, headers, p.log)
	})
	if err != nil {
		return nil, err
	}

	var resp backendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: backend reply is not JSON: %v", llm.ErrMalformedOutput, err)
	}

	content := firstNonEmpty(resp.Answer, resp.Content, resp.Response)
	if content == "" {
		return nil, errEmptyAnswer
	}

	out := &models.UnifiedAnswerResponse{
		Content:        content,
		Sources:        []models.Citation{},
		Usage:          resp.Usage,
		PageReferences: resp.PageReferences,
	}
	for _, s := range resp.Sources {
		if s.Page < 1 {
			continue
		}
		out.Sources = append(out.Sources, models.Citation{
			Page:      s.Page,
			Section:   s.Section,
			ExactText: firstNonEmpty(s.ExactText, s.Text),
			Relevance: models.ParseRelevance(strings.ToLower(s.Relevance)),
		})
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
