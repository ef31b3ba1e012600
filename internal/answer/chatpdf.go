package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

const DefaultChatPDFBaseURL = "https://api.chatpdf.com"

// ChatPDFProvider uploads the document to ChatPDF once and then chats with it.
// Source ids are cached per document for the life of the provider.
type ChatPDFProvider struct {
	client  *http.Client
	apiKey  string
	baseURL string
	fetcher documents.Fetcher
	limiter *llm.Limiter
	log     logger.Logger

	mu      sync.Mutex
	sources map[string]string
}

// NewChatPDFProvider creates the provider. fetcher is only used for documents
// that have no public URL.
func NewChatPDFProvider(client *http.Client, apiKey, baseURL string, fetcher documents.Fetcher, log logger.Logger) *ChatPDFProvider {
	if baseURL == "" {
		baseURL = DefaultChatPDFBaseURL
	}
	return &ChatPDFProvider{
		client:  client,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
		limiter: llm.NewLimiter("chatpdf", 0, 0, log),
		log:     log,
		sources: make(map[string]string),
	}
}

func (p *ChatPDFProvider) Kind() models.ProviderKind { return models.ProviderChatPDF }

func (p *ChatPDFProvider) Available() bool { return p.apiKey != "" }

type chatPDFMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPDFRequest struct {
	SourceID         string           `json:"sourceId"`
	ReferenceSources bool             `json:"referenceSources"`
	Messages         []chatPDFMessage `json:"messages"`
}

type chatPDFReply struct {
	Content    string `json:"content"`
	References []struct {
		PageNumber int `json:"pageNumber"`
	} `json:"references"`
}

func (p *ChatPDFProvider) Answer(ctx context.Context, params QueryParams) (*models.UnifiedAnswerResponse, error) {
	sourceID, err := p.source(ctx, params)
	if err != nil {
		return nil, err
	}

	body := chatPDFRequest{
		SourceID:         sourceID,
		ReferenceSources: true,
		Messages:         []chatPDFMessage{{Role: "user", Content: params.Question}},
	}
	raw, err := llm.RateLimitedCall(ctx, p.limiter, 0, func(ctx context.Context) ([]byte, error) {
		return llm.SendJSON(ctx, p.client, p.baseURL+"/v1/chats/message", body, p.headers(), p.log)
	})
	if err != nil {
		var httpErr *llm.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			// The source expired upstream; upload again next time.
			p.forget(params.documentID())
		}
		return nil, err
	}

	var reply chatPDFReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: chatpdf reply is not JSON: %v", llm.ErrMalformedOutput, err)
	}
	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return nil, errEmptyAnswer
	}

	out := &models.UnifiedAnswerResponse{Content: content, Sources: []models.Citation{}}
	for _, r := range reply.References {
		if r.PageNumber > 0 {
			out.PageReferences = append(out.PageReferences, r.PageNumber)
		}
	}
	return out, nil
}

// source returns the cached ChatPDF source id, uploading the document when
// there is none.
func (p *ChatPDFProvider) source(ctx context.Context, params QueryParams) (string, error) {
	key := params.documentID()
	p.mu.Lock()
	id, ok := p.sources[key]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	var raw []byte
	var err error
	if params.Document.URL != "" {
		raw, err = llm.SendJSON(ctx, p.client, p.baseURL+"/v1/sources/add-url",
			map[string]string{"url": params.Document.URL}, p.headers(), p.log)
	} else {
		raw, err = p.uploadFile(ctx, params.Document)
	}
	if err != nil {
		return "", err
	}

	var added struct {
		SourceID string `json:"sourceId"`
	}
	if err := json.Unmarshal(raw, &added); err != nil || added.SourceID == "" {
		return "", fmt.Errorf("%w: chatpdf returned no sourceId", llm.ErrMalformedOutput)
	}

	p.mu.Lock()
	p.sources[key] = added.SourceID
	p.mu.Unlock()
	p.log.Debug("Registered document %s with ChatPDF as %s", key, added.SourceID)
	return added.SourceID, nil
}

func (p *ChatPDFProvider) uploadFile(ctx context.Context, loc models.DocumentLocator) ([]byte, error) {
	if p.fetcher == nil {
		return nil, fmt.Errorf("chatpdf upload needs a document fetcher")
	}
	data, err := p.fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	name := loc.Name
	if name == "" {
		name = "document.pdf"
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return llm.Send(ctx, p.client, http.MethodPost, p.baseURL+"/v1/sources/add-file", w.FormDataContentType(), &buf, p.headers(), p.log)
}

func (p *ChatPDFProvider) forget(key string) {
	p.mu.Lock()
	delete(p.sources, key)
	p.mu.Unlock()
}

func (p *ChatPDFProvider) headers() map[string]string {
	return map[string]string{"x-api-key": p.apiKey}
}
