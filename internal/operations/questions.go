// Package operations holds the use cases shared by the MCP tools and the HTTP
// API: asking a question about a trial document and locating its citations.
package operations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Epistemic-Technology/trialqa/internal/answer"
	"github.com/Epistemic-Technology/trialqa/internal/citations"
	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/metrics"
	"github.com/Epistemic-Technology/trialqa/internal/pdf"
	"github.com/Epistemic-Technology/trialqa/internal/storage"
	"github.com/Epistemic-Technology/trialqa/models"
)

// QuestionRequest asks one question about one document.
type QuestionRequest struct {
	Question string
	Document models.DocumentLocator
	UserID   string
	// TrialID and Save control persistence of the answered question.
	TrialID     string
	Save        bool
	Tags        []string
	ResultLimit int
}

// QuestionResult is the answer together with its located citations.
type QuestionResult struct {
	Answer models.UnifiedAnswerResponse `json:"answer"`
	// DisplayAnswer is the answer text with page markers removed.
	DisplayAnswer  string                  `json:"display_answer"`
	PageReferences []int                   `json:"page_references"`
	Citations      models.ExtractionResult `json:"citations"`
	ItemID         string                  `json:"item_id,omitempty"`
	Warnings       []string                `json:"warnings,omitempty"`
}

// Pipeline wires the answer router, the extractor and the citation locator.
// A nil store disables persistence.
type Pipeline struct {
	router    *answer.Router
	extractor *pdf.Extractor
	locator   *citations.Locator
	store     storage.QAStore
	pool      *llm.WorkerPool
	timeout   time.Duration
	log       logger.Logger
	metrics   *metrics.Metrics
	resolve   NameResolver
}

// NameResolver fills in a display name for a locator that lacks one.
type NameResolver func(ctx context.Context, loc models.DocumentLocator) (models.DocumentLocator, error)

type PipelineOption func(*Pipeline)

// WithStore enables saving answered questions.
func WithStore(store storage.QAStore) PipelineOption {
	return func(p *Pipeline) { p.store = store }
}

// WithTimeout bounds each AskQuestion call.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// WithWorkerPool bounds how many questions run at once.
func WithWorkerPool(pool *llm.WorkerPool) PipelineOption {
	return func(p *Pipeline) { p.pool = pool }
}

func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNameResolver names unnamed documents before they reach the providers.
func WithNameResolver(fn NameResolver) PipelineOption {
	return func(p *Pipeline) { p.resolve = fn }
}

func NewPipeline(router *answer.Router, extractor *pdf.Extractor, locator *citations.Locator, log logger.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		router:    router,
		extractor: extractor,
		locator:   locator,
		log:       log.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pool == nil {
		p.pool = llm.NewWorkerPool(0)
	}
	return p
}

// Store returns the configured Q&A store, or nil.
func (p *Pipeline) Store() storage.QAStore { return p.store }

// AskQuestion answers the question, locates supporting citations in the
// document and optionally saves the result. Only a failure to obtain an answer
// is returned as an error; citation problems are reported as warnings.
func (p *Pipeline) AskQuestion(ctx context.Context, req QuestionRequest) (result *QuestionResult, err error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is required")
	}
	start := time.Now()
	defer func() { p.metrics.RecordPipeline(err, time.Since(start)) }()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	if err := p.pool.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.pool.Release()

	if p.resolve != nil && req.Document.Name == "" {
		if loc, rerr := p.resolve(ctx, req.Document); rerr != nil {
			p.log.Warn("Could not resolve a name for %s: %v", documents.Key(req.Document), rerr)
		} else {
			req.Document = loc
		}
	}

	resp, err := p.router.Query(ctx, answer.QueryParams{
		Question:    req.Question,
		DocumentID:  req.Document.ID,
		Document:    req.Document,
		UserID:      req.UserID,
		ResultLimit: req.ResultLimit,
	})
	if err != nil {
		return nil, err
	}

	result = &QuestionResult{
		Answer:        *resp,
		DisplayAnswer: citations.StripMarkers(resp.Content),
	}
	result.PageReferences = answerPages(resp)
	p.log.Info("Answer from %s references pages %v", resp.ProviderUsed, result.PageReferences)

	cits, warn := p.locate(ctx, req.Question, resp.Content, req.Document, result.PageReferences)
	result.Citations = cits
	if warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	if req.Save {
		id, err := p.save(ctx, req, result)
		if err != nil {
			p.log.Error("Failed to save answered question: %v", err)
			result.Warnings = append(result.Warnings, "answer was not saved: "+err.Error())
		}
		result.ItemID = id
	}
	return result, nil
}

// LocateCitations finds citations for an answer produced elsewhere.
func (p *Pipeline) LocateCitations(ctx context.Context, question, answerText string, doc models.DocumentLocator) (models.ExtractionResult, []string) {
	pages := citations.ParseReferences(answerText)
	cits, warn := p.locate(ctx, question, answerText, doc, pages)
	if warn != "" {
		return cits, []string{warn}
	}
	return cits, nil
}

// locate extracts the referenced pages plus one page of margin either side and
// runs the locator over them. It never fails; problems come back as a warning.
func (p *Pipeline) locate(ctx context.Context, question, answerText string, doc models.DocumentLocator, refs []int) (models.ExtractionResult, string) {
	empty := models.ExtractionResult{Citations: []models.Citation{}, Confidence: 0}
	if len(refs) == 0 {
		return empty, ""
	}

	pages, err := p.extractor.Extract(ctx, doc, citations.ExpandPages(refs, 0))
	if err != nil {
		p.log.Warn("Could not load document for citations: %v", err)
		return empty, fmt.Sprintf("citations unavailable: %v", err)
	}
	return p.locator.LocateFor(ctx, doc.URL, question, answerText, pages), ""
}

func (p *Pipeline) save(ctx context.Context, req QuestionRequest, result *QuestionResult) (string, error) {
	if p.store == nil {
		return "", errors.New("no Q&A store configured")
	}
	trialID := req.TrialID
	if trialID == "" {
		return "", errors.New("trial id is required to save")
	}
	item := &models.QAItem{
		TrialID:    trialID,
		DocumentID: documents.Key(req.Document),
		Question:   req.Question,
		Answer:     result.Answer.Content,
		Tags:       req.Tags,
		Source:     string(result.Answer.ProviderUsed),
		Sources:    result.Citations.Citations,
	}
	// Save even when the request deadline has passed.
	return p.store.SaveItem(context.WithoutCancel(ctx), item)
}

// answerPages prefers page numbers the provider returned natively, then the
// pages of its structured sources, and only then markers in the answer text.
func answerPages(resp *models.UnifiedAnswerResponse) []int {
	if len(resp.PageReferences) > 0 {
		return resp.PageReferences
	}
	if len(resp.Sources) > 0 {
		pages := make([]int, 0, len(resp.Sources))
		for _, s := range resp.Sources {
			pages = append(pages, s.Page)
		}
		if refs := citations.UniquePages(pages); len(refs) > 0 {
			return refs
		}
	}
	return citations.ParseReferences(resp.Content)
}
