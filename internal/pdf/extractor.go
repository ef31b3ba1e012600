package pdf

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/metrics"
	"github.com/Epistemic-Technology/trialqa/models"
)

// Extractor returns per-page text for a document, consulting the page cache
// first and running the strategy ladder for anything missing.
type Extractor struct {
	fetcher    documents.Fetcher
	cache      *PageCache
	strategies []Strategy
	countPages func([]byte) (int, error)
	log        logger.Logger
	metrics    *metrics.Metrics
}

type Option func(*Extractor)

// WithStrategies replaces the default extraction ladder.
func WithStrategies(s ...Strategy) Option {
	return func(e *Extractor) { e.strategies = s }
}

// WithPageCounter replaces PageCount, mostly for tests.
func WithPageCounter(fn func([]byte) (int, error)) Option {
	return func(e *Extractor) { e.countPages = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Extractor) { e.metrics = m }
}

func NewExtractor(fetcher documents.Fetcher, cache *PageCache, log logger.Logger, opts ...Option) *Extractor {
	if cache == nil {
		cache = NewPageCache()
	}
	e := &Extractor{
		fetcher:    fetcher,
		cache:      cache,
		strategies: DefaultStrategies(),
		countPages: PageCount,
		log:        log.Named("pdf"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache exposes the page cache so callers can clear a document.
func (e *Extractor) Cache() *PageCache { return e.cache }

// Extract returns one PageText per distinct requested page that exists in
// the document, in request order. Pages outside the document are skipped with
// a warning. Only a failure to obtain the document bytes is returned as an
// error; unreadable pages come back as placeholders.
func (e *Extractor) Extract(ctx context.Context, loc models.DocumentLocator, pages []int) ([]models.PageText, error) {
	docID := documents.Key(loc)
	requested := dedupe(pages)
	if len(requested) == 0 {
		return []models.PageText{}, nil
	}

	found := make(map[int]models.PageText, len(requested))
	var missing []int
	for _, n := range requested {
		if p, ok := e.cache.Get(docID, n); ok {
			found[n] = p
			e.metrics.RecordCacheLookup(true)
			continue
		}
		e.metrics.RecordCacheLookup(false)
		missing = append(missing, n)
	}

	if len(missing) == 0 {
		return ordered(requested, found), nil
	}

	v, err := e.cache.do(flightKey(docID, missing), func() (any, error) {
		return e.extractMissing(ctx, loc, docID, missing)
	})
	if err != nil {
		return nil, err
	}
	for _, p := range v.([]models.PageText) {
		found[p.PageNumber] = p
	}
	return ordered(requested, found), nil
}

func (e *Extractor) extractMissing(ctx context.Context, loc models.DocumentLocator, docID string, missing []int) ([]models.PageText, error) {
	data, err := e.fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}

	pageCount, err := e.countPages(data)
	if err != nil {
		e.log.Warn("Could not count pages of %s: %v", docID, err)
		pageCount = 0
	}

	var valid []int
	for _, n := range missing {
		if n < 1 || (pageCount > 0 && n > pageCount) {
			e.log.Warn("Skipping page %d of %s: document has %d pages", n, docID, pageCount)
			continue
		}
		valid = append(valid, n)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	doc := Document{Data: data, PageCount: pageCount}
	results := make(map[int]models.PageText, len(valid))
	remaining := valid
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := s.Extract(ctx, doc, remaining)
		if err != nil && len(got) == 0 {
			e.log.Debug("Strategy %s found nothing for %s pages %v: %v", s.Name(), docID, remaining, err)
			continue
		}

		var still []int
		filled := 0
		for _, n := range remaining {
			text := strings.TrimSpace(got[n])
			if text == "" {
				still = append(still, n)
				continue
			}
			results[n] = models.PageText{PageNumber: n, Content: text, Strategy: s.Name()}
			filled++
		}
		e.metrics.RecordExtraction(s.Name(), filled)
		remaining = still
		if len(remaining) == 0 {
			break
		}
	}

	if pageCount == 0 && len(remaining) > 0 {
		// Without a page count an unreadable page may not exist at all.
		e.log.Warn("Dropping unreadable pages %v of %s: page count unknown", remaining, docID)
		remaining = nil
	}
	for _, n := range remaining {
		e.log.Warn("No strategy could extract page %d of %s", n, docID)
		results[n] = models.PageText{PageNumber: n, Content: PlaceholderText(n), Placeholder: true, Strategy: "placeholder"}
	}
	e.metrics.RecordExtraction("placeholder", len(remaining))

	out := make([]models.PageText, 0, len(results))
	for _, n := range valid {
		if p, ok := results[n]; ok {
			out = append(out, p)
		}
	}
	e.cache.Put(docID, out...)
	e.log.Info("Extracted %d pages of %s (%d placeholders)", len(out), docID, len(remaining))
	return out, nil
}

func dedupe(pages []int) []int {
	seen := make(map[int]bool, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func ordered(requested []int, found map[int]models.PageText) []models.PageText {
	out := make([]models.PageText, 0, len(found))
	for _, n := range requested {
		if p, ok := found[n]; ok {
			out = append(out, p)
		}
	}
	return out
}

func flightKey(docID string, pages []int) string {
	sorted := append([]int(nil), pages...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, p := range sorted {
		parts[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("%s:%s", docID, strings.Join(parts, ","))
}
