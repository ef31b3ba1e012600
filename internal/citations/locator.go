package citations

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/metrics"
	"github.com/Epistemic-Technology/trialqa/models"
)

// MatchRequest is everything a matcher gets to work with.
type MatchRequest struct {
	Question string
	Answer   string
	Pages    []models.PageText
	// Seeds are page-tagged quotes the answer already carries.
	Seeds []QuotedReference
}

// Matcher produces raw citations for a set of pages. Results are normalised
// by the Locator, so matchers need not sort, verify or link them.
type Matcher interface {
	Name() string
	Match(ctx context.Context, req MatchRequest) (*models.ExtractionResult, error)
}

// Locator runs matchers in order until one succeeds. The keyword matcher is
// always the final rung.
type Locator struct {
	matchers []Matcher
	log      logger.Logger
	metrics  *metrics.Metrics
}

func NewLocator(log logger.Logger, m *metrics.Metrics, matchers ...Matcher) *Locator {
	ladder := make([]Matcher, 0, len(matchers)+1)
	for _, mt := range matchers {
		if mt != nil {
			ladder = append(ladder, mt)
		}
	}
	if len(ladder) == 0 || ladder[len(ladder)-1].Name() != (KeywordMatcher{}).Name() {
		ladder = append(ladder, KeywordMatcher{})
	}
	return &Locator{matchers: ladder, log: log.Named("citations"), metrics: m}
}

// Matchers returns the names of the ladder, in order.
func (l *Locator) Matchers() []string {
	names := make([]string, len(l.matchers))
	for i, m := range l.matchers {
		names[i] = m.Name()
	}
	return names
}

// Locate finds citations for an answer without attaching viewer links.
func (l *Locator) Locate(ctx context.Context, question, answer string, pages []models.PageText) models.ExtractionResult {
	return l.LocateFor(ctx, "", question, answer, pages)
}

// LocateFor finds citations and links each quote into the document at baseURL.
// It never fails: when every model-backed matcher errors the keyword matcher
// answers.
func (l *Locator) LocateFor(ctx context.Context, baseURL, question, answer string, pages []models.PageText) models.ExtractionResult {
	if len(pages) == 0 {
		return models.ExtractionResult{Citations: []models.Citation{}, Confidence: 0}
	}

	req := MatchRequest{
		Question: question,
		Answer:   answer,
		Pages:    pages,
		Seeds:    ParseQuotedReferences(answer),
	}

	var raw *models.ExtractionResult
	for _, m := range l.matchers {
		_, local := m.(KeywordMatcher)
		if ctx.Err() != nil && !local {
			continue
		}
		res, err := m.Match(ctx, req)
		switch {
		case err != nil:
		case res == nil:
			err = errEmptyResult
		case !local && len(res.Citations) == 0:
			// Referenced pages must come back even without a quote.
			err = errNoCitations
		}
		l.metrics.RecordMatcherAttempt(m.Name(), err)
		if err != nil {
			l.log.Warn("Citation matcher %s failed: %v", m.Name(), err)
			continue
		}
		if res.Strategy == "" {
			res.Strategy = m.Name()
		}
		raw = res
		break
	}
	if raw == nil {
		// Unreachable with a KeywordMatcher in the ladder.
		return models.ExtractionResult{Citations: []models.Citation{}, Confidence: 0}
	}

	result := l.finalize(*raw, pages, baseURL)
	relevances := make([]string, len(result.Citations))
	for i, c := range result.Citations {
		relevances[i] = string(c.Relevance)
	}
	l.metrics.RecordCitations(relevances, result.Confidence)
	l.log.Info("Located %d citations via %s (confidence %.2f)", len(result.Citations), result.Strategy, result.Confidence)
	return result
}

var (
	errEmptyResult = errors.New("matcher returned no result")
	errNoCitations = errors.New("matcher returned no citations")
)

// finalize applies the guarantees every result must satisfy regardless of
// which matcher produced it.
func (l *Locator) finalize(res models.ExtractionResult, pages []models.PageText, baseURL string) models.ExtractionResult {
	byPage := make(map[int]models.PageText, len(pages))
	for _, p := range pages {
		byPage[p.PageNumber] = p
	}

	out := make([]models.Citation, 0, len(res.Citations))
	var quoted, verified int
	for _, c := range res.Citations {
		page, ok := byPage[c.Page]
		if !ok {
			l.log.Warn("Dropping citation for page %d: page was not supplied", c.Page)
			continue
		}
		c.Relevance = models.ParseRelevance(string(c.Relevance))
		c.ExactText = strings.TrimSpace(c.ExactText)
		c.Verified = false

		switch {
		case page.Placeholder:
			c.ExactText = ""
			c.Context = ""
			c.Relevance = models.RelevanceLow
		case c.ExactText != "":
			quoted++
			if span, ok := FindLiteral(page.Content, c.ExactText); ok {
				c.ExactText = span
				c.Verified = true
				verified++
			} else {
				l.log.Warn("Quote on page %d not found in page text: %.60q", c.Page, c.ExactText)
				c.LowConfidence = true
			}
		}

		if c.Section == "" {
			c.Section = InferSection(page.Content, c.Page)
		}
		if c.ExactText != "" {
			c.HighlightURL = BuildLink(baseURL, c.Page, c.ExactText)
		} else {
			c.HighlightURL = ""
		}
		out = append(out, c)
	}

	SortCitations(out)
	res.Citations = out
	res.Confidence = clamp(res.Confidence)
	// Reported confidence only counts for quotes found on the page.
	if quoted > 0 {
		res.Confidence *= float64(verified) / float64(quoted)
	}
	if len(out) == 0 {
		res.Confidence = 0
	}
	return res
}

// SortCitations orders citations by relevance (high first), then page.
func SortCitations(cs []models.Citation) {
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := cs[i].Relevance.Rank(), cs[j].Relevance.Rank()
		if ri != rj {
			return ri > rj
		}
		return cs[i].Page < cs[j].Page
	})
}

// FindLiteral locates quote in content ignoring differences in whitespace and
// returns the text exactly as it appears in content.
func FindLiteral(content, quote string) (string, bool) {
	fields := strings.Fields(quote)
	if len(fields) == 0 {
		return "", false
	}
	if strings.Contains(content, quote) {
		return quote, true
	}
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	re, err := regexp.Compile(strings.Join(fields, `\s+`))
	if err != nil {
		return "", false
	}
	span := re.FindString(content)
	return span, span != ""
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
