package citations

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Epistemic-Technology/trialqa/models"
)

const (
	excerptBefore = 100
	excerptAfter  = 300
	contextBefore = 200
	contextAfter  = 400

	defaultExcerptLen = 300
	defaultContextLen = 500

	maxKeywordConfidence = 0.8
	noCitationConfidence = 0.3
)

var stemSuffixes = []string{"ments", "ment", "ing", "ed", "s"}

// KeywordMatcher is the deterministic last resort: it scores each page by how
// many question keywords it contains and never fails.
type KeywordMatcher struct{}

func (KeywordMatcher) Name() string { return "keyword" }

func (KeywordMatcher) Match(_ context.Context, req MatchRequest) (*models.ExtractionResult, error) {
	keywords := Keywords(req.Question)
	patterns := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(Stem(kw)))
	}

	seeds := make(map[int][]string)
	for _, s := range req.Seeds {
		seeds[s.Page] = append(seeds[s.Page], s.Quote)
	}

	citations := make([]models.Citation, 0, len(req.Pages))
	for _, page := range req.Pages {
		if page.Placeholder {
			citations = append(citations, models.Citation{
				Page:      page.PageNumber,
				Section:   InferSection("", page.PageNumber),
				Relevance: models.RelevanceLow,
			})
			continue
		}
		citations = append(citations, matchPage(page, patterns, seeds[page.PageNumber]))
	}

	return &models.ExtractionResult{
		Citations:  citations,
		Confidence: keywordConfidence(citations),
		Strategy:   "keyword",
	}, nil
}

func matchPage(page models.PageText, patterns []*regexp.Regexp, seeds []string) models.Citation {
	content := page.Content
	matches := 0
	var excerpt, surrounding string

	for _, re := range patterns {
		loc := re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		matches++
		ex := window(content, loc[0], excerptBefore, excerptAfter)
		if len(ex) > len(excerpt) {
			excerpt = ex
			surrounding = window(content, loc[0], contextBefore, contextAfter)
		}
	}

	relevance := relevanceFor(matches, len(patterns))

	// A quote the answer itself attributed to this page beats any window.
	for _, q := range seeds {
		if span, ok := FindLiteral(content, q); ok {
			excerpt = span
			idx := strings.Index(content, span)
			surrounding = window(content, idx, contextBefore, len(span)+contextAfter)
			relevance = models.RelevanceHigh
			break
		}
	}

	if excerpt == "" {
		excerpt = prefix(content, defaultExcerptLen)
		surrounding = prefix(content, defaultContextLen)
	}

	return models.Citation{
		Page:      page.PageNumber,
		Section:   InferSection(content, page.PageNumber),
		ExactText: strings.TrimSpace(excerpt),
		Relevance: relevance,
		Context:   strings.TrimSpace(surrounding),
	}
}

func relevanceFor(matches, keywords int) models.Relevance {
	if keywords == 0 || matches == 0 {
		return models.RelevanceLow
	}
	ratio := float64(matches) / float64(keywords)
	switch {
	case ratio >= 0.7:
		return models.RelevanceHigh
	case ratio >= 0.3:
		return models.RelevanceMedium
	default:
		return models.RelevanceLow
	}
}

func keywordConfidence(citations []models.Citation) float64 {
	if len(citations) == 0 {
		return noCitationConfidence
	}
	var sum float64
	for _, c := range citations {
		switch c.Relevance {
		case models.RelevanceHigh:
			sum += 0.3
		case models.RelevanceMedium:
			sum += 0.2
		default:
			sum += 0.1
		}
	}
	if sum > maxKeywordConfidence {
		return maxKeywordConfidence
	}
	return sum
}

// Keywords lowercases the question and keeps distinct words longer than three
// characters, in order.
func Keywords(question string) []string {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Stem strips one common English suffix, keeping at least four characters.
func Stem(word string) string {
	for _, suf := range stemSuffixes {
		if !strings.HasSuffix(word, suf) {
			continue
		}
		stem := strings.TrimSuffix(word, suf)
		if utf8.RuneCountInString(stem) >= 4 {
			return stem
		}
	}
	return word
}

// window returns content[at-before : at+after], widened to rune boundaries.
func window(content string, at, before, after int) string {
	start := at - before
	if start < 0 {
		start = 0
	}
	end := at + after
	if end > len(content) {
		end = len(content)
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	return content[start:end]
}

func prefix(content string, n int) string {
	return window(content, 0, 0, n)
}
