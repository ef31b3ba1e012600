package citations

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxSearchWords = 3

// BuildLink appends a #page=N&search=... locator to a document URL so a PDF
// viewer can jump to the page and highlight the quote. The search terms are a
// hint only; viewers may not find them when the rendered text differs.
func BuildLink(baseURL string, page int, quote string) string {
	if baseURL == "" {
		return ""
	}
	sep := "#"
	if strings.Contains(baseURL, "#") {
		sep = "&"
	}
	link := baseURL + sep + "page=" + strconv.Itoa(page)
	if terms := SearchTerms(quote); terms != "" {
		link += "&search=" + url.QueryEscape(terms)
	}
	return link
}

// SearchTerms picks the first three words longer than three characters from a
// quote, with punctuation removed.
func SearchTerms(quote string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, quote)

	words := make([]string, 0, maxSearchWords)
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		words = append(words, w)
		if len(words) == maxSearchWords {
			break
		}
	}
	return strings.Join(words, " ")
}
