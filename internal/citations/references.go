// Package citations turns a model's answer into ranked, page-anchored
// citations: it reads page markers out of the answer text, finds supporting
// quotes in the extracted pages and builds viewer links for them.
package citations

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// markerRe matches both inline shapes: [P12] and [Page 12: 'quoted text'].
// The quote may use single or double quotes.
var markerRe = regexp.MustCompile(`\[P(\d+)\]|\[Page\s+(\d+):\s*(?:'([^']*)'|"([^"]*)")\]`)

// QuotedReference is a page-tagged quote lifted from an answer.
type QuotedReference struct {
	Page  int
	Quote string
}

// ParseReferences returns every page number referenced by an inline marker, in
// order of appearance. Duplicates are kept.
func ParseReferences(answer string) []int {
	var pages []int
	for _, m := range markerRe.FindAllStringSubmatch(answer, -1) {
		num := m[1]
		if num == "" {
			num = m[2]
		}
		n, err := strconv.Atoi(num)
		if err != nil || n < 1 {
			continue
		}
		pages = append(pages, n)
	}
	return pages
}

// ParseQuotedReferences returns the (page, quote) pairs of [Page n: '...']
// markers.
func ParseQuotedReferences(answer string) []QuotedReference {
	var refs []QuotedReference
	for _, m := range markerRe.FindAllStringSubmatch(answer, -1) {
		if m[2] == "" {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			continue
		}
		quote := m[3]
		if quote == "" {
			quote = m[4]
		}
		quote = strings.TrimSpace(quote)
		if quote == "" {
			continue
		}
		refs = append(refs, QuotedReference{Page: n, Quote: quote})
	}
	return refs
}

var spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?)])`)

// StripMarkers removes inline page markers for display.
func StripMarkers(answer string) string {
	out := markerRe.ReplaceAllString(answer, "")
	out = spaceBeforePunct.ReplaceAllString(out, "$1")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.Join(strings.Fields(l), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// ExpandPages widens a set of cited pages to the contiguous range one page
// either side of the lowest and highest reference, clamped to the document.
// A pageCount of zero means the document length is unknown and only the lower
// bound is applied.
func ExpandPages(refs []int, pageCount int) []int {
	lo, hi := 0, 0
	for _, p := range refs {
		if p < 1 {
			continue
		}
		if lo == 0 || p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if lo == 0 {
		return nil
	}

	lo--
	hi++
	if lo < 1 {
		lo = 1
	}
	if pageCount > 0 && hi > pageCount {
		hi = pageCount
	}
	if lo > hi {
		return nil
	}

	pages := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		pages = append(pages, p)
	}
	return pages
}

// UniquePages returns the distinct pages in ascending order.
func UniquePages(refs []int) []int {
	seen := make(map[int]bool, len(refs))
	var out []int
	for _, p := range refs {
		if p < 1 || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
