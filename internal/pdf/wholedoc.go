package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode"

	lpdf "github.com/ledongthuc/pdf"
)

// WholeDocumentStrategy extracts the document as one stream of text and
// apportions it across pages. Page boundaries are approximate, so this only
// runs for pages the positional strategies could not read.
type WholeDocumentStrategy struct{}

func (WholeDocumentStrategy) Name() string { return "whole-document" }

func (WholeDocumentStrategy) Extract(ctx context.Context, doc Document, pages []int) (out map[int]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("whole-document extraction panicked: %v", r)
		}
	}()

	r, err := lpdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	count := doc.PageCount
	if count <= 0 {
		count = r.NumPage()
	}
	chunks := SplitIntoPages(string(raw), count)

	out = make(map[int]string, len(pages))
	for _, n := range pages {
		if n >= 1 && n <= len(chunks) && chunks[n-1] != "" {
			out[n] = chunks[n-1]
		}
	}
	if len(out) == 0 {
		return nil, ErrNoText
	}
	return out, nil
}

// SplitIntoPages divides text into n roughly equal chunks. Each boundary is
// moved to the nearest sentence end within 15% of a chunk's length.
func SplitIntoPages(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	runes := []rune(strings.Join(strings.Fields(text), " "))
	total := len(runes)
	chunks := make([]string, n)
	if total == 0 {
		return chunks
	}

	tolerance := int(0.15 * float64(total) / float64(n))
	bounds := make([]int, n+1)
	bounds[n] = total
	for i := 1; i < n; i++ {
		target := i * total / n
		b := snapToSentence(runes, target, tolerance)
		if b < bounds[i-1] {
			b = bounds[i-1]
		}
		bounds[i] = b
	}

	for i := 0; i < n; i++ {
		chunks[i] = strings.TrimSpace(string(runes[bounds[i]:bounds[i+1]]))
	}
	return chunks
}

func snapToSentence(runes []rune, target, tolerance int) int {
	for d := 0; d <= tolerance; d++ {
		if isSentenceEnd(runes, target+d) {
			return target + d
		}
		if d > 0 && isSentenceEnd(runes, target-d) {
			return target - d
		}
	}
	return target
}

// isSentenceEnd reports whether a boundary at pos falls just after a sentence
// terminator.
func isSentenceEnd(runes []rune, pos int) bool {
	if pos <= 0 || pos > len(runes) {
		return false
	}
	switch runes[pos-1] {
	case '.', '!', '?':
	default:
		return false
	}
	return pos == len(runes) || unicode.IsSpace(runes[pos])
}
