package pdf

import (
	"bytes"
	"context"
	"fmt"

	lpdf "github.com/ledongthuc/pdf"
)

// StructuralStrategy reads positioned text items from each page and lays them
// out in reading order.
type StructuralStrategy struct{}

func (StructuralStrategy) Name() string { return "structural" }

func (StructuralStrategy) Extract(ctx context.Context, doc Document, pages []int) (out map[int]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("structural extraction panicked: %v", r)
		}
	}()

	r, err := lpdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	out = make(map[int]string, len(pages))
	total := r.NumPage()
	for _, n := range pages {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if n < 1 || n > total {
			continue
		}
		if text := structuralPageText(r, n); text != "" {
			out[n] = text
		}
	}
	if len(out) == 0 {
		return nil, ErrNoText
	}
	return out, nil
}

// structuralPageText isolates one page so a malformed page does not abort the
// rest of the document.
func structuralPageText(r *lpdf.Reader, n int) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
		}
	}()

	p := r.Page(n)
	if p.V.IsNull() {
		return ""
	}
	content := p.Content()
	frags := make([]fragment, 0, len(content.Text))
	for _, t := range content.Text {
		frags = append(frags, fragment{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
	}
	if text = layoutText(frags); text != "" {
		return text
	}

	// Some producers emit text ledongthuc can only recover as a flat stream.
	plain, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return normalizeText(plain)
}
