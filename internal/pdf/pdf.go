// Package pdf turns trial PDFs into per-page plain text. Several extraction
// strategies are tried in order for every page, and a page no strategy can
// read comes back as a placeholder rather than an error.
package pdf

import (
	"bytes"
	"errors"
	"fmt"

	lpdf "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoText is returned by a strategy that ran but found no text at all.
var ErrNoText = errors.New("no text found")

// PlaceholderText is the content reported for a page no strategy could read.
func PlaceholderText(page int) string {
	return fmt.Sprintf("[Text extraction was not possible for page %d]", page)
}

// PageCount returns the number of pages in a PDF. pdfcpu is tried first since
// it validates the document; ledongthuc's lighter reader is used when pdfcpu
// rejects it.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err == nil && n > 0 {
		return n, nil
	}

	count, lerr := lightPageCount(data)
	if lerr != nil {
		if err != nil {
			return 0, fmt.Errorf("failed to count pages: %w", err)
		}
		return 0, fmt.Errorf("failed to count pages: %w", lerr)
	}
	return count, nil
}

func lightPageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()
	r, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

// readContext parses and validates a document with pdfcpu.
func readContext(data []byte) (*model.Context, error) {
	conf := model.NewDefaultConfiguration()
	return api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
}
