package pdf

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

type fakeFetcher struct {
	data  []byte
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc models.DocumentLocator) ([]byte, error) {
	f.calls.Add(1)
	return f.data, f.err
}

// fakeStrategy serves fixed text for the pages it knows about.
type fakeStrategy struct {
	name  string
	pages map[int]string
	err   error
	seen  [][]int
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Extract(ctx context.Context, doc Document, pages []int) (map[int]string, error) {
	s.seen = append(s.seen, append([]int(nil), pages...))
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int]string)
	for _, p := range pages {
		if text, ok := s.pages[p]; ok {
			out[p] = text
		}
	}
	return out, nil
}

func fixedCount(n int) func([]byte) (int, error) {
	return func([]byte) (int, error) { return n, nil }
}

var trialDoc = models.DocumentLocator{ID: "doc-1", URL: "https://example.org/trial.pdf"}

func TestExtractPages_StrategyLadder(t *testing.T) {
	first := &fakeStrategy{name: "first", pages: map[int]string{1: "Page one text"}}
	second := &fakeStrategy{name: "second", pages: map[int]string{2: "Page two text", 1: "should not be used"}}
	broken := &fakeStrategy{name: "broken", err: errors.New("boom")}

	e := NewExtractor(&fakeFetcher{data: []byte("%PDF")}, nil, logger.NewNoOpLogger(),
		WithStrategies(broken, first, second),
		WithPageCounter(fixedCount(5)),
	)

	got, err := e.Extract(context.Background(), trialDoc, []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d pages, want 3", len(got))
	}

	if got[0].Content != "Page one text" || got[0].Strategy != "first" {
		t.Errorf("page 1 = %+v", got[0])
	}
	if got[1].Content != "Page two text" || got[1].Strategy != "second" {
		t.Errorf("page 2 = %+v", got[1])
	}
	if !got[2].Placeholder || got[2].Content != PlaceholderText(3) {
		t.Errorf("page 3 should be a placeholder, got %+v", got[2])
	}

	// Later strategies only see pages earlier ones could not read.
	if len(second.seen) != 1 || len(second.seen[0]) != 2 {
		t.Errorf("second strategy saw %v, want [[2 3]]", second.seen)
	}
}

func TestExtractPages_OutOfRangePagesSkipped(t *testing.T) {
	s := &fakeStrategy{name: "s", pages: map[int]string{1: "one", 2: "two"}}
	e := NewExtractor(&fakeFetcher{data: []byte("%PDF")}, nil, logger.NewNoOpLogger(),
		WithStrategies(s), WithPageCounter(fixedCount(2)))

	got, err := e.Extract(context.Background(), trialDoc, []int{0, 2, 9, -1, 1})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d pages, want 2: %+v", len(got), got)
	}
	if got[0].PageNumber != 2 || got[1].PageNumber != 1 {
		t.Errorf("pages not in request order: %+v", got)
	}
	for _, p := range got {
		if p.PageNumber < 1 || p.PageNumber > 2 {
			t.Errorf("page %d outside document", p.PageNumber)
		}
	}
}

func TestExtractPages_UnknownPageCount(t *testing.T) {
	s := &fakeStrategy{name: "s", pages: map[int]string{2: "two"}}
	failing := func([]byte) (int, error) { return 0, errors.New("unreadable xref") }
	e := NewExtractor(&fakeFetcher{data: []byte("%PDF")}, nil, logger.NewNoOpLogger(),
		WithStrategies(s), WithPageCounter(failing))

	got, err := e.Extract(context.Background(), trialDoc, []int{2, 500})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if len(got) != 1 || got[0].PageNumber != 2 || got[0].Placeholder {
		t.Errorf("got %+v, want only the readable page 2", got)
	}
	if _, ok := e.Cache().Get(trialDoc.ID, 500); ok {
		t.Error("page 500 should not be cached")
	}
}

func TestExtractPages_CacheAvoidsRefetch(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("%PDF")}
	s := &fakeStrategy{name: "s", pages: map[int]string{1: "one", 2: "two"}}
	e := NewExtractor(fetcher, nil, logger.NewNoOpLogger(),
		WithStrategies(s), WithPageCounter(fixedCount(3)))

	ctx := context.Background()
	if _, err := e.Extract(ctx, trialDoc, []int{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if e.Cache().Len("doc-1") != 2 {
		t.Errorf("cached %d pages, want 2 (placeholders are not cached)", e.Cache().Len("doc-1"))
	}

	got, err := e.Extract(ctx, trialDoc, []int{2, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d pages, want 2 (duplicates collapse)", len(got))
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("fetcher called %d times, want 1", fetcher.calls.Load())
	}

	// The placeholder page is retried.
	if _, err := e.Extract(ctx, trialDoc, []int{3}); err != nil {
		t.Fatal(err)
	}
	if fetcher.calls.Load() != 2 {
		t.Errorf("placeholder page was not retried")
	}

	e.Cache().Clear("doc-1")
	if e.Cache().Len("doc-1") != 0 {
		t.Error("Clear did not drop the document")
	}
}

func TestExtractPages_FetchErrorReturned(t *testing.T) {
	fetchErr := errors.New("network down")
	e := NewExtractor(&fakeFetcher{err: fetchErr}, nil, logger.NewNoOpLogger(),
		WithStrategies(&fakeStrategy{name: "s"}), WithPageCounter(fixedCount(1)))

	_, err := e.Extract(context.Background(), trialDoc, []int{1})
	if !errors.Is(err, fetchErr) {
		t.Errorf("error = %v, want %v", err, fetchErr)
	}
}

func TestExtractPages_EmptyRequest(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("%PDF")}
	e := NewExtractor(fetcher, nil, logger.NewNoOpLogger())

	got, err := e.Extract(context.Background(), trialDoc, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Extract(nil) = %v, %v", got, err)
	}
	if fetcher.calls.Load() != 0 {
		t.Error("empty request should not fetch")
	}
}

func TestStructuralStrategy_Fixture(t *testing.T) {
	data := buildPDF([][]string{
		{"Enrollment Criteria", "Patients were enrolled at 12 sites."},
		{"Adverse Events"},
	})

	n, err := PageCount(data)
	if err != nil {
		t.Fatalf("PageCount() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("PageCount() = %d, want 2", n)
	}

	got, err := StructuralStrategy{}.Extract(context.Background(), Document{Data: data, PageCount: n}, []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if _, ok := got[3]; ok {
		t.Error("page beyond the document was returned")
	}
	if !strings.Contains(got[1], "Enrollment Criteria") || !strings.Contains(got[1], "enrolled at 12 sites") {
		t.Errorf("page 1 text = %q", got[1])
	}
	if !strings.Contains(got[2], "Adverse Events") {
		t.Errorf("page 2 text = %q", got[2])
	}
}

func TestStructuralStrategy_GarbageInput(t *testing.T) {
	_, err := StructuralStrategy{}.Extract(context.Background(), Document{Data: []byte("not a pdf")}, []int{1})
	if err == nil {
		t.Error("expected error for non-PDF input")
	}
}
