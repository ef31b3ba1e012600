package answer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Epistemic-Technology/trialqa/internal/citations"
	"github.com/Epistemic-Technology/trialqa/internal/documents"
	"github.com/Epistemic-Technology/trialqa/internal/llm"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

type staticFetcher struct {
	data  []byte
	err   error
	calls atomic.Int32
}

func (f *staticFetcher) Fetch(ctx context.Context, loc models.DocumentLocator) ([]byte, error) {
	f.calls.Add(1)
	return f.data, f.err
}

func TestBackendProvider(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		reply     string
		want      string
		wantErr   bool
		wantPages []int
	}{
		{"answer field", 200, `{"answer":"Patients aged 18-65 [P3]."}`, "Patients aged 18-65 [P3].", false, nil},
		{"content field with sources", 200, `{"content":"See [P2]","sources":[{"page":2,"text":"quoted","relevance":"HIGH"}],"page_references":[2]}`, "See [P2]", false, []int{2}},
		{"response field", 200, `{"response":"legacy shape"}`, "legacy shape", false, nil},
		{"empty answer", 200, `{"sources":[]}`, "", true, nil},
		{"not json", 200, `<html>gateway</html>`, "", true, nil},
		{"server error", 500, `{"error":"down"}`, "", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/documents/trial-7/query" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				var body backendRequest
				_ = json.NewDecoder(r.Body).Decode(&body)
				if body.Question != "age limit?" {
					t.Errorf("question = %q", body.Question)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.reply))
			}))
			defer srv.Close()

			p := NewBackendProvider(srv.Client(), srv.URL+"/", "", logger.NewNoOpLogger())
			resp, err := p.Answer(context.Background(), QueryParams{Question: "age limit?", DocumentID: "trial-7"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if resp.Content != tt.want {
				t.Errorf("content = %q, want %q", resp.Content, tt.want)
			}
			if !reflect.DeepEqual(resp.PageReferences, tt.wantPages) {
				t.Errorf("page references = %v, want %v", resp.PageReferences, tt.wantPages)
			}
		})
	}
}

func TestBackendProvider_SourceNormalisation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"x","sources":[{"page":0},{"page":4,"exactText":"dose","relevance":"Medium"},{"page":5,"relevance":"critical"}]}`))
	}))
	defer srv.Close()

	p := NewBackendProvider(srv.Client(), srv.URL, "", logger.NewNoOpLogger())
	resp, err := p.Answer(context.Background(), QueryParams{Question: "q", DocumentID: "d"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %+v", resp.Sources)
	}
	if resp.Sources[0].Relevance != models.RelevanceMedium || resp.Sources[1].Relevance != models.RelevanceLow {
		t.Errorf("relevance not normalised: %+v", resp.Sources)
	}
}

func TestChatPDFProvider_CachesSource(t *testing.T) {
	var adds, chats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "cp-key" {
			t.Error("missing api key")
		}
		switch r.URL.Path {
		case "/v1/sources/add-url":
			adds.Add(1)
			_, _ = w.Write([]byte(`{"sourceId":"src_123"}`))
		case "/v1/chats/message":
			chats.Add(1)
			var body chatPDFRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.SourceID != "src_123" || !body.ReferenceSources {
				t.Errorf("chat request = %+v", body)
			}
			_, _ = w.Write([]byte(`{"content":"Enrollment requires age 18-65 [P3].","references":[{"pageNumber":3}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := NewChatPDFProvider(srv.Client(), "cp-key", srv.URL, nil, logger.NewNoOpLogger())
	params := QueryParams{Question: "age?", Document: models.DocumentLocator{ID: "doc-1", URL: "https://example.org/t.pdf"}}

	for i := 0; i < 2; i++ {
		resp, err := p.Answer(context.Background(), params)
		if err != nil {
			t.Fatalf("Answer() error: %v", err)
		}
		if got := citations.ParseReferences(resp.Content); !reflect.DeepEqual(got, []int{3}) {
			t.Errorf("markers = %v", got)
		}
		if !reflect.DeepEqual(resp.PageReferences, []int{3}) {
			t.Errorf("page references = %v", resp.PageReferences)
		}
	}
	if adds.Load() != 1 || chats.Load() != 2 {
		t.Errorf("adds=%d chats=%d, want 1 and 2", adds.Load(), chats.Load())
	}
}

func TestChatPDFProvider_UploadsFileWithoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sources/add-file":
			if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				t.Errorf("content type = %s", r.Header.Get("Content-Type"))
			}
			f, hdr, err := r.FormFile("file")
			if err != nil {
				t.Fatalf("no file part: %v", err)
			}
			defer f.Close()
			if hdr.Filename != "protocol.pdf" {
				t.Errorf("filename = %s", hdr.Filename)
			}
			_, _ = w.Write([]byte(`{"sourceId":"src_file"}`))
		case "/v1/chats/message":
			_, _ = w.Write([]byte(`{"content":"Answer [P1]"}`))
		}
	}))
	defer srv.Close()

	fetcher := &staticFetcher{data: []byte("%PDF-1.4 body")}
	p := NewChatPDFProvider(srv.Client(), "k", srv.URL, fetcher, logger.NewNoOpLogger())
	resp, err := p.Answer(context.Background(), QueryParams{
		Question: "q",
		Document: models.DocumentLocator{ID: "doc-2", Name: "protocol.pdf", FilePath: "/tmp/protocol.pdf"},
	})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if resp.PageReferences != nil {
		t.Errorf("page references = %v, want none", resp.PageReferences)
	}
	if fetcher.calls.Load() != 1 {
		t.Errorf("fetch calls = %d", fetcher.calls.Load())
	}
}

func TestChatPDFProvider_ForgetsExpiredSource(t *testing.T) {
	var adds atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/sources/add-url" {
			adds.Add(1)
			_, _ = w.Write([]byte(`{"sourceId":"src"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewChatPDFProvider(srv.Client(), "k", srv.URL, nil, logger.NewNoOpLogger())
	params := QueryParams{Question: "q", Document: models.DocumentLocator{ID: "d", URL: "https://example.org/d.pdf"}}
	for i := 0; i < 2; i++ {
		if _, err := p.Answer(context.Background(), params); err == nil {
			t.Fatal("expected error")
		}
	}
	if adds.Load() != 2 {
		t.Errorf("source should be re-added after a 404, adds = %d", adds.Load())
	}
}

func TestDirectProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"content": [
				{"type":"text","text":"Participants must be adults up to 65"},
				{"type":"text","text":" and consent is required.","citations":[
					{"type":"page_location","cited_text":"Patients must be between 18 and 65 years old","start_page_number":3,"end_page_number":5},
					{"type":"page_location","cited_text":"written informed consent","start_page_number":4,"end_page_number":5}
				]}
			],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":10,"output_tokens":5}
		}`))
	}))
	defer srv.Close()

	claude := llm.NewClaudeClient(srv.Client(), "k", "", srv.URL, nil, logger.NewNoOpLogger())
	p := NewDirectProvider(claude, &staticFetcher{data: []byte("%PDF-1.7\n...")}, logger.NewNoOpLogger())

	resp, err := p.Answer(context.Background(), QueryParams{Question: "q", DocumentID: "d"})
	if err != nil {
		t.Fatalf("Answer() error: %v", err)
	}
	if !reflect.DeepEqual(resp.PageReferences, []int{3, 4}) {
		t.Errorf("page references = %v, want [3 4]", resp.PageReferences)
	}
	if len(resp.Sources) != 2 || resp.Sources[0].ExactText != "Patients must be between 18 and 65 years old" {
		t.Errorf("sources = %+v", resp.Sources)
	}
	seeds := citations.ParseQuotedReferences(resp.Content)
	if len(seeds) != 2 || seeds[0].Page != 3 || seeds[1].Quote != "written informed consent" {
		t.Errorf("seeds = %+v from %q", seeds, resp.Content)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 10 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestDirectProvider_FetchErrorIsNotDecline(t *testing.T) {
	fetchErr := &documents.FetchError{DocumentID: "d", Source: "url", StatusCode: 404}
	claude := llm.NewClaudeClient(nil, "k", "", "http://127.0.0.1:1", nil, logger.NewNoOpLogger())
	p := NewDirectProvider(claude, &staticFetcher{err: fetchErr}, logger.NewNoOpLogger())

	_, err := p.Answer(context.Background(), QueryParams{Question: "q", DocumentID: "d"})
	var fe *documents.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want FetchError", err)
	}
	if errors.Is(err, ErrModelDeclined) {
		t.Error("fetch failure must not look like a model refusal")
	}
}

func TestDirectProvider_RejectsNonPDF(t *testing.T) {
	claude := llm.NewClaudeClient(nil, "k", "", "http://127.0.0.1:1", nil, logger.NewNoOpLogger())
	p := NewDirectProvider(claude, &staticFetcher{data: []byte("<html></html>")}, logger.NewNoOpLogger())
	_, err := p.Answer(context.Background(), QueryParams{Question: "q", DocumentID: "d"})
	var fe *documents.FetchError
	if !errors.As(err, &fe) {
		t.Errorf("error = %v, want FetchError", err)
	}
}

func TestQuoteForMarker(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain   text", "'plain text'"},
		{"patient's consent", `"patient's consent"`},
		{`it's "quoted"`, `'it’s "quoted"'`},
	}
	for _, tt := range tests {
		if got := quoteForMarker(tt.in); got != tt.want {
			t.Errorf("quoteForMarker(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMockProvider(t *testing.T) {
	resp, err := MockProvider{}.Answer(context.Background(), QueryParams{Question: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if got := citations.ParseReferences(resp.Content); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Errorf("mock references = %v, want [1 2]", got)
	}
}
