package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Epistemic-Technology/trialqa/internal/answer"
	"github.com/Epistemic-Technology/trialqa/internal/citations"
	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/internal/metrics"
	"github.com/Epistemic-Technology/trialqa/internal/operations"
	"github.com/Epistemic-Technology/trialqa/internal/pdf"
	"github.com/Epistemic-Technology/trialqa/internal/storage"
	"github.com/Epistemic-Technology/trialqa/models"
)

type staticFetcher struct{}

func (staticFetcher) Fetch(ctx context.Context, loc models.DocumentLocator) ([]byte, error) {
	return []byte("%PDF-1.4 test"), nil
}

type pageTable map[int]string

func (pageTable) Name() string { return "table" }

func (t pageTable) Extract(ctx context.Context, doc pdf.Document, pages []int) (map[int]string, error) {
	out := make(map[int]string)
	for _, p := range pages {
		if text, ok := t[p]; ok {
			out[p] = text
		}
	}
	return out, nil
}

type failingProvider struct{}

func (failingProvider) Kind() models.ProviderKind { return models.ProviderBackend }
func (failingProvider) Available() bool { return true }

func (failingProvider) Answer(ctx context.Context, params answer.QueryParams) (*models.UnifiedAnswerResponse, error) {
	return nil, errors.New("backend returned 500")
}

type unavailableProvider struct{ failingProvider }

func (unavailableProvider) Available() bool { return false }

func newTestServer(t *testing.T, provider answer.Provider) (*httptest.Server, storage.QAStore) {
	t.Helper()
	log := logger.NewNoOpLogger()
	m := metrics.NewMetrics()

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "qa.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	router := answer.NewRouter(provider.Kind(), log, m, provider)
	extractor := pdf.NewExtractor(staticFetcher{}, nil, log,
		pdf.WithStrategies(pageTable{
			1: "Study Overview\nA randomised trial of drug X.",
			2: "Eligibility Criteria\nPatients must be between 18 and 65 years old to enroll.",
		}),
		pdf.WithPageCounter(func([]byte) (int, error) { return 2, nil }))
	pipeline := operations.NewPipeline(router, extractor, citations.NewLocator(log, m), log,
		operations.WithStore(store), operations.WithMetrics(m))

	srv := httptest.NewServer(NewHandler(pipeline, store, m, log).Routes())
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAskQuestion_SavesAndLists(t *testing.T) {
	srv, _ := newTestServer(t, answer.MockProvider{})

	resp := do(t, http.MethodPost, srv.URL+"/api/documents/protocol/questions", `{
		"question": "What is the enrollment age limit?",
		"url": "https://docs.example.org/protocol.pdf",
		"trial_id": "NCT01",
		"save": true,
		"tags": ["eligibility"]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result operations.QuestionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.ItemID == "" {
		t.Error("expected saved item id")
	}
	if result.Answer.ProviderUsed != models.ProviderMock || len(result.Citations.Citations) == 0 {
		t.Errorf("result = %+v", result)
	}

	list := do(t, http.MethodGet, srv.URL+"/api/trials/NCT01/qa?tag=eligibility&verified=false", "")
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", list.StatusCode)
	}
	var body struct {
		Items []models.QAItem `json:"items"`
		Count int             `json:"count"`
	}
	if err := json.NewDecoder(list.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Items[0].ID != result.ItemID || body.Items[0].DocumentID != "protocol" {
		t.Errorf("listed = %+v", body)
	}

	verify := do(t, http.MethodPost, srv.URL+"/api/qa/"+result.ItemID+"/verify", "")
	if verify.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d", verify.StatusCode)
	}
	get := do(t, http.MethodGet, srv.URL+"/api/qa/"+result.ItemID, "")
	var item models.QAItem
	if err := json.NewDecoder(get.Body).Decode(&item); err != nil {
		t.Fatal(err)
	}
	if !item.Verified {
		t.Error("item should be verified")
	}

	if del := do(t, http.MethodDelete, srv.URL+"/api/qa/"+result.ItemID, ""); del.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", del.StatusCode)
	}
	if again := do(t, http.MethodDelete, srv.URL+"/api/qa/"+result.ItemID, ""); again.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", again.StatusCode)
	}
}

func TestAskQuestion_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		provider answer.Provider
		body     string
		want     int
		wantKind string
	}{
		{
			name:     "provider failure",
			provider: failingProvider{},
			body:     `{"question": "q", "url": "https://docs.example.org/p.pdf"}`,
			want:     http.StatusBadGateway,
			wantKind: "query_failed",
		},
		{
			name:     "no provider available",
			provider: unavailableProvider{},
			body:     `{"question": "q", "url": "https://docs.example.org/p.pdf"}`,
			want:     http.StatusServiceUnavailable,
			wantKind: "service_unavailable",
		},
		{
			name:     "missing question",
			provider: answer.MockProvider{},
			body:     `{"url": "https://docs.example.org/p.pdf"}`,
			want:     http.StatusBadRequest,
			wantKind: "invalid_request",
		},
		{
			name:     "missing document source",
			provider: answer.MockProvider{},
			body:     `{"question": "q"}`,
			want:     http.StatusBadRequest,
			wantKind: "invalid_request",
		},
		{
			name:     "local file path refused",
			provider: answer.MockProvider{},
			body:     `{"question": "q", "file_path": "/etc/passwd"}`,
			want:     http.StatusBadRequest,
			wantKind: "invalid_request",
		},
		{
			name:     "local file path refused alongside url",
			provider: answer.MockProvider{},
			body:     `{"question": "q", "url": "https://docs.example.org/p.pdf", "file_path": "/etc/passwd"}`,
			want:     http.StatusBadRequest,
			wantKind: "invalid_request",
		},
		{
			name:     "malformed body",
			provider: answer.MockProvider{},
			body:     `{"question":`,
			want:     http.StatusBadRequest,
			wantKind: "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.provider)
			resp := do(t, http.MethodPost, srv.URL+"/api/documents/p/questions", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var e errorBody
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
				t.Fatal(err)
			}
			if e.Kind != tt.wantKind || e.Error == "" {
				t.Errorf("error body = %+v, want kind %s", e, tt.wantKind)
			}
		})
	}
}

func TestListQA_BadParams(t *testing.T) {
	srv, _ := newTestServer(t, answer.MockProvider{})
	for _, q := range []string{"verified=maybe", "limit=-1", "limit=ten"} {
		resp := do(t, http.MethodGet, srv.URL+"/api/trials/NCT01/qa?"+q, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestVerify_Unverify(t *testing.T) {
	srv, store := newTestServer(t, answer.MockProvider{})
	id, err := store.SaveItem(context.Background(), &models.QAItem{TrialID: "NCT02", Question: "q", Answer: "a", Verified: true})
	if err != nil {
		t.Fatal(err)
	}

	resp := do(t, http.MethodPost, srv.URL+"/api/qa/"+id+"/verify", `{"verified": false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	item, err := store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if item.Verified {
		t.Error("item should no longer be verified")
	}

	if missing := do(t, http.MethodPost, srv.URL+"/api/qa/nope/verify", ""); missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown item status = %d, want 404", missing.StatusCode)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, answer.MockProvider{})

	if resp := do(t, http.MethodGet, srv.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	do(t, http.MethodPost, srv.URL+"/api/documents/p/questions", `{"question": "q", "url": "https://docs.example.org/p.pdf"}`)

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "trialqa_provider_attempts_total") {
		t.Error("metrics output missing provider attempts counter")
	}
}
