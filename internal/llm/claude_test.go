package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
)

func TestClaudeClient_AskDocument(t *testing.T) {
	pdf := []byte("%PDF-1.4 fake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "anthropic-key" || r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic headers")
		}

		var body struct {
			Messages []struct {
				Content []map[string]any `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		doc := body.Messages[0].Content[0]
		source := doc["source"].(map[string]any)
		if source["data"] != base64.StdEncoding.EncodeToString(pdf) {
			t.Error("document was not base64 encoded")
		}
		if doc["citations"].(map[string]any)["enabled"] != true {
			t.Error("citations not enabled")
		}

		_, _ = w.Write([]byte(`{
			"content": [
				{"type": "text", "text": "The age limit is "},
				{"type": "text", "text": "18 to 65 years", "citations": [
					{"type": "page_location", "cited_text": "between 18 and 65 years old ", "document_index": 0, "start_page_number": 3, "end_page_number": 4}
				]},
				{"type": "text", "text": "."}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 1200, "output_tokens": 40}
		}`))
	}))
	defer srv.Close()

	c := NewClaudeClient(srv.Client(), "anthropic-key", "", srv.URL, testLimiter(), logger.NewNoOpLogger())
	ans, err := c.AskDocument(context.Background(), DocumentQuestion{Question: "Age limit?", PDF: pdf, Title: "Trial"})
	if err != nil {
		t.Fatalf("AskDocument() error: %v", err)
	}
	if ans.Text() != "The age limit is 18 to 65 years." {
		t.Errorf("text = %q", ans.Text())
	}
	cits := ans.Citations()
	if len(cits) != 1 || cits[0].StartPage != 3 || cits[0].CitedText != "between 18 and 65 years old" {
		t.Errorf("citations = %+v", cits)
	}
	if ans.Usage.InputTokens != 1200 || ans.Usage.OutputTokens != 40 {
		t.Errorf("usage = %+v", ans.Usage)
	}
}

func TestClaudeClient_Refusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content": [], "stop_reason": "refusal"}`))
	}))
	defer srv.Close()

	c := NewClaudeClient(srv.Client(), "k", "", srv.URL, testLimiter(), logger.NewNoOpLogger())
	_, err := c.AskDocument(context.Background(), DocumentQuestion{Question: "q", PDF: []byte("%PDF")})
	if !errors.Is(err, ErrDeclined) {
		t.Errorf("error = %v, want ErrDeclined", err)
	}
}

func TestClaudeClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewClaudeClient(srv.Client(), "k", "", srv.URL, testLimiter(), logger.NewNoOpLogger())
	_, err := c.AskDocument(context.Background(), DocumentQuestion{Question: "q", PDF: []byte("%PDF")})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusBadRequest {
		t.Errorf("error = %v, want HTTPError 400", err)
	}
}
