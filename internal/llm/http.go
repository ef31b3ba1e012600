package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
)

const defaultHTTPTimeout = 90 * time.Second

// HTTPError is a non-2xx reply from an upstream service. Body holds at most
// the first few hundred bytes of the response.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// NewHTTPClient returns a client with the default upstream timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// SendJSON posts body as JSON to url and returns the raw response body. A
// non-2xx status is returned as *HTTPError along with the body.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, log logger.Logger) ([]byte, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return Send(ctx, client, http.MethodPost, url, "application/json", bytes.NewReader(bs), headers, log)
}

// Send performs one request and reads the whole response. Every request is
// tagged with a request id in the log.
func Send(ctx context.Context, client *http.Client, method, url, contentType string, body io.Reader, headers map[string]string, log logger.Logger) ([]byte, error) {
	if client == nil {
		client = NewHTTPClient()
	}
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	log.Debug("http request %s %s %s", reqID, method, url)

	resp, err := client.Do(req)
	if err != nil {
		log.Warn("http request %s failed after %dms: %v", reqID, time.Since(start).Milliseconds(), err)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	log.Debug("http response %s status=%d bytes=%d elapsed=%dms", reqID, resp.StatusCode, len(raw), time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		snippet := string(raw)
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return raw, &HTTPError{URL: url, StatusCode: resp.StatusCode, Body: snippet}
	}
	return raw, nil
}
