package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/Epistemic-Technology/zotero/zotero"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

// ErrNoSource is returned when a locator names no URL, Zotero key or file.
var ErrNoSource = errors.New("document locator has no url, zotero_id or file_path")

// FetchError reports a failure to retrieve document bytes. It is distinct from
// any model-side failure so callers can tell "could not load the PDF" apart
// from "the model declined to answer".
type FetchError struct {
	DocumentID string
	Source     string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch document %s from %s: status %d", e.DocumentID, e.Source, e.StatusCode)
	}
	return fmt.Sprintf("fetch document %s from %s: %v", e.DocumentID, e.Source, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Fetcher retrieves the raw bytes of a document.
type Fetcher interface {
	Fetch(ctx context.Context, loc models.DocumentLocator) ([]byte, error)
}

// SourceFetcher fetches from whichever source the locator names: a local file,
// a Zotero attachment or a URL, in that order.
type SourceFetcher struct {
	HTTPClient      *http.Client
	ZoteroAPIKey    string
	ZoteroLibraryID string
}

// NewSourceFetcher creates a fetcher. A nil client means http.DefaultClient.
func NewSourceFetcher(client *http.Client, zoteroAPIKey, zoteroLibraryID string) *SourceFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SourceFetcher{
		HTTPClient:      client,
		ZoteroAPIKey:    zoteroAPIKey,
		ZoteroLibraryID: zoteroLibraryID,
	}
}

func (f *SourceFetcher) Fetch(ctx context.Context, loc models.DocumentLocator) ([]byte, error) {
	var data []byte
	var err error
	var source string

	switch {
	case loc.FilePath != "":
		source = "file"
		data, err = os.ReadFile(loc.FilePath)
	case loc.ZoteroID != "":
		source = "zotero"
		data, err = GetFromZotero(ctx, loc.ZoteroID, f.ZoteroAPIKey, f.ZoteroLibraryID)
	case loc.URL != "":
		source = "url"
		data, err = f.getFromURL(ctx, loc)
	default:
		return nil, &FetchError{DocumentID: loc.ID, Source: "none", Cause: ErrNoSource}
	}
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &FetchError{DocumentID: loc.ID, Source: source, Cause: err}
	}
	if len(data) == 0 {
		return nil, &FetchError{DocumentID: loc.ID, Source: source, Cause: errors.New("no data retrieved")}
	}
	return data, nil
}

func (f *SourceFetcher) getFromURL(ctx context.Context, loc models.DocumentLocator) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &FetchError{DocumentID: loc.ID, Source: "url", StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// GetFromZotero fetches an attachment file from a Zotero user library
func GetFromZotero(ctx context.Context, zoteroID string, apiKey string, libraryID string) ([]byte, error) {
	if apiKey == "" || libraryID == "" {
		return nil, errors.New("ZOTERO_API_KEY and ZOTERO_LIBRARY_ID are required for zotero documents")
	}
	client := zotero.NewClient(libraryID, zotero.LibraryTypeUser, zotero.WithAPIKey(apiKey))
	return client.File(ctx, zoteroID)
}

// CachingFetcher keeps fetched bytes per document id for the lifetime of a
// session so margin expansion and provider uploads never download twice.
type CachingFetcher struct {
	next Fetcher
	log  logger.Logger

	mu    sync.Mutex
	bytes map[string][]byte
}

func NewCachingFetcher(next Fetcher, log logger.Logger) *CachingFetcher {
	return &CachingFetcher{next: next, log: log, bytes: make(map[string][]byte)}
}

func (c *CachingFetcher) Fetch(ctx context.Context, loc models.DocumentLocator) ([]byte, error) {
	key := Key(loc)
	c.mu.Lock()
	data, ok := c.bytes[key]
	c.mu.Unlock()
	if ok {
		return data, nil
	}

	data, err := c.next.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	c.log.Debug("Fetched document %s (%d bytes)", key, len(data))

	c.mu.Lock()
	c.bytes[key] = data
	c.mu.Unlock()
	return data, nil
}

// Forget drops a single document from the cache.
func (c *CachingFetcher) Forget(docID string) {
	c.mu.Lock()
	delete(c.bytes, docID)
	c.mu.Unlock()
}

// Reset empties the cache.
func (c *CachingFetcher) Reset() {
	c.mu.Lock()
	c.bytes = make(map[string][]byte)
	c.mu.Unlock()
}

// Key is the identity a document is cached under.
func Key(loc models.DocumentLocator) string {
	if loc.ID != "" {
		return loc.ID
	}
	if loc.URL != "" {
		return loc.URL
	}
	if loc.ZoteroID != "" {
		return "zotero_" + loc.ZoteroID
	}
	return loc.FilePath
}

// DetectDocumentType determines the type of document from the raw data
// by checking magic bytes/headers
func DetectDocumentType(data []byte) string {
	if len(data) < 4 {
		return "unknown"
	}

	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "pdf"
	}

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("<!DOCTYPE html")) ||
		bytes.HasPrefix(trimmed, []byte("<!doctype html")) ||
		bytes.HasPrefix(trimmed, []byte("<html")) ||
		bytes.HasPrefix(trimmed, []byte("<HTML")) {
		return "html"
	}

	return "unknown"
}

// IsPDF reports whether data starts with the PDF magic header.
func IsPDF(data []byte) bool {
	return DetectDocumentType(data) == "pdf"
}
