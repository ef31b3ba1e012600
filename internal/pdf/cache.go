package pdf

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Epistemic-Technology/trialqa/models"
)

// PageCache holds extracted pages per document for the lifetime of a session.
// Placeholder pages are never stored so a later attempt can still succeed.
type PageCache struct {
	mu    sync.RWMutex
	pages map[string]map[int]models.PageText

	group singleflight.Group
}

func NewPageCache() *PageCache {
	return &PageCache{pages: make(map[string]map[int]models.PageText)}
}

func (c *PageCache) Get(docID string, page int) (models.PageText, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pages[docID][page]
	return p, ok
}

func (c *PageCache) Put(docID string, pages ...models.PageText) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.pages[docID]
	if !ok {
		doc = make(map[int]models.PageText)
		c.pages[docID] = doc
	}
	for _, p := range pages {
		if p.Placeholder {
			continue
		}
		doc[p.PageNumber] = p
	}
}

// Len returns the number of cached pages for a document.
func (c *PageCache) Len(docID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages[docID])
}

// Clear drops every cached page of one document.
func (c *PageCache) Clear(docID string) {
	c.mu.Lock()
	delete(c.pages, docID)
	c.mu.Unlock()
}

func (c *PageCache) Reset() {
	c.mu.Lock()
	c.pages = make(map[string]map[int]models.PageText)
	c.mu.Unlock()
}

// do collapses concurrent extractions of the same key into one.
func (c *PageCache) do(key string, fn func() (any, error)) (any, error) {
	v, err, _ := c.group.Do(key, fn)
	return v, err
}
