package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/Epistemic-Technology/zotero/zotero"

	"github.com/Epistemic-Technology/trialqa/internal/logger"
	"github.com/Epistemic-Technology/trialqa/models"
)

// TrialDocumentQuery finds trial documents (protocols, CSRs, publications)
// in a Zotero library.
type TrialDocumentQuery struct {
	TrialID    string // Registry id such as NCT01234567; matched against tags and text
	Query      string // Additional quick search text
	Collection string // Restrict to a collection key
	Limit      int    // Max parent items (default 25)
}

// TrialDocument is a PDF attachment that can be passed to the question tools.
type TrialDocument struct {
	Locator  models.DocumentLocator `json:"locator"`
	Title    string                 `json:"title"`
	ItemType string                 `json:"item_type"`
	Date     string                 `json:"date,omitempty"`
	Creators []string               `json:"creators,omitempty"`
}

// FindTrialDocuments searches the library and returns every PDF attachment of
// the matching items. Items without a PDF are left out.
func FindTrialDocuments(ctx context.Context, apiKey, libraryID string, q TrialDocumentQuery, log logger.Logger) ([]TrialDocument, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Zotero API key is required")
	}
	if libraryID == "" {
		return nil, fmt.Errorf("Zotero library ID is required")
	}

	client := zotero.NewClient(libraryID, zotero.LibraryTypeUser, zotero.WithAPIKey(apiKey))

	params := &zotero.QueryParams{
		Q:        strings.TrimSpace(strings.Join([]string{q.TrialID, q.Query}, " ")),
		QMode:    "everything",
		ItemType: []string{"-attachment"},
		Limit:    q.Limit,
		Sort:     "dateModified",
	}
	if params.Limit == 0 {
		params.Limit = 25
	}

	var items []zotero.Item
	var err error
	if q.Collection != "" {
		items, err = client.CollectionItems(ctx, q.Collection, params)
	} else {
		items, err = client.Items(ctx, params)
	}
	if err != nil {
		log.Error("Failed to search Zotero for trial %s: %v", q.TrialID, err)
		return nil, fmt.Errorf("failed to search Zotero library: %w", err)
	}
	log.Info("Found %d candidate items for trial %q", len(items), q.TrialID)

	var docs []TrialDocument
	for _, item := range items {
		children, err := client.Children(ctx, item.Key, nil)
		if err != nil {
			log.Warn("Failed to retrieve attachments for item %s: %v", item.Key, err)
			continue
		}
		var creators []string
		for _, c := range item.Data.Creators {
			switch {
			case c.Name != "":
				creators = append(creators, c.Name)
			case c.FirstName != "" || c.LastName != "":
				creators = append(creators, strings.TrimSpace(c.FirstName+" "+c.LastName))
			}
		}
		for _, child := range children {
			if child.Data.ItemType != "attachment" || child.Data.ContentType != "application/pdf" {
				continue
			}
			name := child.Data.Filename
			if name == "" {
				name = item.Data.Title
			}
			docs = append(docs, TrialDocument{
				Locator: models.DocumentLocator{
					ID:       "zotero_" + child.Key,
					Name:     name,
					ZoteroID: child.Key,
					MIMEType: child.Data.ContentType,
				},
				Title:    item.Data.Title,
				ItemType: item.Data.ItemType,
				Date:     item.Data.DateAdded,
				Creators: creators,
			})
		}
	}
	return docs, nil
}
