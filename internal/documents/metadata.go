package documents

import (
	"context"
	"fmt"

	"github.com/Epistemic-Technology/zotero/zotero"

	"github.com/Epistemic-Technology/trialqa/models"
)

// ResolveZoteroName fills in a display name for a Zotero-backed locator.
// If the key is an attachment, the parent item's title is preferred.
// Locators that already carry a name, or are not Zotero-backed, are returned unchanged.
func ResolveZoteroName(ctx context.Context, loc models.DocumentLocator, apiKey string, libraryID string) (models.DocumentLocator, error) {
	if loc.ZoteroID == "" || loc.Name != "" {
		return loc, nil
	}
	if apiKey == "" || libraryID == "" {
		return loc, fmt.Errorf("zotero credentials are required to resolve %s", loc.ZoteroID)
	}

	client := zotero.NewClient(libraryID, zotero.LibraryTypeUser, zotero.WithAPIKey(apiKey))

	item, err := client.Item(ctx, loc.ZoteroID, nil)
	if err != nil {
		return loc, fmt.Errorf("failed to fetch Zotero item %s: %w", loc.ZoteroID, err)
	}

	name := item.Data.Title
	if item.Data.ItemType == "attachment" && item.Data.ParentItem != "" {
		parent, err := client.Item(ctx, item.Data.ParentItem, nil)
		if err == nil && parent.Data.Title != "" {
			name = parent.Data.Title
		}
	}
	if name == "" {
		name = loc.ZoteroID
	}

	loc.Name = name
	return loc, nil
}
