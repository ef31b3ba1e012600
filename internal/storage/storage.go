package storage

import (
	"context"
	"errors"

	"github.com/Epistemic-Technology/trialqa/models"
)

// ErrNotFound is returned when a Q&A item does not exist.
var ErrNotFound = errors.New("qa item not found")

// QAStore defines the interface for storing and retrieving Q&A items
type QAStore interface {
	// SaveItem stores an item, assigning an ID and creation time when unset
	SaveItem(ctx context.Context, item *models.QAItem) (string, error)

	// GetItem retrieves a single item by ID
	GetItem(ctx context.Context, id string) (*models.QAItem, error)

	// SearchItems returns items matching the filter, newest first
	SearchItems(ctx context.Context, filter models.QAFilter) ([]models.QAItem, error)

	// SetVerified marks an item as checked (or unchecked) by a reviewer
	SetVerified(ctx context.Context, id string, verified bool) error

	// DeleteItem removes an item
	DeleteItem(ctx context.Context, id string) error

	// Close closes the database connection
	Close() error
}
