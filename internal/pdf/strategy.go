package pdf

import "context"

// Document is the input handed to every strategy.
type Document struct {
	Data      []byte
	PageCount int
}

// Strategy extracts text for a set of 1-based pages. It returns whatever pages
// it could read; pages missing from the map are retried by the next strategy.
type Strategy interface {
	Name() string
	Extract(ctx context.Context, doc Document, pages []int) (map[int]string, error)
}

// DefaultStrategies is the extraction ladder used when none is configured.
func DefaultStrategies() []Strategy {
	return []Strategy{
		StructuralStrategy{},
		ContentStreamStrategy{},
		WholeDocumentStrategy{},
	}
}
