package interfaces

import (
	"context"

	"github.com/ternarybob/gleaner/internal/models"
)

// Source is a paginated adapter over an external origin of raw items.
// Pages are yielded strictly in order; NextPage is never called concurrently.
type Source interface {
	Name() string

	// Open acquires any session the adapter needs (browser, HTTP client)
	Open(ctx context.Context) error

	// NextPage returns the next page, or models.ErrSourceExhausted when done
	NextPage(ctx context.Context) (*models.Page, error)

	// Close releases the session; it must be safe to call after a failed Open
	Close() error
}

// Extractor turns one raw item into a Record for a given source
type Extractor interface {
	SourceName() string
	ExtractOne(ctx context.Context, raw models.RawItem) (*models.Record, error)
}
