// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 9:12:40 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"

	"github.com/ternarybob/gleaner/internal/models"
)

// RecordStorage - interface for the persisted record (document) store
type RecordStorage interface {
	// ExistingIDs returns the subset of ids already stored, in one lookup
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// SaveRecords writes all records as a single atomic multi-write keyed by ID
	SaveRecords(ctx context.Context, records []*models.Record) error

	GetRecord(ctx context.Context, id string) (*models.Record, error)
	ListRecords(ctx context.Context, source string, limit, offset int) ([]*models.Record, error)
	CountRecords(ctx context.Context) (int, error)
	CountRecordsBySource(ctx context.Context, source string) (int, error)
	GetStats(ctx context.Context) (*models.RecordStats, error)
}

// ControlStorage - interface for the durable control plane
type ControlStorage interface {
	GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error)
	SetServiceStatus(ctx context.Context, status models.ServiceState) error

	// GetScraperStatus returns an idle default for names never seen before
	GetScraperStatus(ctx context.Context, name string) (*models.ScraperStatus, error)
	ListScraperStatuses(ctx context.Context) ([]*models.ScraperStatus, error)

	// SetScraperStatus upserts the row and refreshes last_run
	SetScraperStatus(ctx context.Context, name string, status models.ScraperState, errorMessage string) error

	// IncrementIngested adds count to the running total and stamps last_success
	IncrementIngested(ctx context.Context, name string, count int) error

	// ClaimRun atomically moves idle|error to running; false means another
	// actor holds the scraper or it has been paused
	ClaimRun(ctx context.Context, name string) (bool, error)

	// FinishRun moves running to status; false means the row was changed
	// by someone else during the run (e.g. an operator pause)
	FinishRun(ctx context.Context, name string, status models.ScraperState, errorMessage string) (bool, error)

	Close() error
}

// StorageManager owns both stores for the lifetime of the process
type StorageManager interface {
	RecordStorage() RecordStorage
	ControlStorage() ControlStorage
	Close() error
}
