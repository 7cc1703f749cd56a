package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RecordStorage implements interfaces.RecordStorage on badgerhold
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

// ExistingIDs checks every id inside one read transaction
func (s *RecordStorage) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool)
	if len(ids) == 0 {
		return found, nil
	}

	err := s.db.Store().Badger().View(func(tx *badgerdb.Txn) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if found[id] {
				continue
			}
			var rec models.Record
			err := s.db.Store().TxGet(tx, id, &rec)
			switch {
			case err == nil:
				found[id] = true
			case errors.Is(err, badgerhold.ErrNotFound):
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing records: %w", err)
	}
	return found, nil
}

// SaveRecords upserts all records in one read-write transaction, so a
// failure leaves none of them written
func (s *RecordStorage) SaveRecords(ctx context.Context, records []*models.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.ID == "" {
			return fmt.Errorf("record ID is required")
		}
	}

	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.db.Store().TxUpsert(tx, r.ID, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %d records: %w", len(records), err)
	}

	s.logger.Debug().
		Int("count", len(records)).
		Msg("Records saved")
	return nil
}

func (s *RecordStorage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var rec models.Record
	if err := s.db.Store().Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("record not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

// ListRecords returns records newest first, optionally filtered by source
func (s *RecordStorage) ListRecords(ctx context.Context, source string, limit, offset int) ([]*models.Record, error) {
	query := badgerhold.Where("ID").Ne("")
	if source != "" {
		query = badgerhold.Where("Source").Eq(source)
	}
	query = query.SortBy("CollectedAt").Reverse()
	if offset > 0 {
		query = query.Skip(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var recs []models.Record
	if err := s.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	result := make([]*models.Record, len(recs))
	for i := range recs {
		result[i] = &recs[i]
	}
	return result, nil
}

func (s *RecordStorage) CountRecords(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Record{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(count), nil
}

func (s *RecordStorage) CountRecordsBySource(ctx context.Context, source string) (int, error) {
	count, err := s.db.Store().Count(&models.Record{}, badgerhold.Where("Source").Eq(source))
	if err != nil {
		return 0, fmt.Errorf("failed to count records by source: %w", err)
	}
	return int(count), nil
}

// GetStats walks the store once and tallies records per source
func (s *RecordStorage) GetStats(ctx context.Context) (*models.RecordStats, error) {
	stats := &models.RecordStats{BySource: make(map[string]int)}

	err := s.db.Store().ForEach(badgerhold.Where("ID").Ne(""), func(r *models.Record) error {
		stats.Total++
		stats.BySource[r.Source]++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute record stats: %w", err)
	}
	return stats, nil
}
