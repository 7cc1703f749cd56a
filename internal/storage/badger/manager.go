package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
)

// Manager owns the record store connection and its storage views
type Manager struct {
	db      *BadgerDB
	records interfaces.RecordStorage
	logger  arbor.ILogger
}

// NewManager opens the record store
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("path", config.Path).
		Msg("Record store initialized")

	return &Manager{
		db:      db,
		records: NewRecordStorage(db, logger),
		logger:  logger,
	}, nil
}

// RecordStorage returns the record storage interface
func (m *Manager) RecordStorage() interfaces.RecordStorage {
	return m.records
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
