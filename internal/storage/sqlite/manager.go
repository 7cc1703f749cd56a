package sqlite

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
)

// Manager owns the control plane connection
type Manager struct {
	db      *SQLiteDB
	control interfaces.ControlStorage
	logger  arbor.ILogger
}

// NewManager opens the control plane database
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (*Manager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:      db,
		control: NewControlStorage(db, logger),
		logger:  logger,
	}, nil
}

// ControlStorage returns the control storage interface
func (m *Manager) ControlStorage() interfaces.ControlStorage {
	return m.control
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
