package storage

import (
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/storage/badger"
	"github.com/ternarybob/gleaner/internal/storage/sqlite"
)

// Manager pairs the badger record store with the sqlite control plane
type Manager struct {
	records *badger.Manager
	control *sqlite.Manager
	logger  arbor.ILogger
}

// NewStorageManager opens both stores from config
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	records, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	control, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("failed to open control plane: %w", err)
	}

	return &Manager{records: records, control: control, logger: logger}, nil
}

func (m *Manager) RecordStorage() interfaces.RecordStorage {
	return m.records.RecordStorage()
}

func (m *Manager) ControlStorage() interfaces.ControlStorage {
	return m.control.ControlStorage()
}

// Close closes both stores, reporting every failure
func (m *Manager) Close() error {
	return errors.Join(m.control.Close(), m.records.Close())
}
