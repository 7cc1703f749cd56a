package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// ControlStorage implements interfaces.ControlStorage on SQLite.
// Cross-process safety comes from the conditional UPDATEs; the mutex only
// keeps writers in this process from tripping over SQLITE_BUSY.
type ControlStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewControlStorage creates a new ControlStorage instance
func NewControlStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ControlStorage {
	return &ControlStorage{
		db:     db,
		logger: logger,
	}
}

const recomputeActive = `
	UPDATE service_status SET
		active_scrapers = (SELECT COUNT(*) FROM scraper_status WHERE status = 'running'),
		last_check = ?
	WHERE id = 1`

// GetServiceStatus reads the singleton service row
func (s *ControlStorage) GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error) {
	var (
		status    string
		lastCheck sql.NullInt64
		active    int
	)
	err := s.db.db.QueryRowContext(ctx,
		`SELECT status, last_check, active_scrapers FROM service_status WHERE id = 1`,
	).Scan(&status, &lastCheck, &active)
	if err != nil {
		return nil, fmt.Errorf("failed to read service status: %w", err)
	}

	return &models.ServiceStatus{
		Status:         models.ServiceState(status),
		ActiveScrapers: active,
		LastCheck:      unixPtr(lastCheck),
	}, nil
}

// SetServiceStatus overwrites the service state
func (s *ControlStorage) SetServiceStatus(ctx context.Context, status models.ServiceState) error {
	if !status.Valid() {
		return fmt.Errorf("%w: service status %q", models.ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.db.ExecContext(ctx,
		`UPDATE service_status SET status = ?, last_check = ? WHERE id = 1`,
		string(status), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set service status: %w", err)
	}
	return nil
}

// GetScraperStatus returns the row for name, or an idle default
func (s *ControlStorage) GetScraperStatus(ctx context.Context, name string) (*models.ScraperStatus, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT name, status, last_run, last_success, error_message, records_ingested
		FROM scraper_status WHERE name = ?`, name)

	st, err := scanScraper(row)
	if err == sql.ErrNoRows {
		return &models.ScraperStatus{Name: name, Status: models.ScraperIdle}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scraper status: %w", err)
	}
	return st, nil
}

// ListScraperStatuses returns every known scraper ordered by name
func (s *ControlStorage) ListScraperStatuses(ctx context.Context) ([]*models.ScraperStatus, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT name, status, last_run, last_success, error_message, records_ingested
		FROM scraper_status ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scraper statuses: %w", err)
	}
	defer rows.Close()

	var out []*models.ScraperStatus
	for rows.Next() {
		st, err := scanScraper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scraper status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SetScraperStatus upserts the row, stamps last_run and refreshes the
// service's active count
func (s *ControlStorage) SetScraperStatus(ctx context.Context, name string, status models.ScraperState, errorMessage string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: scraper status %q", models.ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scraper_status (name, status, last_run, error_message)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				status = excluded.status,
				last_run = excluded.last_run,
				error_message = excluded.error_message`,
			name, string(status), now, nullString(errorMessage))
		if err != nil {
			return fmt.Errorf("failed to set scraper status: %w", err)
		}
		return nil
	})
}

// IncrementIngested adds count to the scraper's total and stamps last_success
func (s *ControlStorage) IncrementIngested(ctx context.Context, name string, count int) error {
	if count < 0 {
		return fmt.Errorf("ingested count must not be negative: %d", count)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO scraper_status (name, records_ingested, last_success)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			records_ingested = records_ingested + excluded.records_ingested,
			last_success = excluded.last_success`,
		name, count, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to increment ingested count: %w", err)
	}
	return nil
}

// ClaimRun moves name to running if, and only if, it is idle or errored.
// The single conditional UPDATE is what makes two concurrent claims
// resolve to exactly one winner.
func (s *ControlStorage) ClaimRun(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := false
	err := s.withTx(ctx, func(tx *sql.Tx, now int64) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO scraper_status (name, status) VALUES (?, 'idle')`, name); err != nil {
			return fmt.Errorf("failed to ensure scraper row: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE scraper_status
			SET status = 'running', last_run = ?, error_message = NULL
			WHERE name = ? AND status IN ('idle', 'error')`, now, name)
		if err != nil {
			return fmt.Errorf("failed to claim scraper: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	s.logger.Debug().
		Str("scraper", name).
		Bool("claimed", claimed).
		Msg("Run claim attempted")
	return claimed, nil
}

// FinishRun moves name from running to status. It reports false when the
// row left running during the run, so an operator pause survives.
func (s *ControlStorage) FinishRun(ctx context.Context, name string, status models.ScraperState, errorMessage string) (bool, error) {
	if !status.Valid() || status == models.ScraperRunning {
		return false, fmt.Errorf("%w: finish status %q", models.ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	finished := false
	err := s.withTx(ctx, func(tx *sql.Tx, now int64) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE scraper_status
			SET status = ?, last_run = ?, error_message = ?
			WHERE name = ? AND status = 'running'`,
			string(status), now, nullString(errorMessage), name)
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		finished = n == 1
		return nil
	})
	return finished, err
}

// Close closes the underlying database
func (s *ControlStorage) Close() error {
	return s.db.Close()
}

// withTx runs fn and the active-count refresh in one transaction
func (s *ControlStorage) withTx(ctx context.Context, fn func(tx *sql.Tx, now int64) error) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	if err := fn(tx, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, recomputeActive, now); err != nil {
		return fmt.Errorf("failed to refresh active scrapers: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScraper(row rowScanner) (*models.ScraperStatus, error) {
	var (
		st                   models.ScraperStatus
		status               string
		lastRun, lastSuccess sql.NullInt64
		errMsg               sql.NullString
	)
	if err := row.Scan(&st.Name, &status, &lastRun, &lastSuccess, &errMsg, &st.RecordsIngested); err != nil {
		return nil, err
	}
	st.Status = models.ScraperState(status)
	st.LastRun = unixPtr(lastRun)
	st.LastSuccess = unixPtr(lastSuccess)
	st.ErrorMessage = errMsg.String
	return &st, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
