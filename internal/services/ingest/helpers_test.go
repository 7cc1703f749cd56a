package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/services/retry"
	"github.com/ternarybob/gleaner/internal/storage/sqlite"
)

// step is one scripted NextPage outcome
type step struct {
	page   *models.Page
	err    error
	before func()
}

type fakeSource struct {
	name    string
	steps   []step
	openErr error
	block   chan struct{}

	mu     sync.Mutex
	calls  int
	opened int
	closed int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return s.openErr
}

func (s *fakeSource) NextPage(ctx context.Context) (*models.Page, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	if idx >= len(s.steps) {
		return nil, models.ErrSourceExhausted
	}
	st := s.steps[idx]
	if st.before != nil {
		st.before()
	}
	return st.page, st.err
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSource) nextPageCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeExtractor turns item Content into the title; "bad" fails
type fakeExtractor struct{ source string }

func (e *fakeExtractor) SourceName() string { return e.source }

func (e *fakeExtractor) ExtractOne(ctx context.Context, item models.RawItem) (*models.Record, error) {
	if item.Content == "bad" {
		return nil, &models.ExtractionError{SourceID: item.SourceID, Err: errors.New("missing title")}
	}
	return &models.Record{
		ID:       item.SourceID,
		SourceID: item.SourceID,
		Title:    item.Content,
		Company:  "Acme",
	}, nil
}

// memRecords is an in-memory record store
type memRecords struct {
	mu      sync.Mutex
	byID    map[string]*models.Record
	saveErr error
	saves   int
}

func newMemRecords(ids ...string) *memRecords {
	m := &memRecords{byID: make(map[string]*models.Record)}
	for _, id := range ids {
		m.byID[id] = &models.Record{ID: id, Title: "Engineer"}
	}
	return m
}

func (m *memRecords) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.byID[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memRecords) SaveRecords(ctx context.Context, records []*models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	for _, r := range records {
		m.byID[r.ID] = r
	}
	return nil
}

func (m *memRecords) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("record not found: %s", id)
	}
	return r, nil
}

func (m *memRecords) ListRecords(ctx context.Context, source string, limit, offset int) ([]*models.Record, error) {
	return nil, nil
}

func (m *memRecords) CountRecords(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID), nil
}

func (m *memRecords) CountRecordsBySource(ctx context.Context, source string) (int, error) {
	return 0, nil
}

func (m *memRecords) GetStats(ctx context.Context) (*models.RecordStats, error) {
	n, _ := m.CountRecords(ctx)
	return &models.RecordStats{Total: n}, nil
}

func (m *memRecords) count() int {
	n, _ := m.CountRecords(context.Background())
	return n
}

// recordingEvents captures published event types in order
type recordingEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (r *recordingEvents) Subscribe(interfaces.EventType, interfaces.EventHandler) error { return nil }

func (r *recordingEvents) Publish(ctx context.Context, e interfaces.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEvents) PublishSync(ctx context.Context, e interfaces.Event) error {
	return r.Publish(ctx, e)
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) types() []interfaces.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interfaces.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// MockControlStorage is a testify mock of interfaces.ControlStorage
type MockControlStorage struct {
	mock.Mock
}

func (m *MockControlStorage) GetServiceStatus(ctx context.Context) (*models.ServiceStatus, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(*models.ServiceStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockControlStorage) SetServiceStatus(ctx context.Context, status models.ServiceState) error {
	return m.Called(ctx, status).Error(0)
}

func (m *MockControlStorage) GetScraperStatus(ctx context.Context, name string) (*models.ScraperStatus, error) {
	args := m.Called(ctx, name)
	if v := args.Get(0); v != nil {
		return v.(*models.ScraperStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockControlStorage) ListScraperStatuses(ctx context.Context) ([]*models.ScraperStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.ScraperStatus), args.Error(1)
}

func (m *MockControlStorage) SetScraperStatus(ctx context.Context, name string, status models.ScraperState, errorMessage string) error {
	return m.Called(ctx, name, status, errorMessage).Error(0)
}

func (m *MockControlStorage) IncrementIngested(ctx context.Context, name string, count int) error {
	return m.Called(ctx, name, count).Error(0)
}

func (m *MockControlStorage) ClaimRun(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockControlStorage) FinishRun(ctx context.Context, name string, status models.ScraperState, errorMessage string) (bool, error) {
	args := m.Called(ctx, name, status, errorMessage)
	return args.Bool(0), args.Error(1)
}

func (m *MockControlStorage) Close() error {
	return m.Called().Error(0)
}

func newControl(t *testing.T) interfaces.ControlStorage {
	t.Helper()
	db, err := sqlite.NewSQLiteDB(arbor.NewLogger(), &common.SQLiteConfig{
		Path:          filepath.Join(t.TempDir(), "control.db"),
		BusyTimeoutMS: 5000,
		CacheSizeMB:   4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlite.NewControlStorage(db, arbor.NewLogger())
}

// page builds a page of n items with ids prefix-0..prefix-(n-1)
func page(num int, prefix string, n int, hasMore bool) *models.Page {
	p := &models.Page{Number: num, HasMore: hasMore}
	for i := 0; i < n; i++ {
		p.Items = append(p.Items, models.RawItem{
			SourceID: fmt.Sprintf("%s-%d", prefix, i),
			Content:  fmt.Sprintf("Backend Engineer %s %d", prefix, i),
		})
	}
	return p
}

func testOptions() Options {
	return Options{
		BatchSize:  2,
		MaxPages:   10,
		Thresholds: models.Thresholds{Freshness: 0.5, Relevance: 0.1},
		Retry:      &retry.Policy{MaxAttempts: 3},
	}
}

func newTestController(t *testing.T, src *fakeSource, records interfaces.RecordStorage, control interfaces.ControlStorage, opts Options) *Controller {
	t.Helper()
	ctrl, err := NewController(Dependencies{
		Source:    src,
		Extractor: &fakeExtractor{source: src.name},
		Records:   records,
		Control:   control,
		Keywords:  []string{"backend engineer"},
		Logger:    arbor.NewLogger(),
	}, opts)
	require.NoError(t, err)
	return ctrl
}
