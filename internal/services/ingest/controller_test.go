package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/relevance"
)

func countTerminal(trace []State) int {
	n := 0
	for _, s := range trace {
		if s.Terminal() {
			n++
		}
	}
	return n
}

func TestController_EmptyStoreIngestsEveryPage(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	records := newMemRecords()
	src := &fakeSource{name: "jobboard", steps: []step{
		{page: page(1, "p1", 3, true)},
		{page: page(2, "p2", 3, false)},
	}}

	ctrl := newTestController(t, src, records, control, testOptions())
	result, err := ctrl.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonCompleted, result.Reason)
	assert.Equal(t, 6, result.Count)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 6, records.count())
	assert.NotEmpty(t, result.RunID)

	assert.Equal(t, 1, src.opened)
	assert.Equal(t, 1, src.closed)

	trace := ctrl.Trace()
	assert.Equal(t, StateIdle, trace[0])
	assert.Equal(t, StateStarting, trace[1])
	assert.Equal(t, StateDone, trace[len(trace)-1])
	assert.Equal(t, 1, countTerminal(trace))

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperIdle, st.Status)
	assert.Equal(t, 6, st.RecordsIngested)
	assert.NotNil(t, st.LastSuccess)
}

func TestController_GateStopsOnStaleBatch(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	records := newMemRecords("p1-0", "p1-1", "p1-2", "p1-3")
	src := &fakeSource{name: "jobboard", steps: []step{
		{page: page(1, "p1", 4, true)},
		{page: page(2, "p2", 4, false)},
	}}

	result, err := newTestController(t, src, records, control, testOptions()).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonGateStopped, result.Reason)
	assert.Zero(t, result.Count)
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, 1, src.nextPageCalls(), "no page is fetched after the gate stops")
	assert.Equal(t, 4, records.count())
}

func TestController_NewRecordsKeptOnStoppingBatch(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	// three of four already stored: fresh ratio 0.25 stops the crawl
	records := newMemRecords("p1-0", "p1-1", "p1-2")
	src := &fakeSource{name: "jobboard", steps: []step{
		{page: page(1, "p1", 4, true)},
		{page: page(2, "p2", 4, false)},
	}}
	opts := testOptions()
	opts.BatchSize = 4

	result, err := newTestController(t, src, records, control, opts).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonGateStopped, result.Reason)
	assert.Equal(t, 1, result.Count)
	_, err = records.GetRecord(ctx, "p1-3")
	assert.NoError(t, err)
}

func TestController_PausedServiceIsNoop(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	require.NoError(t, control.SetServiceStatus(ctx, models.ServicePaused))
	src := &fakeSource{name: "jobboard", steps: []step{{page: page(1, "p1", 2, false)}}}

	ctrl := newTestController(t, src, newMemRecords(), control, testOptions())
	result, err := ctrl.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonServicePaused, result.Reason)
	assert.Zero(t, result.Count)
	assert.Zero(t, src.opened)
	assert.Zero(t, src.closed)
	assert.Equal(t, []State{StateIdle, StateStarting, StateDone}, ctrl.Trace())

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.NotEqual(t, models.ScraperRunning, st.Status)

	list, err := control.ListScraperStatuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "a paused service leaves scraper rows untouched")
}

func TestController_BusyScraperIsNoop(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	ok, err := control.ClaimRun(ctx, "jobboard")
	require.NoError(t, err)
	require.True(t, ok)

	src := &fakeSource{name: "jobboard", steps: []step{{page: page(1, "p1", 2, false)}}}
	result, err := newTestController(t, src, newMemRecords(), control, testOptions()).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonScraperBusy, result.Reason)
	assert.Zero(t, src.opened)

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperRunning, st.Status, "the holder's claim is untouched")
}

func TestController_ReloginMidPagingKeepsPartialProgress(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	records := newMemRecords()
	src := &fakeSource{name: "jobboard", steps: []step{
		{page: page(1, "p1", 2, true)},
		{err: fmt.Errorf("authwall redirect: %w", models.ErrReLoginRequired)},
		{page: page(2, "p2", 2, false)},
	}}

	ctrl := newTestController(t, src, records, control, testOptions())
	result, err := ctrl.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrReLoginRequired)
	assert.Equal(t, models.ReasonError, result.Reason)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 2, records.count(), "committed batches are not rolled back")
	assert.Equal(t, 2, src.nextPageCalls(), "login loss is never retried")
	assert.Equal(t, 1, src.closed)

	trace := ctrl.Trace()
	assert.Equal(t, StateError, trace[len(trace)-1])
	assert.Equal(t, 1, countTerminal(trace))

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperError, st.Status)
	assert.Equal(t, "login required: session expired", st.ErrorMessage)
	assert.Equal(t, 2, st.RecordsIngested)
}

func TestController_ExtractionErrorsAreSkipped(t *testing.T) {
	control := newControl(t)
	records := newMemRecords()
	p := &models.Page{Number: 1, Items: []models.RawItem{
		{SourceID: "a", Content: "Backend Engineer"},
		{SourceID: "b", Content: "bad"},
		{SourceID: "c", Content: "Backend Engineer II"},
	}}
	src := &fakeSource{name: "jobboard", steps: []step{{page: p}}}
	opts := testOptions()
	opts.BatchSize = 10

	result, err := newTestController(t, src, records, control, opts).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ReasonCompleted, result.Reason)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 1, result.Batches, "leftover batch flushed exactly once")
}

func TestController_MaxPages(t *testing.T) {
	control := newControl(t)
	var steps []step
	for i := 1; i <= 5; i++ {
		steps = append(steps, step{page: page(i, fmt.Sprintf("p%d", i), 1, true)})
	}
	src := &fakeSource{name: "jobboard", steps: steps}
	opts := testOptions()
	opts.BatchSize = 10
	opts.MaxPages = 2

	result, err := newTestController(t, src, newMemRecords(), control, opts).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ReasonMaxPages, result.Reason)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 2, src.nextPageCalls())
}

func TestController_ScraperPausedAtPageBoundary(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	src := &fakeSource{name: "jobboard", steps: []step{
		{
			page: page(1, "p1", 2, true),
			before: func() {
				require.NoError(t, control.SetScraperStatus(ctx, "jobboard", models.ScraperPaused, ""))
			},
		},
		{page: page(2, "p2", 2, false)},
	}}

	result, err := newTestController(t, src, newMemRecords(), control, testOptions()).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonPaused, result.Reason)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 1, src.nextPageCalls())

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperPaused, st.Status, "operator pause survives the end of the run")
}

func TestController_ServicePausedAtPageBoundary(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	src := &fakeSource{name: "jobboard", steps: []step{
		{
			page: page(1, "p1", 1, true),
			before: func() {
				require.NoError(t, control.SetServiceStatus(ctx, models.ServicePaused))
			},
		},
		{page: page(2, "p2", 1, false)},
	}}
	opts := testOptions()
	opts.BatchSize = 10

	result, err := newTestController(t, src, newMemRecords(), control, opts).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonPaused, result.Reason)
	assert.Equal(t, 1, result.Count, "buffered records are flushed on stop")

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperIdle, st.Status)
}

func TestController_TransientPageErrorRetried(t *testing.T) {
	control := newControl(t)
	src := &fakeSource{name: "jobboard", steps: []step{
		{err: &net.OpError{Op: "read", Err: errors.New("connection reset")}},
		{page: page(1, "p1", 2, false)},
	}}

	result, err := newTestController(t, src, newMemRecords(), control, testOptions()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ReasonCompleted, result.Reason)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 2, src.nextPageCalls())
}

func TestController_ExhaustedRetriesFailRun(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	opErr := &net.OpError{Op: "dial", Err: errors.New("no route to host")}
	src := &fakeSource{name: "jobboard", steps: []step{{err: opErr}, {err: opErr}, {err: opErr}}}

	result, err := newTestController(t, src, newMemRecords(), control, testOptions()).Run(ctx)

	require.Error(t, err)
	assert.Equal(t, models.ReasonError, result.Reason)
	assert.Equal(t, 3, src.nextPageCalls())

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperError, st.Status)
	assert.Contains(t, st.ErrorMessage, "ingest failed:")
}

func TestController_StorageErrorFailsRun(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	diskFull := errors.New("disk full")
	records := newMemRecords()
	records.saveErr = diskFull
	src := &fakeSource{name: "jobboard", steps: []step{{page: page(1, "p1", 2, false)}}}

	result, err := newTestController(t, src, records, control, testOptions()).Run(ctx)

	assert.ErrorIs(t, err, diskFull)
	assert.Equal(t, models.ReasonError, result.Reason)
	assert.Zero(t, result.Count)

	st, err := control.GetScraperStatus(ctx, "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperError, st.Status)
	assert.Contains(t, st.ErrorMessage, "disk full")
}

func TestController_OpenErrorStillClosesSource(t *testing.T) {
	control := newControl(t)
	src := &fakeSource{name: "jobboard", openErr: errors.New("browser missing")}

	result, err := newTestController(t, src, newMemRecords(), control, testOptions()).Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, models.ReasonError, result.Reason)
	assert.Equal(t, 1, src.closed)
}

func TestController_CancelledRunFlushesBuffer(t *testing.T) {
	control := newControl(t)
	records := newMemRecords()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{name: "jobboard", steps: []step{
		{page: page(1, "p1", 3, true), before: cancel},
		{page: page(2, "p2", 3, false)},
	}}
	opts := testOptions()
	opts.BatchSize = 10

	result, err := newTestController(t, src, records, control, opts).Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, models.ReasonCancelled, result.Reason)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, 3, records.count())
	assert.Equal(t, 1, src.closed)

	st, err := control.GetScraperStatus(context.Background(), "jobboard")
	require.NoError(t, err)
	assert.Equal(t, models.ScraperIdle, st.Status)
}

func TestController_ServiceStatusReadError(t *testing.T) {
	control := new(MockControlStorage)
	control.On("GetServiceStatus", mock.Anything).Return(nil, errors.New("database is locked"))
	src := &fakeSource{name: "jobboard"}

	result, err := newTestController(t, src, newMemRecords(), control, testOptions()).Run(context.Background())

	assert.ErrorContains(t, err, "database is locked")
	assert.Equal(t, models.ReasonError, result.Reason)
	assert.Zero(t, src.opened)
	control.AssertNotCalled(t, "ClaimRun", mock.Anything, mock.Anything)
	control.AssertNotCalled(t, "FinishRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestController_FinishRunLosesToOperator(t *testing.T) {
	control := new(MockControlStorage)
	control.On("GetServiceStatus", mock.Anything).Return(&models.ServiceStatus{Status: models.ServiceActive}, nil)
	control.On("ClaimRun", mock.Anything, "jobboard").Return(true, nil).Once()
	control.On("IncrementIngested", mock.Anything, "jobboard", 1).Return(nil).Once()
	control.On("FinishRun", mock.Anything, "jobboard", models.ScraperIdle, "").Return(false, nil).Once()
	src := &fakeSource{name: "jobboard", steps: []step{{page: page(1, "p1", 1, false)}}}

	result, err := newTestController(t, src, newMemRecords(), control, testOptions()).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.ReasonCompleted, result.Reason)
	control.AssertExpectations(t)
}

func TestController_PublishesLifecycleEvents(t *testing.T) {
	control := newControl(t)
	events := &recordingEvents{}
	src := &fakeSource{name: "jobboard", steps: []step{{page: page(1, "p1", 2, false)}}}

	ctrl, err := NewController(Dependencies{
		Source:    src,
		Extractor: &fakeExtractor{source: "jobboard"},
		Records:   newMemRecords(),
		Control:   control,
		Events:    events,
		Logger:    arbor.NewLogger(),
	}, testOptions())
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []interfaces.EventType{
		interfaces.EventRunStarted,
		interfaces.EventBatchFlushed,
		interfaces.EventRunCompleted,
	}, events.types())

	last := events.events[len(events.events)-1].Payload.(map[string]interface{})
	assert.Equal(t, "completed", last["reason"])
	assert.Equal(t, 2, last["count"])
}

func TestController_StampsAndClassifiesRecords(t *testing.T) {
	ctx := context.Background()
	control := newControl(t)
	records := newMemRecords()
	taxonomy := &models.Taxonomy{
		Categories: map[string]models.CategoryKeywords{
			"backend": {"en": {"backend engineer", "golang"}},
			"design":  {"en": {"product designer"}},
		},
		Locations: []string{"Remote"},
	}
	src := &fakeSource{name: "jobboard", steps: []step{{page: page(1, "p1", 1, false)}}}

	ctrl, err := NewController(Dependencies{
		Source:     src,
		Extractor:  &fakeExtractor{source: "jobboard"},
		Records:    records,
		Control:    control,
		Classifier: relevance.NewClassifier(taxonomy, "", 0.5),
		Keywords:   taxonomy.Keywords(""),
		Logger:     arbor.NewLogger(),
	}, testOptions())
	require.NoError(t, err)

	result, err := ctrl.Run(ctx)
	require.NoError(t, err)

	rec, err := records.GetRecord(ctx, "p1-0")
	require.NoError(t, err)
	assert.Equal(t, "backend", rec.Category)
	assert.Equal(t, "jobboard", rec.Source)
	assert.Equal(t, result.RunID, rec.RunID)
	assert.False(t, rec.CollectedAt.IsZero())
}

func TestNewController_RequiresCollaborators(t *testing.T) {
	_, err := NewController(Dependencies{}, Options{})
	assert.Error(t, err)

	_, err = NewController(Dependencies{
		Source:    &fakeSource{name: "x"},
		Extractor: &fakeExtractor{},
	}, Options{})
	assert.Error(t, err)
}
