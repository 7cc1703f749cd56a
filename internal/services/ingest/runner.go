package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// SourceFactory builds the per-run adapter and extractor for a source name.
// It returns models.ErrUnknownSource for names it does not serve.
type SourceFactory func(ctx context.Context, name string) (interfaces.Source, interfaces.Extractor, error)

// RunRequest overrides the default options for one run.
// Zero values keep the defaults.
type RunRequest struct {
	Source     string
	BatchSize  int
	MaxPages   int
	Thresholds *models.Thresholds
	Deep       bool // Forces thresholds to 0 and uses the deep batch and page limits
}

// Runner starts controller runs for the scheduler, HTTP triggers and CLI.
// At most one run per source is in flight within the process; the control
// plane claim guards across processes.
type Runner struct {
	deps     Dependencies
	sources  SourceFactory
	defaults Options
	logger   arbor.ILogger

	mu       sync.Mutex
	inflight map[string]bool
	last     map[string]*models.RunResult
	wg       sync.WaitGroup
}

// NewRunner creates a runner; deps.Source and deps.Extractor are ignored
func NewRunner(deps Dependencies, sources SourceFactory, defaults Options) *Runner {
	if deps.Logger == nil {
		deps.Logger = arbor.NewLogger()
	}
	return &Runner{
		deps:     deps,
		sources:  sources,
		defaults: defaults,
		logger:   deps.Logger,
		inflight: make(map[string]bool),
		last:     make(map[string]*models.RunResult),
	}
}

// Options resolves the effective options for req
func (r *Runner) Options(req RunRequest) Options {
	opts := r.defaults
	opts.ScraperName = req.Source

	if req.Deep {
		opts.Thresholds = models.Thresholds{}
		if opts.DeepBatchSize > 0 {
			opts.BatchSize = opts.DeepBatchSize
		}
		if opts.DeepMaxPages > 0 {
			opts.MaxPages = opts.DeepMaxPages
		}
	} else if req.Thresholds != nil {
		opts.Thresholds = *req.Thresholds
	}
	if req.BatchSize > 0 {
		opts.BatchSize = req.BatchSize
	}
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}
	return opts
}

// Run executes one run synchronously
func (r *Runner) Run(ctx context.Context, req RunRequest) (*models.RunResult, error) {
	if req.Source == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if !r.acquire(req.Source) {
		return nil, fmt.Errorf("%w: %s", models.ErrAlreadyRunning, req.Source)
	}
	defer r.release(req.Source)

	return r.run(ctx, req)
}

// Trigger starts a run in the background. It fails fast when the source
// already has a run in flight.
func (r *Runner) Trigger(ctx context.Context, req RunRequest) error {
	if req.Source == "" {
		return fmt.Errorf("source name is required")
	}
	if !r.acquire(req.Source) {
		return fmt.Errorf("%w: %s", models.ErrAlreadyRunning, req.Source)
	}

	r.wg.Add(1)
	runCtx := context.WithoutCancel(ctx)
	common.SafeGo(r.logger, "ingest:"+req.Source, func() {
		defer r.wg.Done()
		defer r.release(req.Source)
		if _, err := r.run(runCtx, req); err != nil {
			r.logger.Warn().
				Err(err).
				Str("source", req.Source).
				Msg("Triggered run failed")
		}
	})
	return nil
}

// Running reports whether source has a run in flight in this process
func (r *Runner) Running(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[source]
}

// LastResult returns the most recent result for source, if any
func (r *Runner) LastResult(source string) *models.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[source]
}

// Wait blocks until every triggered run has returned
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, req RunRequest) (*models.RunResult, error) {
	src, ext, err := r.sources(ctx, req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to build source %s: %w", req.Source, err)
	}

	deps := r.deps
	deps.Source = src
	deps.Extractor = ext

	ctrl, err := NewController(deps, r.Options(req))
	if err != nil {
		if cerr := src.Close(); cerr != nil {
			r.logger.Warn().Err(cerr).Str("source", req.Source).Msg("Failed to close source")
		}
		return nil, err
	}

	result, err := ctrl.Run(ctx)

	r.mu.Lock()
	r.last[req.Source] = result
	r.mu.Unlock()

	return result, err
}

func (r *Runner) acquire(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight[source] {
		return false
	}
	r.inflight[source] = true
	return true
}

func (r *Runner) release(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, source)
}
