// Package ingest drives one batch ingestion run from source pages through
// the quality gate into the record store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/gate"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/relevance"
	"github.com/ternarybob/gleaner/internal/services/retry"
)

// State is a controller run state
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StatePaging    State = "paging"
	StateBuffering State = "buffering"
	StateFlushing  State = "flushing"
	StateStopping  State = "stopping"
	StateDone      State = "done"
	StateError     State = "error"
)

// Terminal reports whether s ends a run
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Dependencies are the collaborators of a run. Source and Extractor are
// per run; the rest are shared.
type Dependencies struct {
	Source     interfaces.Source
	Extractor  interfaces.Extractor
	Records    interfaces.RecordStorage
	Control    interfaces.ControlStorage
	Classifier *relevance.Classifier // Optional; fills Record.Category when empty
	Keywords   []string              // Relevance keywords from the taxonomy
	Events     interfaces.EventService
	Logger     arbor.ILogger
}

// Options are the tunables of a run
type Options struct {
	ScraperName   string // Control plane key; defaults to the source name
	BatchSize     int
	MaxPages      int
	Thresholds    models.Thresholds
	DeepBatchSize int
	DeepMaxPages  int
	Retry         *retry.Policy
	PageDelayMin  time.Duration
	PageDelayMax  time.Duration
}

// OptionsFromConfig builds run options from the ingest and retry settings
func OptionsFromConfig(cfg *common.Config) Options {
	return Options{
		BatchSize: cfg.Ingest.BatchSize,
		MaxPages:  cfg.Ingest.MaxPages,
		Thresholds: models.Thresholds{
			Freshness: cfg.Ingest.FreshnessThreshold,
			Relevance: cfg.Ingest.RelevanceThreshold,
		},
		DeepBatchSize: cfg.Ingest.DeepBatchSize,
		DeepMaxPages:  cfg.Ingest.DeepMaxPages,
		Retry:         retry.NewPolicy(cfg.Retry),
		PageDelayMin:  cfg.Ingest.PageDelayMin,
		PageDelayMax:  cfg.Ingest.PageDelayMax,
	}
}

// Controller runs the ingestion state machine for one source
type Controller struct {
	deps   Dependencies
	opts   Options
	gate   *gate.Gate
	spacer *retry.Spacer
	logger arbor.ILogger

	name  string
	state State
	trace []State
}

// NewController validates deps and applies option defaults
func NewController(deps Dependencies, opts Options) (*Controller, error) {
	if deps.Source == nil || deps.Extractor == nil {
		return nil, fmt.Errorf("source and extractor are required")
	}
	if deps.Records == nil || deps.Control == nil {
		return nil, fmt.Errorf("record and control storage are required")
	}
	if deps.Logger == nil {
		deps.Logger = arbor.NewLogger()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.Retry == nil {
		opts.Retry = &retry.Policy{MaxAttempts: 1}
	}

	name := opts.ScraperName
	if name == "" {
		name = deps.Source.Name()
	}

	return &Controller{
		deps:   deps,
		opts:   opts,
		gate:   gate.New(deps.Records, deps.Keywords, deps.Logger),
		spacer: retry.NewSpacer(opts.PageDelayMin, opts.PageDelayMax),
		logger: deps.Logger,
		name:   name,
		state:  StateIdle,
	}, nil
}

// Trace returns the states visited by the last run in order
func (c *Controller) Trace() []State {
	return append([]State(nil), c.trace...)
}

// Run executes one ingestion run. The result is always non-nil; its Reason
// says why the run ended. An error is returned only with ReasonError.
func (c *Controller) Run(ctx context.Context) (*models.RunResult, error) {
	c.state = StateIdle
	c.trace = []State{StateIdle}

	result := &models.RunResult{
		RunID:     common.NewRunID(),
		Source:    c.name,
		StartedAt: time.Now(),
	}
	c.transition(StateStarting, result)

	svc, err := c.deps.Control.GetServiceStatus(ctx)
	if err != nil {
		// Nothing claimed yet, so the scraper row is left alone
		c.transition(StateError, result)
		return c.finish(result, models.ReasonError, fmt.Errorf("failed to read service status: %w", err))
	}
	if svc.Status != models.ServiceActive {
		c.logger.Info().
			Str("scraper", c.name).
			Str("service_status", string(svc.Status)).
			Msg("Service paused, skipping run")
		c.transition(StateDone, result)
		return c.finish(result, models.ReasonServicePaused, nil)
	}

	claimed, err := c.deps.Control.ClaimRun(ctx, c.name)
	if err != nil {
		c.transition(StateError, result)
		return c.finish(result, models.ReasonError, fmt.Errorf("failed to claim scraper: %w", err))
	}
	if !claimed {
		c.logger.Info().
			Str("scraper", c.name).
			Msg("Scraper busy or paused, skipping run")
		c.transition(StateDone, result)
		return c.finish(result, models.ReasonScraperBusy, nil)
	}

	c.publish(ctx, interfaces.EventRunStarted, result, nil)

	defer func() {
		if err := c.deps.Source.Close(); err != nil {
			c.logger.Warn().
				Err(err).
				Str("scraper", c.name).
				Msg("Failed to close source")
		}
	}()

	reason, err := c.crawl(ctx, result)
	if err != nil {
		return c.fail(ctx, result, err)
	}
	return c.done(ctx, result, reason)
}

// crawl walks Paging, Buffering, Flushing and Stopping. It returns the stop
// reason, or an error that must take the run to Error.
func (c *Controller) crawl(ctx context.Context, result *models.RunResult) (models.StopReason, error) {
	if err := c.deps.Source.Open(ctx); err != nil {
		return "", fmt.Errorf("failed to open source: %w", err)
	}

	var (
		batch  []*models.Record
		reason models.StopReason
	)

pages:
	for {
		c.transition(StatePaging, result)

		if ctx.Err() != nil {
			reason = models.ReasonCancelled
			break
		}
		if result.Pages >= c.opts.MaxPages {
			reason = models.ReasonMaxPages
			break
		}
		if result.Pages > 0 {
			paused, err := c.pauseRequested(ctx)
			if err != nil {
				return "", err
			}
			if paused {
				reason = models.ReasonPaused
				break
			}
		}

		page, err := c.fetchPage(ctx)
		if errors.Is(err, models.ErrSourceExhausted) {
			reason = models.ReasonCompleted
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				reason = models.ReasonCancelled
				break
			}
			return "", fmt.Errorf("page %d: %w", result.Pages+1, err)
		}
		result.Pages++

		if page == nil || len(page.Items) == 0 {
			reason = models.ReasonCompleted
			break
		}

		c.transition(StateBuffering, result)
		for _, item := range page.Items {
			rec := c.extract(ctx, item, result)
			if rec == nil {
				continue
			}
			batch = append(batch, rec)

			if len(batch) >= c.opts.BatchSize {
				cont, err := c.flush(ctx, batch, result)
				if err != nil {
					return "", err
				}
				batch = nil
				if !cont {
					reason = models.ReasonGateStopped
					break pages
				}
				c.transition(StateBuffering, result)
			}
		}

		if !page.HasMore {
			reason = models.ReasonCompleted
			break
		}
	}

	c.transition(StateStopping, result)
	if len(batch) > 0 {
		// A cancelled run still commits what it already buffered
		if _, err := c.flush(context.WithoutCancel(ctx), batch, result); err != nil {
			return "", err
		}
	}
	return reason, nil
}

// fetchPage spaces page requests and retries transient failures
func (c *Controller) fetchPage(ctx context.Context) (*models.Page, error) {
	var page *models.Page
	err := c.spacer.Do(ctx, func(ctx context.Context) error {
		return c.opts.Retry.Do(ctx, c.logger, func(ctx context.Context) error {
			p, err := c.deps.Source.NextPage(ctx)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
	})
	return page, err
}

// extract turns one raw item into a stamped record, or nil when it fails
func (c *Controller) extract(ctx context.Context, item models.RawItem, result *models.RunResult) *models.Record {
	rec, err := c.deps.Extractor.ExtractOne(ctx, item)
	if err == nil && (rec == nil || rec.ID == "") {
		err = &models.ExtractionError{SourceID: item.SourceID, Err: errors.New("record has no id")}
	}
	if err != nil {
		result.Skipped++
		c.logger.Warn().
			Err(err).
			Str("scraper", c.name).
			Str("source_id", item.SourceID).
			Msg("Skipping item that failed extraction")
		return nil
	}

	if rec.Source == "" {
		rec.Source = c.deps.Extractor.SourceName()
	}
	if rec.Category == "" && c.deps.Classifier != nil {
		rec.Category, _ = c.deps.Classifier.Classify(rec.Text())
	}
	if rec.CollectedAt.IsZero() {
		rec.CollectedAt = time.Now()
	}
	rec.RunID = result.RunID
	return rec
}

// flush sends one batch through the gate and reports whether to continue
func (c *Controller) flush(ctx context.Context, batch []*models.Record, result *models.RunResult) (bool, error) {
	c.transition(StateFlushing, result)

	d, err := c.gate.Evaluate(ctx, batch, c.opts.Thresholds)
	if err != nil {
		return false, err
	}
	result.Batches++
	result.Count += len(d.Accepted)

	c.publish(ctx, interfaces.EventBatchFlushed, result, map[string]interface{}{
		"accepted":      len(d.Accepted),
		"batch":         len(batch),
		"fresh_ratio":   d.FreshRatio,
		"avg_relevance": d.AvgRelevance,
		"continue":      d.Continue,
	})
	return d.Continue, nil
}

// pauseRequested re-reads both the service and this scraper's status
func (c *Controller) pauseRequested(ctx context.Context) (bool, error) {
	svc, err := c.deps.Control.GetServiceStatus(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read service status: %w", err)
	}
	if svc.Status == models.ServicePaused {
		c.logger.Info().
			Str("scraper", c.name).
			Msg("Service paused during run, stopping at page boundary")
		return true, nil
	}

	st, err := c.deps.Control.GetScraperStatus(ctx, c.name)
	if err != nil {
		return false, fmt.Errorf("failed to read scraper status: %w", err)
	}
	if st.Status == models.ScraperPaused {
		c.logger.Info().
			Str("scraper", c.name).
			Msg("Scraper paused during run, stopping at page boundary")
		return true, nil
	}
	return false, nil
}

// done is the single successful terminal transition. A failure to record
// the outcome still fails the run so the count is never silently lost.
func (c *Controller) done(ctx context.Context, result *models.RunResult, reason models.StopReason) (*models.RunResult, error) {
	c.transition(StateDone, result)
	bctx := context.WithoutCancel(ctx)

	if err := c.deps.Control.IncrementIngested(bctx, c.name, result.Count); err != nil {
		err = fmt.Errorf("failed to record ingested count: %w", err)
		if _, ferr := c.deps.Control.FinishRun(bctx, c.name, models.ScraperError, "ingest failed: "+err.Error()); ferr != nil {
			c.logger.Error().
				Err(ferr).
				Str("scraper", c.name).
				Msg("Failed to set scraper error status")
		}
		res, err := c.finish(result, models.ReasonError, err)
		c.publish(ctx, interfaces.EventRunFailed, res, nil)
		return res, err
	}

	finished, err := c.deps.Control.FinishRun(bctx, c.name, models.ScraperIdle, "")
	if err != nil {
		res, err := c.finish(result, models.ReasonError, fmt.Errorf("failed to release scraper: %w", err))
		c.publish(ctx, interfaces.EventRunFailed, res, nil)
		return res, err
	}
	if !finished {
		c.logger.Info().
			Str("scraper", c.name).
			Msg("Scraper status changed during run, leaving it as set")
	}

	res, _ := c.finish(result, reason, nil)
	c.publish(ctx, interfaces.EventRunCompleted, res, nil)
	return res, nil
}

// fail is the single error terminal transition. Records committed by
// earlier flushes stay committed and are counted.
func (c *Controller) fail(ctx context.Context, result *models.RunResult, runErr error) (*models.RunResult, error) {
	c.transition(StateError, result)
	bctx := context.WithoutCancel(ctx)

	message := "ingest failed: " + runErr.Error()
	if errors.Is(runErr, models.ErrReLoginRequired) {
		message = models.ErrReLoginRequired.Error()
	}

	if result.Count > 0 {
		if err := c.deps.Control.IncrementIngested(bctx, c.name, result.Count); err != nil {
			c.logger.Error().
				Err(err).
				Str("scraper", c.name).
				Msg("Failed to record partial ingested count")
		}
	}

	finished, err := c.deps.Control.FinishRun(bctx, c.name, models.ScraperError, message)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("scraper", c.name).
			Msg("Failed to set scraper error status")
	} else if !finished {
		c.logger.Warn().
			Str("scraper", c.name).
			Msg("Scraper status changed during run, error status not applied")
	}

	res, err := c.finish(result, models.ReasonError, runErr)
	c.publish(ctx, interfaces.EventRunFailed, res, nil)
	return res, err
}

func (c *Controller) finish(result *models.RunResult, reason models.StopReason, err error) (*models.RunResult, error) {
	result.Reason = reason
	result.FinishedAt = time.Now()
	if err != nil {
		result.Error = err.Error()
		c.logger.Error().
			Err(err).
			Str("run_id", result.RunID).
			Str("scraper", c.name).
			Int("count", result.Count).
			Msg("Ingest run failed")
		return result, err
	}

	c.logger.Info().
		Str("run_id", result.RunID).
		Str("scraper", c.name).
		Str("reason", string(reason)).
		Int("count", result.Count).
		Int("pages", result.Pages).
		Int("batches", result.Batches).
		Int("skipped", result.Skipped).
		Dur("duration", result.Duration()).
		Msg("Ingest run finished")
	return result, nil
}

func (c *Controller) transition(to State, result *models.RunResult) {
	if c.state == to {
		return
	}
	c.logger.Debug().
		Str("run_id", result.RunID).
		Str("scraper", c.name).
		Str("from", string(c.state)).
		Str("to", string(to)).
		Msg("State transition")
	c.state = to
	c.trace = append(c.trace, to)
}

func (c *Controller) publish(ctx context.Context, t interfaces.EventType, result *models.RunResult, extra map[string]interface{}) {
	if c.deps.Events == nil {
		return
	}
	payload := map[string]interface{}{
		"run_id":  result.RunID,
		"source":  result.Source,
		"count":   result.Count,
		"pages":   result.Pages,
		"batches": result.Batches,
		"skipped": result.Skipped,
	}
	if result.Reason != "" {
		payload["reason"] = string(result.Reason)
	}
	if result.Error != "" {
		payload["error"] = result.Error
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := c.deps.Events.Publish(ctx, interfaces.Event{Type: t, Payload: payload}); err != nil {
		c.logger.Warn().
			Err(err).
			Str("event_type", string(t)).
			Msg("Failed to publish event")
	}
}
