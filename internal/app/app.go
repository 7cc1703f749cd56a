package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/handlers"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/relevance"
	"github.com/ternarybob/gleaner/internal/services/control"
	"github.com/ternarybob/gleaner/internal/services/events"
	"github.com/ternarybob/gleaner/internal/services/ingest"
	"github.com/ternarybob/gleaner/internal/services/retry"
	"github.com/ternarybob/gleaner/internal/services/scheduler"
	"github.com/ternarybob/gleaner/internal/services/taxonomy"
	"github.com/ternarybob/gleaner/internal/sources/browser"
	"github.com/ternarybob/gleaner/internal/sources/feed"
	"github.com/ternarybob/gleaner/internal/sources/jobboard"
	"github.com/ternarybob/gleaner/internal/storage"
)

const (
	ingestJobName     = "ingest"
	deepIngestJobName = "deep-ingest"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService

	Taxonomy   *models.Taxonomy
	Classifier *relevance.Classifier
	Selectors  *jobboard.Selectors

	Runner           *ingest.Runner
	ControlService   *control.Service
	SchedulerService *scheduler.Service // nil unless scheduler.enabled

	// HTTP handlers
	ControlHandler   *handlers.ControlHandler
	RecordsHandler   *handlers.RecordsHandler
	SchedulerHandler *handlers.SchedulerHandler
	WSHandler        *handlers.WebSocketHandler
	EventSubscriber  *handlers.EventSubscriber
}

// New initializes the application with all dependencies
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: config,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Strs("scrapers", app.Scrapers()).
		Int("locations", len(app.Taxonomy.Locations)).
		Int("categories", len(app.Taxonomy.Categories)).
		Bool("scheduler", app.SchedulerService != nil).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initDatabase() error {
	sm, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = sm
	return nil
}

func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	// Taxonomy is validated before any run can start
	tax, err := taxonomy.Load(a.Config.Taxonomy.Path, a.Config.Taxonomy.RequiredCategories)
	if err != nil {
		return err
	}
	a.Taxonomy = tax
	a.Classifier = relevance.NewClassifier(tax, a.Config.Ingest.Language, 0)

	a.Selectors, err = jobboard.LoadSelectors(a.Config.JobBoard.SelectorsPath)
	if err != nil {
		return err
	}

	deps := ingest.Dependencies{
		Records:    a.StorageManager.RecordStorage(),
		Control:    a.StorageManager.ControlStorage(),
		Classifier: a.Classifier,
		Keywords:   tax.Keywords(a.Config.Ingest.Language),
		Events:     a.EventService,
		Logger:     a.Logger,
	}
	a.Runner = ingest.NewRunner(deps, a.buildSource, ingest.OptionsFromConfig(a.Config))

	a.ControlService = control.NewService(
		a.StorageManager.ControlStorage(),
		a.EventService,
		func(ctx context.Context, scraper string) error {
			return a.Runner.Trigger(ctx, ingest.RunRequest{Source: scraper})
		},
		a.Scrapers(),
		a.Logger,
	)

	if a.Config.Scheduler.Enabled {
		if err := a.initScheduler(); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) initScheduler() error {
	a.SchedulerService = scheduler.NewService(a.Logger)
	source := a.Config.Ingest.Source

	if err := a.SchedulerService.RegisterJob(
		ingestJobName,
		a.Config.Scheduler.Schedule,
		fmt.Sprintf("Incremental ingest of %s", source),
		a.scheduledRun(ingest.RunRequest{Source: source}),
	); err != nil {
		return err
	}

	if a.Config.Scheduler.DeepSchedule != "" {
		if err := a.SchedulerService.RegisterJob(
			deepIngestJobName,
			a.Config.Scheduler.DeepSchedule,
			fmt.Sprintf("Deep ingest of %s with gating disabled", source),
			a.scheduledRun(ingest.RunRequest{Source: source, Deep: true}),
		); err != nil {
			return err
		}
	}
	return nil
}

// scheduledRun adapts a run request to a scheduler job. A run already in
// flight is not a job failure.
func (a *App) scheduledRun(req ingest.RunRequest) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		result, err := a.Runner.Run(ctx, req)
		if errors.Is(err, models.ErrAlreadyRunning) {
			a.Logger.Info().
				Str("source", req.Source).
				Msg("Scheduled run skipped: already running")
			return nil
		}
		if err != nil {
			return err
		}
		a.Logger.Info().
			Str("source", req.Source).
			Str("reason", string(result.Reason)).
			Int("count", result.Count).
			Bool("deep", req.Deep).
			Msg("Scheduled run finished")
		return nil
	}
}

func (a *App) initHandlers() error {
	a.ControlHandler = handlers.NewControlHandler(a.ControlService, a.Logger)
	a.RecordsHandler = handlers.NewRecordsHandler(a.StorageManager.RecordStorage(), a.Logger)
	if a.SchedulerService != nil {
		a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
	}

	a.WSHandler = handlers.NewWebSocketHandler(common.GetVersion(), a.Logger)
	sub, err := handlers.NewEventSubscriber(a.WSHandler, a.EventService, map[interfaces.EventType]time.Duration{
		interfaces.EventBatchFlushed: 500 * time.Millisecond,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to subscribe websocket events: %w", err)
	}
	a.EventSubscriber = sub
	return nil
}

// Scrapers lists the source names this configuration can run
func (a *App) Scrapers() []string {
	names := []string{common.SourceJobBoard}
	if a.Config.Feed.BaseURL != "" {
		names = append(names, common.SourceFeed)
	}
	return names
}

// buildSource is the runner's source factory. Each run gets its own
// adapter; the jobboard adapter owns a fresh browser session.
func (a *App) buildSource(ctx context.Context, name string) (interfaces.Source, interfaces.Extractor, error) {
	lang := a.Config.Ingest.Language

	switch name {
	case common.SourceJobBoard:
		cfg := a.Config.JobBoard
		src := jobboard.NewSource(browser.NewSession(a.Config.Browser, a.Logger), jobboard.Options{
			BaseURL:     cfg.BaseURL,
			SearchPath:  cfg.SearchPath,
			GeoID:       cfg.GeoID,
			Selectors:   a.Selectors,
			Queries:     jobboard.BuildQueries(a.Taxonomy, lang),
			ItemSpacer:  retry.NewSpacer(a.Config.Ingest.ItemDelayMin, a.Config.Ingest.ItemDelayMax),
			ScrollPause: time.Second,
		}, a.Logger)
		return src, jobboard.NewExtractor(cfg.BaseURL, a.Selectors, a.Logger), nil

	case common.SourceFeed:
		cfg := a.Config.Feed
		if cfg.BaseURL == "" {
			return nil, nil, fmt.Errorf("%w: feed.base_url is not configured", models.ErrUnknownSource)
		}
		client := feed.NewClient(
			feed.WithBaseURL(cfg.BaseURL),
			feed.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			feed.WithLogger(a.Logger),
			feed.WithRateLimit(cfg.RequestsPerSecond),
			feed.WithPageSize(cfg.PageSize),
		)
		var queries []feed.Query
		for _, q := range jobboard.BuildQueries(a.Taxonomy, lang) {
			queries = append(queries, feed.Query{Location: q.Location, Keywords: q.Keywords})
		}
		return feed.NewSource(client, queries, a.Logger), feed.NewExtractor(), nil
	}

	return nil, nil, fmt.Errorf("%w: %s", models.ErrUnknownSource, name)
}

// Close closes all application resources. Triggered runs are waited on so
// their final status and batches reach storage before it closes.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.Runner != nil {
		a.Runner.Wait()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
