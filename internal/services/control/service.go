// Package control exposes operator pause/resume over the control plane.
package control

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/models"
)

// ErrInvalidName is returned for blank or oversized scraper names
var ErrInvalidName = errors.New("invalid scraper name")

// RunTrigger starts a background run for a scraper
type RunTrigger func(ctx context.Context, scraper string) error

// Service wraps ControlStorage with the operator operations
type Service struct {
	store   interfaces.ControlStorage
	events  interfaces.EventService
	trigger RunTrigger
	known   []string
	logger  arbor.ILogger
}

// NewService creates the control service. known lists the scraper names
// that can be started; trigger may be nil when runs are not available.
func NewService(store interfaces.ControlStorage, events interfaces.EventService, trigger RunTrigger, known []string, logger arbor.ILogger) *Service {
	return &Service{
		store:   store,
		events:  events,
		trigger: trigger,
		known:   known,
		logger:  logger,
	}
}

// ServiceView returns the service row
func (s *Service) ServiceView(ctx context.Context) (*models.ServiceStatus, error) {
	return s.store.GetServiceStatus(ctx)
}

// PauseService stops new runs from starting and in-flight runs at their
// next page boundary
func (s *Service) PauseService(ctx context.Context) (*models.ServiceStatus, error) {
	return s.setService(ctx, models.ServicePaused)
}

// ResumeService reactivates the service
func (s *Service) ResumeService(ctx context.Context) (*models.ServiceStatus, error) {
	return s.setService(ctx, models.ServiceActive)
}

// ScraperView returns the row for name, idle when never seen
func (s *Service) ScraperView(ctx context.Context, name string) (*models.ScraperStatus, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	return s.store.GetScraperStatus(ctx, name)
}

// ListScrapers returns stored scrapers plus idle defaults for known names
// that have never run
func (s *Service) ListScrapers(ctx context.Context) ([]*models.ScraperStatus, error) {
	stored, err := s.store.ListScraperStatuses(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(stored))
	for _, st := range stored {
		seen[st.Name] = true
	}
	out := stored
	for _, name := range s.known {
		if !seen[name] {
			out = append(out, &models.ScraperStatus{Name: name, Status: models.ScraperIdle})
		}
	}
	slices.SortFunc(out, func(a, b *models.ScraperStatus) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// PauseScraper marks name paused; a running controller stops at its next
// page boundary and leaves the pause in place
func (s *Service) PauseScraper(ctx context.Context, name string) (*models.ScraperStatus, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := s.store.SetScraperStatus(ctx, name, models.ScraperPaused, ""); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("scraper", name).
		Msg("Scraper paused")
	s.publish(ctx, "scraper", name, string(models.ScraperPaused))
	return s.store.GetScraperStatus(ctx, name)
}

// StartScraper clears a paused or errored scraper back to idle and, when
// run is set, triggers a background run
func (s *Service) StartScraper(ctx context.Context, name string, run bool) (*models.ScraperStatus, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if run && len(s.known) > 0 && !slices.Contains(s.known, name) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownSource, name)
	}

	st, err := s.store.GetScraperStatus(ctx, name)
	if err != nil {
		return nil, err
	}
	if st.Status == models.ScraperPaused || st.Status == models.ScraperError {
		if err := s.store.SetScraperStatus(ctx, name, models.ScraperIdle, ""); err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("scraper", name).
			Str("previous", string(st.Status)).
			Msg("Scraper reset to idle")
		s.publish(ctx, "scraper", name, string(models.ScraperIdle))
	}

	if run {
		if s.trigger == nil {
			return nil, fmt.Errorf("runs are not available in this process")
		}
		if err := s.trigger(ctx, name); err != nil {
			return nil, err
		}
	}
	return s.store.GetScraperStatus(ctx, name)
}

func (s *Service) setService(ctx context.Context, status models.ServiceState) (*models.ServiceStatus, error) {
	if err := s.store.SetServiceStatus(ctx, status); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("status", string(status)).
		Msg("Service status changed")
	s.publish(ctx, "service", "", string(status))
	return s.store.GetServiceStatus(ctx)
}

func (s *Service) publish(ctx context.Context, scope, name, status string) {
	if s.events == nil {
		return
	}
	payload := map[string]interface{}{
		"scope":  scope,
		"status": status,
	}
	if name != "" {
		payload["scraper"] = name
	}
	if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventControlChanged, Payload: payload}); err != nil {
		s.logger.Warn().
			Err(err).
			Msg("Failed to publish control change")
	}
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > 64 {
		return fmt.Errorf("%w: name too long", ErrInvalidName)
	}
	return nil
}
