// Package jobboard drives a logged-in browser over job board search results.
package jobboard

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/relevance"
	"github.com/ternarybob/gleaner/internal/services/retry"
)

// Browser is the page automation surface the adapter needs.
// browser.Session implements it.
type Browser interface {
	Open(ctx context.Context) error
	Close() error
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, sel string) error
	Exists(ctx context.Context, sel string) (bool, error)
	Count(ctx context.Context, sel string) (int, error)
	ScrollToBottom(ctx context.Context, sel string) error
	OuterHTML(ctx context.Context, sel string) (string, error)
	OuterHTMLAll(ctx context.Context, sel string) ([]string, error)
	Click(ctx context.Context, sel string) error
	ClickNth(ctx context.Context, sel string, n int) error
	Sleep(ctx context.Context, d time.Duration) error
}

// Query is one search: the boolean keyword expression for a location
type Query struct {
	Location string
	Keywords string
}

// BuildQueries returns one query per taxonomy location
func BuildQueries(tax *models.Taxonomy, lang string) []Query {
	if tax == nil {
		return nil
	}
	keywords := tax.Keywords(lang)
	out := make([]Query, 0, len(tax.Locations))
	for _, loc := range tax.Locations {
		out = append(out, Query{
			Location: loc,
			Keywords: relevance.BuildBooleanQuery(keywords, loc),
		})
	}
	return out
}

// Options configures the adapter
type Options struct {
	BaseURL     string
	SearchPath  string
	GeoID       string
	Selectors   *Selectors
	Queries     []Query
	ItemSpacer  *retry.Spacer // Spacing between card captures; nil disables
	ScrollPause time.Duration // Settle time after each sidebar scroll
	MaxScrolls  int           // Upper bound on scroll attempts per page
}

var loginPaths = []string{"/login", "/authwall", "/checkpoint"}

// Source walks search result pages location by location.
// Each yielded page is the fully scrolled card list of one result page.
type Source struct {
	browser Browser
	opts    Options
	logger  arbor.ILogger

	loc     int  // Index into opts.Queries
	loaded  bool // Current location's first page is showing
	advance bool // Current page was yielded; move on before capturing
	clicked bool // Next was clicked but the following page has not loaded yet
	page    int
}

// NewSource creates the adapter
func NewSource(b Browser, opts Options, logger arbor.ILogger) *Source {
	if opts.Selectors == nil {
		opts.Selectors = DefaultSelectors()
	}
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = 15
	}
	if opts.SearchPath == "" {
		opts.SearchPath = "/jobs/search"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Source{browser: b, opts: opts, logger: logger}
}

func (s *Source) Name() string {
	return SourceName
}

// Open starts the browser session
func (s *Source) Open(ctx context.Context) error {
	s.loc, s.loaded, s.advance, s.clicked, s.page = 0, false, false, false, 0
	if len(s.opts.Queries) == 0 {
		return fmt.Errorf("no search queries configured")
	}
	return s.browser.Open(ctx)
}

func (s *Source) Close() error {
	return s.browser.Close()
}

// SearchURL builds the results URL for q, newest first, full-time only
func (s *Source) SearchURL(q Query) string {
	v := url.Values{}
	v.Set("keywords", q.Keywords)
	if s.opts.GeoID != "" {
		v.Set("geoId", s.opts.GeoID)
	}
	v.Set("f_JT", "F")
	v.Set("sortBy", "DD")
	return s.opts.BaseURL + s.opts.SearchPath + "?" + v.Encode()
}

// NextPage yields the next result page, moving to the next location when
// the current one has no further pages
func (s *Source) NextPage(ctx context.Context) (*models.Page, error) {
	for s.loc < len(s.opts.Queries) {
		switch {
		case !s.loaded:
			ok, err := s.load(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				s.nextLocation()
				continue
			}
			s.loaded = true
		case s.advance:
			ok, err := s.nextResults(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				s.nextLocation()
				continue
			}
			s.advance = false
		}

		items, err := s.capture(ctx)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			s.nextLocation()
			continue
		}

		more, err := s.browser.Exists(ctx, s.opts.Selectors.NextPage)
		if err != nil {
			return nil, err
		}
		s.advance = true
		s.page++
		return &models.Page{
			Number:  s.page,
			Items:   items,
			HasMore: more || s.loc+1 < len(s.opts.Queries),
		}, nil
	}
	return nil, models.ErrSourceExhausted
}

func (s *Source) nextLocation() {
	s.loc++
	s.loaded = false
	s.advance = false
	s.clicked = false
}

// load opens the current location's search; false means no results
func (s *Source) load(ctx context.Context) (bool, error) {
	q := s.opts.Queries[s.loc]
	target := s.SearchURL(q)

	s.logger.Info().
		Str("location", q.Location).
		Str("query", q.Keywords).
		Msg("Opening search results")

	if err := s.browser.Navigate(ctx, target); err != nil {
		return false, fmt.Errorf("failed to open search for %s: %w", q.Location, err)
	}
	if err := s.checkLogin(ctx); err != nil {
		return false, err
	}
	if err := s.browser.WaitVisible(ctx, s.opts.Selectors.JobCardContainer); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if lerr := s.checkLogin(ctx); lerr != nil {
			return false, lerr
		}
		s.logger.Warn().
			Str("location", q.Location).
			Err(err).
			Msg("No results for location")
		return false, nil
	}
	return true, nil
}

// nextResults clicks through to the following results page. Next is
// clicked at most once per page; a call after a failed load only waits.
func (s *Source) nextResults(ctx context.Context) (bool, error) {
	sel := s.opts.Selectors
	if !s.clicked {
		more, err := s.browser.Exists(ctx, sel.NextPage)
		if err != nil {
			return false, err
		}
		if !more {
			return false, nil
		}
		if err := s.browser.Click(ctx, sel.NextPage); err != nil {
			return false, fmt.Errorf("failed to click next page: %w", err)
		}
		s.clicked = true
	}
	if err := s.checkLogin(ctx); err != nil {
		return false, err
	}
	if err := s.browser.WaitVisible(ctx, sel.JobCardContainer); err != nil {
		return false, fmt.Errorf("next page did not load: %w", err)
	}
	s.clicked = false
	return true, nil
}

// capture scrolls the card list until stable and records every card with
// its description pane
func (s *Source) capture(ctx context.Context) ([]models.RawItem, error) {
	sel := s.opts.Selectors
	if err := s.scrollUntilStable(ctx); err != nil {
		return nil, err
	}

	cards, err := s.browser.OuterHTMLAll(ctx, sel.JobCardContainer)
	if err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}

	location := s.opts.Queries[s.loc].Location
	items := make([]models.RawItem, 0, len(cards))
	for i, card := range cards {
		if s.opts.ItemSpacer != nil {
			if err := s.opts.ItemSpacer.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := s.checkLogin(ctx); err != nil {
			return nil, err
		}

		item := models.RawItem{
			SourceID: cardID(card, sel),
			Content:  card,
			Location: location,
		}

		if err := s.browser.ClickNth(ctx, sel.JobCardContainer, i); err != nil {
			s.logger.Warn().
				Err(err).
				Str("source_id", item.SourceID).
				Msg("Failed to open card, keeping card only")
		} else if sel.Description != "" {
			detail, err := s.browser.OuterHTML(ctx, sel.Description)
			if err != nil {
				s.logger.Debug().
					Err(err).
					Str("source_id", item.SourceID).
					Msg("Description pane not found")
			}
			item.Detail = detail
		}
		items = append(items, item)
	}

	s.logger.Debug().
		Int("cards", len(items)).
		Str("location", location).
		Msg("Captured result page")
	return items, nil
}

func (s *Source) scrollUntilStable(ctx context.Context) error {
	sel := s.opts.Selectors
	prev := -1
	for i := 0; i < s.opts.MaxScrolls; i++ {
		if err := s.browser.ScrollToBottom(ctx, sel.Sidebar); err != nil {
			return fmt.Errorf("failed to scroll results: %w", err)
		}
		if s.opts.ScrollPause > 0 {
			if err := s.browser.Sleep(ctx, s.opts.ScrollPause); err != nil {
				return err
			}
		}
		n, err := s.browser.Count(ctx, sel.JobCardContainer)
		if err != nil {
			return err
		}
		if n == prev {
			return nil
		}
		prev = n
	}
	return nil
}

// checkLogin maps a login redirect or login wall to ErrReLoginRequired
func (s *Source) checkLogin(ctx context.Context) error {
	loc, err := s.browser.Location(ctx)
	if err != nil {
		return err
	}
	if u, err := url.Parse(loc); err == nil {
		for _, p := range loginPaths {
			if strings.HasPrefix(u.Path, p) {
				return models.ErrReLoginRequired
			}
		}
	}
	if s.opts.Selectors.LoginWall == "" {
		return nil
	}
	wall, err := s.browser.Exists(ctx, s.opts.Selectors.LoginWall)
	if err != nil {
		return err
	}
	if wall {
		return models.ErrReLoginRequired
	}
	return nil
}

func cardID(card string, sel *Selectors) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(card))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find(sel.JobCardContainer).First().AttrOr(sel.JobIDAttr, ""))
}
