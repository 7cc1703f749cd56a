package jobboard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
	"github.com/ternarybob/gleaner/internal/services/retry"
)

const testBase = "https://jobs.example.com"

// fakeBrowser serves canned result pages per location and answers
// selector queries with goquery
type fakeBrowser struct {
	results  map[string][]string // location -> result page markup
	authwall map[string]bool     // locations that redirect to the login wall
	wallAt   map[string]int      // location -> result page index showing a login wall

	location string
	index    int
	url      string
	clicked  string

	opened, closed int
	navigations    []string
	clickFailures  map[int]bool
	waitFailures   map[int]int // result page index -> WaitVisible timeouts before it shows
	nextClicks     int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		results:       make(map[string][]string),
		authwall:      make(map[string]bool),
		wallAt:        make(map[string]int),
		clickFailures: make(map[int]bool),
		waitFailures:  make(map[int]int),
	}
}

func (f *fakeBrowser) Open(context.Context) error { f.opened++; return nil }
func (f *fakeBrowser) Close() error               { f.closed++; return nil }

func (f *fakeBrowser) Navigate(_ context.Context, target string) error {
	f.navigations = append(f.navigations, target)
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	keywords := u.Query().Get("keywords")
	f.location, f.index = "", 0
	for loc := range f.results {
		if strings.HasSuffix(keywords, `"`+loc+`"`) {
			f.location = loc
		}
	}
	f.url = target
	if f.authwall[f.location] {
		f.url = testBase + "/authwall?trk=search"
	}
	return nil
}

func (f *fakeBrowser) Location(context.Context) (string, error) { return f.url, nil }

func (f *fakeBrowser) doc() *goquery.Document {
	pages := f.results[f.location]
	markup := ""
	if f.index < len(pages) {
		markup = pages[f.index]
	}
	if i, ok := f.wallAt[f.location]; ok && i == f.index {
		markup += `<form class="login__form"></form>`
	}
	d, _ := goquery.NewDocumentFromReader(strings.NewReader(markup))
	return d
}

func (f *fakeBrowser) WaitVisible(_ context.Context, sel string) error {
	if f.waitFailures[f.index] > 0 {
		f.waitFailures[f.index]--
		return fmt.Errorf("waiting for %s: %w", sel, context.DeadlineExceeded)
	}
	if f.doc().Find(sel).Length() == 0 {
		return errors.New("waiting for selector: context deadline exceeded")
	}
	return nil
}

func (f *fakeBrowser) Exists(_ context.Context, sel string) (bool, error) {
	return f.doc().Find(sel).Length() > 0, nil
}

func (f *fakeBrowser) Count(_ context.Context, sel string) (int, error) {
	return f.doc().Find(sel).Length(), nil
}

func (f *fakeBrowser) ScrollToBottom(context.Context, string) error { return nil }

func (f *fakeBrowser) OuterHTML(_ context.Context, sel string) (string, error) {
	if f.clicked == "" {
		return "", errors.New("no pane")
	}
	return fmt.Sprintf(`<div class="jobs-description-content__text"><p>Role %s</p></div>`, f.clicked), nil
}

func (f *fakeBrowser) OuterHTMLAll(_ context.Context, sel string) ([]string, error) {
	var out []string
	f.doc().Find(sel).Each(func(_ int, s *goquery.Selection) {
		h, _ := goquery.OuterHtml(s)
		out = append(out, h)
	})
	return out, nil
}

func (f *fakeBrowser) Click(_ context.Context, sel string) error {
	if f.doc().Find(sel).Length() == 0 {
		return errors.New("no next button")
	}
	f.index++
	f.nextClicks++
	f.clicked = ""
	return nil
}

func (f *fakeBrowser) ClickNth(_ context.Context, sel string, n int) error {
	if f.clickFailures[n] {
		f.clicked = ""
		return errors.New("element not interactable")
	}
	f.clicked = f.doc().Find(sel).Eq(n).AttrOr("data-job-id", "")
	return nil
}

func (f *fakeBrowser) Sleep(context.Context, time.Duration) error { return nil }

func resultsPage(ids []string, next bool) string {
	var b strings.Builder
	b.WriteString(`<div class="jobs-search-results-list"><ul>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<li data-job-id="%s"><a class="job-card-list__title">Engineer %s</a><span class="job-card-container__company-name">Co %s</span></li>`, id, id, id)
	}
	b.WriteString(`</ul></div>`)
	if next {
		b.WriteString(`<button aria-label="Next">Next</button>`)
	}
	return b.String()
}

func newTestSource(b *fakeBrowser, locations ...string) *Source {
	queries := make([]Query, len(locations))
	for i, loc := range locations {
		queries[i] = Query{Location: loc, Keywords: `("golang") AND "` + loc + `"`}
	}
	return NewSource(b, Options{
		BaseURL:   testBase,
		GeoID:     "92000000",
		Queries:   queries,
		Selectors: DefaultSelectors(),
	}, arbor.NewLogger())
}

func TestSource_SearchURL(t *testing.T) {
	s := newTestSource(newFakeBrowser(), "Berlin")
	u, err := url.Parse(s.SearchURL(s.opts.Queries[0]))
	require.NoError(t, err)

	assert.Equal(t, "/jobs/search", u.Path)
	assert.Equal(t, `("golang") AND "Berlin"`, u.Query().Get("keywords"))
	assert.Equal(t, "92000000", u.Query().Get("geoId"))
	assert.Equal(t, "F", u.Query().Get("f_JT"))
	assert.Equal(t, "DD", u.Query().Get("sortBy"))
}

func TestSource_WalksPagesThenLocations(t *testing.T) {
	b := newFakeBrowser()
	b.results["Berlin"] = []string{resultsPage([]string{"1", "2"}, true), resultsPage([]string{"3"}, false)}
	b.results["Paris"] = []string{resultsPage([]string{"4"}, false)}
	s := newTestSource(b, "Berlin", "Paris")
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	defer s.Close()

	p1, err := s.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p1.Number)
	require.Len(t, p1.Items, 2)
	assert.Equal(t, "1", p1.Items[0].SourceID)
	assert.Equal(t, "Berlin", p1.Items[0].Location)
	assert.Contains(t, p1.Items[0].Detail, "Role 1")
	assert.True(t, p1.HasMore)

	p2, err := s.NextPage(ctx)
	require.NoError(t, err)
	require.Len(t, p2.Items, 1)
	assert.Equal(t, "3", p2.Items[0].SourceID)
	assert.True(t, p2.HasMore, "another location remains")

	p3, err := s.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, p3.Number)
	assert.Equal(t, "Paris", p3.Items[0].Location)
	assert.False(t, p3.HasMore)

	_, err = s.NextPage(ctx)
	assert.ErrorIs(t, err, models.ErrSourceExhausted)
	assert.Len(t, b.navigations, 2)
}

func TestSource_RetriedPageLoadDoesNotSkipPage(t *testing.T) {
	b := newFakeBrowser()
	b.results["Berlin"] = []string{
		resultsPage([]string{"1"}, true),
		resultsPage([]string{"2"}, true),
		resultsPage([]string{"3"}, false),
	}
	b.waitFailures[1] = 1
	s := newTestSource(b, "Berlin")
	ctx := context.Background()
	policy := &retry.Policy{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        time.Millisecond,
		RetryableErrors: []error{context.DeadlineExceeded},
	}

	require.NoError(t, s.Open(ctx))
	defer s.Close()

	var ids []string
	for {
		var page *models.Page
		err := policy.Do(ctx, arbor.NewLogger(), func(ctx context.Context) error {
			var err error
			page, err = s.NextPage(ctx)
			return err
		})
		if errors.Is(err, models.ErrSourceExhausted) {
			break
		}
		require.NoError(t, err)
		for _, item := range page.Items {
			ids = append(ids, item.SourceID)
		}
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, 2, b.nextClicks)
	assert.Zero(t, b.waitFailures[1])
}

func TestSource_SkipsLocationWithoutResults(t *testing.T) {
	b := newFakeBrowser()
	b.results["Berlin"] = []string{""}
	b.results["Paris"] = []string{resultsPage([]string{"4"}, false)}
	s := newTestSource(b, "Berlin", "Paris")
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	p, err := s.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4", p.Items[0].SourceID)
	assert.Equal(t, 1, p.Number)
}

func TestSource_AuthwallRedirectRequiresLogin(t *testing.T) {
	b := newFakeBrowser()
	b.results["Berlin"] = []string{resultsPage([]string{"1"}, false)}
	b.authwall["Berlin"] = true
	s := newTestSource(b, "Berlin")
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	_, err := s.NextPage(ctx)
	assert.ErrorIs(t, err, models.ErrReLoginRequired)
}

func TestSource_LoginWallMidPagingRequiresLogin(t *testing.T) {
	b := newFakeBrowser()
	b.results["Berlin"] = []string{resultsPage([]string{"1"}, true), resultsPage([]string{"2"}, false)}
	b.wallAt["Berlin"] = 1
	s := newTestSource(b, "Berlin")
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	_, err := s.NextPage(ctx)
	require.NoError(t, err)

	_, err = s.NextPage(ctx)
	assert.ErrorIs(t, err, models.ErrReLoginRequired)
}

func TestSource_CardClickFailureKeepsCard(t *testing.T) {
	b := newFakeBrowser()
	b.results["Berlin"] = []string{resultsPage([]string{"1", "2"}, false)}
	b.clickFailures[0] = true
	s := newTestSource(b, "Berlin")
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	p, err := s.NextPage(ctx)
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.Empty(t, p.Items[0].Detail)
	assert.Contains(t, p.Items[1].Detail, "Role 2")
}

func TestSource_OpenRequiresQueries(t *testing.T) {
	b := newFakeBrowser()
	s := newTestSource(b)
	assert.Error(t, s.Open(context.Background()))
	assert.Equal(t, 0, b.opened)
	assert.NoError(t, s.Close())
}

func TestSource_PagesExtractEndToEnd(t *testing.T) {
	b := newFakeBrowser()
	b.results["Berlin"] = []string{resultsPage([]string{"11"}, false)}
	s := newTestSource(b, "Berlin")
	e := NewExtractor(testBase, nil, arbor.NewLogger())
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))

	p, err := s.NextPage(ctx)
	require.NoError(t, err)
	rec, err := e.ExtractOne(ctx, p.Items[0])
	require.NoError(t, err)
	assert.Equal(t, "Engineer 11", rec.Title)
	assert.Equal(t, "Co 11", rec.Company)
	assert.Equal(t, "Berlin", rec.Location)
	assert.Equal(t, "Role 11", rec.Description)
}

func TestBuildQueries(t *testing.T) {
	tax := &models.Taxonomy{
		Categories: map[string]models.CategoryKeywords{
			"backend": {"en": {"golang"}},
		},
		Locations: []string{"Berlin", "Remote"},
	}
	qs := BuildQueries(tax, "en")
	require.Len(t, qs, 2)
	assert.Equal(t, "Berlin", qs[0].Location)
	assert.Contains(t, qs[0].Keywords, `"golang"`)
	assert.True(t, strings.HasSuffix(qs[1].Keywords, `AND "Remote"`))
	assert.Nil(t, BuildQueries(nil, ""))
}
