package jobboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/identity"
	"github.com/ternarybob/gleaner/internal/models"
)

// SourceName tags records produced by this adapter
const SourceName = "jobboard"

var (
	errMissingID    = errors.New("card has no job id")
	errMissingTitle = errors.New("card has no title")
)

// Extractor parses captured job cards into records
type Extractor struct {
	baseURL   string
	selectors *Selectors
	policy    *bluemonday.Policy
	converter *md.Converter
	logger    arbor.ILogger
	now       func() time.Time
}

// NewExtractor creates an extractor building record URLs under baseURL
func NewExtractor(baseURL string, selectors *Selectors, logger arbor.ILogger) *Extractor {
	if selectors == nil {
		selectors = DefaultSelectors()
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Extractor{
		baseURL:   baseURL,
		selectors: selectors,
		policy:    bluemonday.UGCPolicy(),
		converter: md.NewConverter(baseURL, true, nil),
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Extractor) SourceName() string {
	return SourceName
}

// ExtractOne parses raw.Content as card markup and raw.Detail as the
// description pane markup
func (e *Extractor) ExtractOne(ctx context.Context, raw models.RawItem) (*models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.Content))
	if err != nil {
		return nil, &models.ExtractionError{SourceID: raw.SourceID, Err: err}
	}

	sel := e.selectors
	sourceID := strings.TrimSpace(doc.Find(sel.JobCardContainer).First().AttrOr(sel.JobIDAttr, ""))
	if sourceID == "" {
		sourceID = raw.SourceID
	}
	if sourceID == "" {
		return nil, &models.ExtractionError{Err: errMissingID}
	}

	title := find(doc.Selection, sel.Title)
	if title == "" {
		return nil, &models.ExtractionError{SourceID: sourceID, Err: errMissingTitle}
	}
	company := find(doc.Selection, sel.Company)

	location := find(doc.Selection, sel.Location)
	if location == "" {
		location = raw.Location
	}

	rec := &models.Record{
		ID:          identity.RecordID(SourceName, sourceID, company, title),
		Source:      SourceName,
		SourceID:    sourceID,
		Title:       title,
		Company:     company,
		Location:    location,
		Description: e.description(doc, raw),
		URL:         fmt.Sprintf("%s/jobs/view/%s/", e.baseURL, sourceID),
		Extra:       e.extra(doc.Selection),
	}
	return rec, nil
}

func (e *Extractor) description(doc *goquery.Document, raw models.RawItem) string {
	html := raw.Detail
	if html == "" && e.selectors.Description != "" {
		if s := doc.Find(e.selectors.Description).First(); s.Length() > 0 {
			html, _ = goquery.OuterHtml(s)
		}
	}
	if strings.TrimSpace(html) == "" {
		return ""
	}

	clean := e.policy.Sanitize(html)
	out, err := e.converter.ConvertString(clean)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("source_id", raw.SourceID).
			Msg("Description conversion failed, using text")
		d, _ := goquery.NewDocumentFromReader(strings.NewReader(clean))
		return cleanText(d.Text())
	}
	return strings.TrimSpace(out)
}

func (e *Extractor) extra(s *goquery.Selection) map[string]string {
	sel := e.selectors
	extra := make(map[string]string)
	put := func(key, val string) {
		if val != "" {
			extra[key] = val
		}
	}

	posted := find(s, sel.PostedAt)
	if date, ok := ParseRelativeTime(posted, e.now()); ok {
		posted = date
	}
	put("posted_at", posted)
	put("seniority", find(s, sel.Seniority))
	put("employment_type", find(s, sel.EmploymentType))
	put("job_function", find(s, sel.Function))
	put("industries", find(s, sel.Industries))

	applicants := find(s, sel.ApplicantCount)
	if n, ok := ExtractNumber(applicants); ok {
		applicants = strconv.Itoa(n)
	}
	put("applicant_count", applicants)

	if len(extra) == 0 {
		return nil
	}
	return extra
}

// find returns the collapsed text of the first match of sel
func find(s *goquery.Selection, sel string) string {
	if sel == "" {
		return ""
	}
	return cleanText(s.Find(sel).First().Text())
}
