package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ternarybob/gleaner/internal/identity"
	"github.com/ternarybob/gleaner/internal/models"
)

var (
	errMissingID    = errors.New("item has no id")
	errMissingTitle = errors.New("item has no title")
)

// Extractor maps feed JSON items to records
type Extractor struct{}

// NewExtractor creates a feed extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) SourceName() string {
	return SourceName
}

func (e *Extractor) ExtractOne(ctx context.Context, raw models.RawItem) (*models.Record, error) {
	var item Item
	if err := json.Unmarshal([]byte(raw.Content), &item); err != nil {
		return nil, &models.ExtractionError{SourceID: raw.SourceID, Err: err}
	}

	id := strings.TrimSpace(string(item.ID))
	if id == "" {
		return nil, &models.ExtractionError{SourceID: raw.SourceID, Err: errMissingID}
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil, &models.ExtractionError{SourceID: id, Err: errMissingTitle}
	}
	company := strings.TrimSpace(item.Company)

	location := strings.TrimSpace(item.Location)
	if location == "" {
		location = raw.Location
	}

	var extra map[string]string
	if len(item.Extra) > 0 || item.PostedAt != "" {
		extra = make(map[string]string, len(item.Extra)+1)
		for k, v := range item.Extra {
			extra[k] = v
		}
		if item.PostedAt != "" {
			extra["posted_at"] = item.PostedAt
		}
	}

	return &models.Record{
		ID:          identity.RecordID(SourceName, id, company, title),
		Source:      SourceName,
		SourceID:    id,
		Category:    strings.TrimSpace(item.Category),
		Title:       title,
		Company:     company,
		Location:    location,
		Description: strings.TrimSpace(item.Description),
		URL:         item.URL,
		Extra:       extra,
	}, nil
}
