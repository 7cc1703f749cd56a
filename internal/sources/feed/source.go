package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/models"
)

// SourceName tags records produced by this adapter
const SourceName = "feed"

// Query is one search against the feed
type Query struct {
	Location string
	Keywords string
}

// Source pages through the feed query by query
type Source struct {
	client  *Client
	queries []Query
	logger  arbor.ILogger

	query  int
	cursor int // Next page number for the current query
	number int
}

// NewSource creates the adapter. An empty query list runs one unfiltered query.
func NewSource(client *Client, queries []Query, logger arbor.ILogger) *Source {
	if len(queries) == 0 {
		queries = []Query{{}}
	}
	return &Source{client: client, queries: queries, logger: logger}
}

func (s *Source) Name() string {
	return SourceName
}

func (s *Source) Open(ctx context.Context) error {
	s.query, s.cursor, s.number = 0, 1, 0
	return nil
}

func (s *Source) Close() error {
	return nil
}

// NextPage fetches the next page. Position only advances after a
// successful fetch, so a retried call repeats the same request.
func (s *Source) NextPage(ctx context.Context) (*models.Page, error) {
	for s.query < len(s.queries) {
		q := s.queries[s.query]
		resp, err := s.client.FetchPage(ctx, q.Keywords, s.cursor)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("%w: %v", models.ErrReLoginRequired, err)
			}
			return nil, err
		}

		if resp.NextPage != nil && *resp.NextPage > s.cursor {
			s.cursor = *resp.NextPage
		} else {
			s.query++
			s.cursor = 1
		}

		if len(resp.Items) == 0 {
			continue
		}

		items := make([]models.RawItem, 0, len(resp.Items))
		for _, raw := range resp.Items {
			var head struct {
				ID ItemID `json:"id"`
			}
			// Undecodable items still reach the extractor, which reports them
			_ = json.Unmarshal(raw, &head)
			items = append(items, models.RawItem{
				SourceID: string(head.ID),
				Content:  string(raw),
				Location: q.Location,
			})
		}

		s.number++
		s.logger.Debug().
			Int("page", s.number).
			Int("items", len(items)).
			Str("location", q.Location).
			Msg("Fetched feed page")

		return &models.Page{
			Number:  s.number,
			Items:   items,
			HasMore: s.query < len(s.queries),
		}, nil
	}
	return nil, models.ErrSourceExhausted
}
