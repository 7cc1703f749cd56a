package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Response is one page of the feed
type Response struct {
	Items    []json.RawMessage `json:"items"`
	NextPage *int              `json:"next_page"`
}

// Item is the wire shape of one feed entry
type Item struct {
	ID          ItemID            `json:"id"`
	Title       string            `json:"title"`
	Company     string            `json:"company"`
	Location    string            `json:"location"`
	Description string            `json:"description"`
	URL         string            `json:"url"`
	Category    string            `json:"category"`
	PostedAt    string            `json:"posted_at"`
	Extra       map[string]string `json:"extra"`
}

// ItemID accepts both string and numeric ids
type ItemID string

func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ItemID(n.String())
	return nil
}

// APIError represents a non-200 response from the feed
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Retryable reports whether the status is worth another attempt
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}
