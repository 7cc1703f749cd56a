package models

import (
	"strings"
	"time"
)

// Record is a normalized unit of extracted content.
// ID is derived from (Source, SourceID, Company, Title) and never assigned by hand.
type Record struct {
	ID          string            `json:"id"`
	Source      string            `json:"source" badgerhold:"index"`
	SourceID    string            `json:"source_id"`
	Category    string            `json:"category,omitempty"`
	Title       string            `json:"title"`
	Company     string            `json:"company"`
	Location    string            `json:"location"`
	Description string            `json:"description"` // Markdown
	URL         string            `json:"url"`
	Extra       map[string]string `json:"extra,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
	CollectedAt time.Time         `json:"collected_at"`
}

// Text returns the free text used for relevance scoring and classification.
func (r *Record) Text() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Title + " " + r.Description)
}

// RawItem is one undecoded candidate produced by a source adapter.
// Content holds the primary payload (card HTML, JSON object); Detail holds
// any secondary payload captured alongside it (e.g. a description pane).
type RawItem struct {
	SourceID string `json:"source_id"`
	Content  string `json:"content"`
	Detail   string `json:"detail,omitempty"`
	Location string `json:"location,omitempty"` // Search location that produced the item
}

// Page is one page of raw items as yielded by a source adapter.
type Page struct {
	Number  int       `json:"number"`
	Items   []RawItem `json:"items"`
	HasMore bool      `json:"has_more"`
}

// RecordStats summarises the record store.
type RecordStats struct {
	Total    int            `json:"total"`
	BySource map[string]int `json:"by_source"`
}
