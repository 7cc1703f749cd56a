package models

import (
	"errors"
	"fmt"
)

var (
	// ErrReLoginRequired means the automation session can no longer reach the target content
	ErrReLoginRequired = errors.New("login required: session expired")
	// ErrSourceExhausted is returned by adapters that have no further pages
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrAlreadyRunning is returned when a run for the same scraper is already in flight
	ErrAlreadyRunning = errors.New("scraper already running")
	// ErrInvalidStatus is returned for values outside the enumerated status sets
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidTaxonomy is returned when a taxonomy fails validation
	ErrInvalidTaxonomy = errors.New("invalid taxonomy")
	// ErrUnknownSource is returned when no adapter is registered for a source name
	ErrUnknownSource = errors.New("unknown source")
)

// ExtractionError wraps a failure to turn one raw item into a Record
type ExtractionError struct {
	SourceID string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.SourceID == "" {
		return fmt.Sprintf("extraction failed: %v", e.Err)
	}
	return fmt.Sprintf("extraction failed for %s: %v", e.SourceID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
