package models

import "time"

// ServiceState is the operator-controlled state of the whole service
type ServiceState string

const (
	ServiceActive ServiceState = "active"
	ServicePaused ServiceState = "paused"
)

// Valid reports whether s is one of the enumerated service states
func (s ServiceState) Valid() bool {
	return s == ServiceActive || s == ServicePaused
}

// ScraperState is the run state of a named scraper
type ScraperState string

const (
	ScraperIdle    ScraperState = "idle"
	ScraperRunning ScraperState = "running"
	ScraperPaused  ScraperState = "paused"
	ScraperError   ScraperState = "error"
)

// Valid reports whether s is one of the enumerated scraper states
func (s ScraperState) Valid() bool {
	switch s {
	case ScraperIdle, ScraperRunning, ScraperPaused, ScraperError:
		return true
	}
	return false
}

// ServiceStatus is the singleton control row for the service
type ServiceStatus struct {
	Status         ServiceState `json:"status"`
	ActiveScrapers int          `json:"activeScrapers"`
	LastCheck      *time.Time   `json:"lastCheck,omitempty"`
}

// ScraperStatus is the control row for one named scraper
type ScraperStatus struct {
	Name            string       `json:"name"`
	Status          ScraperState `json:"status"`
	LastRun         *time.Time   `json:"lastRun,omitempty"`
	LastSuccess     *time.Time   `json:"lastSuccess,omitempty"`
	ErrorMessage    string       `json:"errorMessage,omitempty"`
	RecordsIngested int          `json:"recordsIngested"`
}
