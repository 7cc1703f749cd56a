package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventBatchFlushed   EventType = "batch_flushed"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
	EventControlChanged EventType = "control_changed"
)

// AllEventTypes lists every event type that may be published
var AllEventTypes = []EventType{
	EventRunStarted,
	EventBatchFlushed,
	EventRunCompleted,
	EventRunFailed,
	EventControlChanged,
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
