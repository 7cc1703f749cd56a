package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"golang.org/x/time/rate"
)

// EventSubscriber forwards run lifecycle events to websocket clients
type EventSubscriber struct {
	handler    *WebSocketHandler
	logger     arbor.ILogger
	throttlers map[interfaces.EventType]*rate.Limiter // Rate limiters for high-frequency events
}

// NewEventSubscriber subscribes handler to every event type. Event types in
// throttle are forwarded at most once per interval.
func NewEventSubscriber(handler *WebSocketHandler, events interfaces.EventService, throttle map[interfaces.EventType]time.Duration, logger arbor.ILogger) (*EventSubscriber, error) {
	s := &EventSubscriber{
		handler:    handler,
		logger:     logger,
		throttlers: make(map[interfaces.EventType]*rate.Limiter),
	}
	for eventType, every := range throttle {
		if every > 0 {
			s.throttlers[eventType] = rate.NewLimiter(rate.Every(every), 1)
		}
	}

	for _, eventType := range interfaces.AllEventTypes {
		if err := events.Subscribe(eventType, s.forward); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *EventSubscriber) forward(ctx context.Context, event interfaces.Event) error {
	if l, ok := s.throttlers[event.Type]; ok && !l.Allow() {
		return nil
	}
	s.handler.Broadcast(WSMessage{
		Type:    string(event.Type),
		Payload: event.Payload,
	})
	return nil
}
