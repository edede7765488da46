package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/interfaces"
)

type subscription struct {
	id      string
	handler interfaces.EventHandler
}

// Service implements EventService interface with pub/sub pattern
type Service struct {
	subscribers map[interfaces.EventType][]subscription
	mu          sync.RWMutex
	logger      arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]subscription),
		logger:      logger,
	}
}

// Subscribe registers a handler for an event type and returns its
// subscription ID
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := subscription{
		id:      uuid.New().String(),
		handler: handler,
	}
	s.subscribers[eventType] = append(s.subscribers[eventType], sub)

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", len(s.subscribers[eventType])).
		Msg("Event handler subscribed")

	return sub.id, nil
}

// Unsubscribe removes a subscription by ID
func (s *Service) Unsubscribe(eventType interfaces.EventType, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[eventType]
	for i, sub := range subs {
		if sub.id == subscriptionID {
			s.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			s.logger.Debug().
				Str("event_type", string(eventType)).
				Msg("Event handler unsubscribed")
			return nil
		}
	}

	return fmt.Errorf("subscription not found for event type: %s", eventType)
}

// Publish sends an event to all subscribers asynchronously
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	subs := s.subscribers[event.Type]
	s.mu.RUnlock()

	if len(subs) == 0 {
		s.logger.Debug().
			Str("event_type", string(event.Type)).
			Msg("No subscribers for event")
		return nil
	}

	for _, sub := range subs {
		go func(h interfaces.EventHandler) {
			if err := h(ctx, event); err != nil {
				s.logger.Error().
					Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		}(sub.handler)
	}

	return nil
}

// PublishSync sends an event to all subscribers and waits for every
// handler to finish before returning. Sources that need their events
// applied in delivery order publish through this form.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	s.mu.RLock()
	subs := s.subscribers[event.Type]
	s.mu.RUnlock()

	if len(subs) == 0 {
		s.logger.Debug().
			Str("event_type", string(event.Type)).
			Msg("No subscribers for event")
		return nil
	}

	var errCount int
	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			s.logger.Error().
				Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
			errCount++
		}
	}

	if errCount > 0 {
		return fmt.Errorf("event handlers failed: %d errors", errCount)
	}

	return nil
}

// Close shuts down the event service
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = make(map[interfaces.EventType][]subscription)
	s.logger.Info().Msg("Event service closed")

	return nil
}
