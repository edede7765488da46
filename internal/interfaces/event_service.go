package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventDownloadProgress carries a *models.ProgressSample from the engine
	EventDownloadProgress EventType = "download_progress"

	// EventDownloadCancelled confirms the engine has stopped a download.
	// Payload is a map with "download_id".
	EventDownloadCancelled EventType = "download_cancelled"

	// EventDownloadFailed reports an engine failure for a download.
	// Payload is a map with "download_id" and "error".
	EventDownloadFailed EventType = "download_failed"

	// EventHistoryAdded carries a *models.HistoryEntry for a finished download
	EventHistoryAdded EventType = "history_added"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages the pub/sub event bus.
// Subscribe returns a subscription ID so handlers can be released reliably
// (func values are not comparable, so unsubscribe-by-handler cannot work).
type EventService interface {
	// Subscribe to an event type, returning the subscription ID
	Subscribe(eventType EventType, handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(eventType EventType, subscriptionID string) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes an event and waits for all handlers to complete.
	// Event sources that require delivery-order application use this form.
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
