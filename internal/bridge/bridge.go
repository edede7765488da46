// -----------------------------------------------------------------------
// Event Bridge - translates engine event streams into state mutations
// -----------------------------------------------------------------------

package bridge

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/ternarybob/fetchd/internal/progress"
	"github.com/ternarybob/fetchd/internal/registry"
)

// Bridge is the single subscription point between the engine's
// asynchronous event streams and the registry/progress mutations. It
// subscribes once at startup; a partial subscription failure releases
// whatever was already acquired, and Stop always releases everything.
//
// No handler lets a panic or error escape to the event source: a broken
// handler cannot crash delivery of unrelated events.
type Bridge struct {
	events   interfaces.EventService
	registry *registry.Registry
	progress *progress.Service
	history  interfaces.HistoryStorage
	logger   arbor.ILogger

	subscriptions []acquiredSubscription
}

type acquiredSubscription struct {
	eventType interfaces.EventType
	id        string
}

// New creates an event bridge
func New(
	eventService interfaces.EventService,
	reg *registry.Registry,
	progressService *progress.Service,
	historyStorage interfaces.HistoryStorage,
	logger arbor.ILogger,
) *Bridge {
	return &Bridge{
		events:   eventService,
		registry: reg,
		progress: progressService,
		history:  historyStorage,
		logger:   logger,
	}
}

// Start subscribes to the engine event streams. If any subscription
// fails, the ones already acquired are released before returning.
func (b *Bridge) Start() error {
	handlers := []struct {
		eventType interfaces.EventType
		handler   interfaces.EventHandler
	}{
		{interfaces.EventDownloadProgress, b.guard("progress", b.handleProgress)},
		{interfaces.EventDownloadCancelled, b.guard("cancelled", b.handleCancelled)},
		{interfaces.EventDownloadFailed, b.guard("failed", b.handleFailed)},
		{interfaces.EventHistoryAdded, b.guard("history", b.handleHistory)},
	}

	for _, h := range handlers {
		id, err := b.events.Subscribe(h.eventType, h.handler)
		if err != nil {
			b.Stop()
			return fmt.Errorf("failed to subscribe to %s: %w", h.eventType, err)
		}
		b.subscriptions = append(b.subscriptions, acquiredSubscription{
			eventType: h.eventType,
			id:        id,
		})
	}

	b.logger.Info().
		Int("subscriptions", len(b.subscriptions)).
		Msg("Event bridge started")

	return nil
}

// Stop releases every subscription acquired so far
func (b *Bridge) Stop() {
	for _, sub := range b.subscriptions {
		if err := b.events.Unsubscribe(sub.eventType, sub.id); err != nil {
			b.logger.Warn().
				Err(err).
				Str("event_type", string(sub.eventType)).
				Msg("Failed to unsubscribe event bridge handler")
		}
	}
	b.subscriptions = nil
}

// guard wraps a handler so neither errors nor panics escape to the event
// source. A failing handler is logged and delivery of other events
// continues untouched.
func (b *Bridge) guard(name string, handler interfaces.EventHandler) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().
					Str("handler", name).
					Str("event_type", string(event.Type)).
					Msg(fmt.Sprintf("Event handler panicked: %v", r))
			}
		}()

		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("handler", name).
				Str("event_type", string(event.Type)).
				Msg("Event handler error absorbed")
		}
		return nil
	}
}

// handleProgress ingests a progress sample, which also drives the owning
// stage task's status.
func (b *Bridge) handleProgress(ctx context.Context, event interfaces.Event) error {
	sample, ok := event.Payload.(*models.ProgressSample)
	if !ok {
		return fmt.Errorf("invalid download_progress payload type %T", event.Payload)
	}

	b.progress.Ingest(sample)
	return nil
}

// handleCancelled applies the engine's cancellation confirmation: the job
// takes its terminal status, then the job and its superseded stage
// children are dequeued, restoring a clean pre-download state so the same
// job can be resubmitted immediately.
func (b *Bridge) handleCancelled(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid download_cancelled payload type %T", event.Payload)
	}

	downloadID, _ := payload["download_id"].(string)
	if downloadID == "" {
		return fmt.Errorf("download_cancelled payload missing download_id")
	}

	b.registry.UpdateStatus(downloadID, models.TaskStatusCancelled, "")
	b.registry.Dequeue(downloadID)

	b.logger.Debug().
		Str("download_id", downloadID).
		Msg("Cancellation confirmed, download dequeued")

	return nil
}

// handleFailed marks a failed download. The failure lands on the job's
// non-terminal stage children so the derived parent status reflects it;
// a childless job takes the status directly.
func (b *Bridge) handleFailed(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return fmt.Errorf("invalid download_failed payload type %T", event.Payload)
	}

	downloadID, _ := payload["download_id"].(string)
	if downloadID == "" {
		return fmt.Errorf("download_failed payload missing download_id")
	}
	errMsg, _ := payload["error"].(string)

	children := b.registry.Children(downloadID)
	if len(children) == 0 {
		b.registry.UpdateStatus(downloadID, models.TaskStatusFailed, errMsg)
		return nil
	}

	for _, child := range children {
		if !child.Status.IsTerminal() {
			b.registry.UpdateStatus(child.ID, models.TaskStatusFailed, errMsg)
		}
	}
	return nil
}

// handleHistory forwards a finished download to the history store
func (b *Bridge) handleHistory(ctx context.Context, event interfaces.Event) error {
	entry, ok := event.Payload.(*models.HistoryEntry)
	if !ok {
		return fmt.Errorf("invalid history_added payload type %T", event.Payload)
	}

	if b.history == nil {
		return nil
	}

	if err := b.history.StoreEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}
	return nil
}
