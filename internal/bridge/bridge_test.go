package bridge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/ternarybob/fetchd/internal/progress"
	"github.com/ternarybob/fetchd/internal/registry"
	"github.com/ternarybob/fetchd/internal/services/events"
)

// Mock history storage for testing
type mockHistory struct {
	entries  []*models.HistoryEntry
	storeErr error
}

func (m *mockHistory) StoreEntry(ctx context.Context, entry *models.HistoryEntry) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockHistory) GetEntry(ctx context.Context, id string) (*models.HistoryEntry, error) {
	return nil, fmt.Errorf("not implemented")
}

func (m *mockHistory) ListEntries(ctx context.Context, opts *interfaces.HistoryListOptions) ([]*models.HistoryEntry, error) {
	return m.entries, nil
}

func (m *mockHistory) DeleteEntry(ctx context.Context, id string) error { return nil }

func (m *mockHistory) CountEntries(ctx context.Context) (int, error) { return len(m.entries), nil }

func (m *mockHistory) DeleteOlderThan(ctx context.Context, days int) (int, error) { return 0, nil }

func (m *mockHistory) ClearAll(ctx context.Context) error { return nil }

// Event service that fails subscription for one event type, for testing
// rollback of partially acquired subscriptions.
type failingEventService struct {
	interfaces.EventService
	failOn        interfaces.EventType
	unsubscribed  []interfaces.EventType
	subscriptions int
}

func (f *failingEventService) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) (string, error) {
	if eventType == f.failOn {
		return "", fmt.Errorf("subscription refused")
	}
	f.subscriptions++
	return f.EventService.Subscribe(eventType, handler)
}

func (f *failingEventService) Unsubscribe(eventType interfaces.EventType, subscriptionID string) error {
	f.unsubscribed = append(f.unsubscribed, eventType)
	return f.EventService.Unsubscribe(eventType, subscriptionID)
}

type fixture struct {
	bridge   *Bridge
	events   interfaces.EventService
	registry *registry.Registry
	progress *progress.Service
	history  *mockHistory
}

func newFixture() *fixture {
	logger := arbor.NewLogger()
	reg := registry.New(logger)
	prog := progress.NewService(reg, logger)
	evt := events.NewService(logger)
	hist := &mockHistory{}
	return &fixture{
		bridge:   New(evt, reg, prog, hist, logger),
		events:   evt,
		registry: reg,
		progress: prog,
		history:  hist,
	}
}

func TestStartRollsBackOnPartialFailure(t *testing.T) {
	logger := arbor.NewLogger()
	reg := registry.New(logger)
	prog := progress.NewService(reg, logger)
	evt := &failingEventService{
		EventService: events.NewService(logger),
		failOn:       interfaces.EventHistoryAdded,
	}

	b := New(evt, reg, prog, &mockHistory{}, logger)
	err := b.Start()

	require.Error(t, err)
	assert.Len(t, evt.unsubscribed, evt.subscriptions,
		"every acquired subscription must be released on failure")
}

func TestStopReleasesAllSubscriptions(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())

	f.bridge.Stop()

	// After Stop nothing is delivered to the bridge
	require.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadProgress,
		Payload: &models.ProgressSample{DownloadID: "dl_1", Stage: models.StageVideo, Downloaded: 5},
	}))
	assert.Equal(t, 0, f.progress.Count())
}

func TestProgressEventIngestsSample(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	f.registry.Enqueue(models.NewStageTask("dl_1:video", "dl_1"))

	require.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadProgress,
		Payload: &models.ProgressSample{DownloadID: "dl_1", Stage: models.StageVideo, Downloaded: 5},
	}))

	assert.Equal(t, 1, f.progress.Count())
	child, ok := f.registry.Get("dl_1:video")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusRunning, child.Status)
}

func TestCancelledEventDequeuesDownload(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	f.registry.Enqueue(models.NewStageTask("dl_1:audio", "dl_1"))
	f.registry.Enqueue(models.NewStageTask("dl_1:video", "dl_1"))
	f.registry.UpdateStatus("dl_1:audio", models.TaskStatusCancelling, "")
	f.registry.UpdateStatus("dl_1:video", models.TaskStatusCancelling, "")

	require.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadCancelled,
		Payload: map[string]interface{}{"download_id": "dl_1"},
	}))

	assert.Equal(t, 0, f.registry.Count(),
		"confirmation must remove the job and its stage children")
}

// Completion and a cancellation confirmation may race; whichever terminal
// outcome lands, a later stray event must not resurrect the job.
func TestCancelledEventAfterCompletionLeavesCleanState(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	f.registry.Enqueue(models.NewStageTask("dl_1:video", "dl_1"))
	f.registry.UpdateStatus("dl_1:video", models.TaskStatusCompleted, "")

	require.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadCancelled,
		Payload: map[string]interface{}{"download_id": "dl_1"},
	}))

	_, ok := f.registry.Get("dl_1")
	assert.False(t, ok)
	_, ok = f.registry.Get("dl_1:video")
	assert.False(t, ok)
}

func TestCancelledEventUnknownDownloadIsNoOp(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	f.registry.Enqueue(models.NewStageTask("dl_1:video", "dl_1"))

	require.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadCancelled,
		Payload: map[string]interface{}{"download_id": "ghost"},
	}))

	assert.Equal(t, 2, f.registry.Count())
}

func TestFailedEventMarksChildrenFailed(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	f.registry.Enqueue(models.NewStageTask("dl_1:audio", "dl_1"))
	f.registry.Enqueue(models.NewStageTask("dl_1:video", "dl_1"))
	f.registry.UpdateStatus("dl_1:audio", models.TaskStatusCompleted, "")

	require.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadFailed,
		Payload: map[string]interface{}{"download_id": "dl_1", "error": "network reset"},
	}))

	audio, _ := f.registry.Get("dl_1:audio")
	assert.Equal(t, models.TaskStatusCompleted, audio.Status, "terminal child untouched")

	video, _ := f.registry.Get("dl_1:video")
	assert.Equal(t, models.TaskStatusFailed, video.Status)
	assert.Equal(t, "network reset", video.Error)

	parent, _ := f.registry.Get("dl_1")
	assert.Equal(t, models.TaskStatusFailed, parent.Status)
}

func TestHistoryEventStoresEntry(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	require.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventHistoryAdded,
		Payload: &models.HistoryEntry{ID: "hist_1", Title: "My Video"},
	}))

	require.Len(t, f.history.entries, 1)
	assert.Equal(t, "hist_1", f.history.entries[0].ID)
}

// Malformed payloads and storage failures are absorbed inside the bridge;
// the event source never sees them.
func TestHandlerErrorsAbsorbed(t *testing.T) {
	f := newFixture()
	f.history.storeErr = fmt.Errorf("disk full")
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	assert.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadProgress,
		Payload: "not a sample",
	}))

	assert.NoError(t, f.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventHistoryAdded,
		Payload: &models.HistoryEntry{ID: "hist_1"},
	}))
}

func TestHandlerPanicAbsorbed(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.bridge.Start())
	defer f.bridge.Stop()

	// A nil typed payload panics inside Ingest when dereferenced; the
	// guard must contain it.
	var sample *models.ProgressSample
	assert.NotPanics(t, func() {
		_ = f.events.PublishSync(context.Background(), interfaces.Event{
			Type:    interfaces.EventDownloadProgress,
			Payload: sample,
		})
	})
}
