package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/common"
	"github.com/ternarybob/fetchd/internal/engine"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/ternarybob/fetchd/internal/progress"
	"github.com/ternarybob/fetchd/internal/registry"
	"github.com/ternarybob/fetchd/internal/services/cancel"
	"github.com/ternarybob/fetchd/internal/services/events"
	"github.com/ternarybob/fetchd/internal/services/presets"
)

type handlerFixture struct {
	registry *registry.Registry
	progress *progress.Service
	handler  *DownloadHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	logger := arbor.NewLogger()
	reg := registry.New(logger)
	progressService := progress.NewService(reg, logger)

	engineConfig := &common.EngineConfig{
		Command:        "downloader-not-installed",
		OutputDir:      t.TempDir(),
		MaxConcurrent:  1,
		ProgressWindow: "500ms",
	}
	engineService, err := engine.NewService(engineConfig, events.NewService(logger), logger)
	require.NoError(t, err)

	presetService, err := presets.NewService(filepath.Join(t.TempDir(), "presets.yaml"), logger)
	require.NoError(t, err)

	coordinator := cancel.NewCoordinator(reg, engineService, logger)

	return &handlerFixture{
		registry: reg,
		progress: progressService,
		handler: NewDownloadHandler(
			reg, progressService, coordinator, engineService, presetService, engineConfig, logger,
		),
	}
}

func enqueueStages(reg *registry.Registry, downloadID string) {
	for _, stage := range []models.Stage{models.StageAudio, models.StageVideo, models.StageMerge} {
		reg.Enqueue(models.NewStageTask(models.StageTaskID(downloadID, stage), downloadID))
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestEnqueueRejectsInvalidJSON(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/downloads", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.handler.EnqueueHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueRejectsMissingURL(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/downloads", strings.NewReader(`{"title":"no url"}`))
	rec := httptest.NewRecorder()
	f.handler.EnqueueHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueRejectsUnknownPreset(t *testing.T) {
	f := newHandlerFixture(t)

	body := `{"url":"https://example.com/watch?v=1","preset":"no-such-preset"}`
	req := httptest.NewRequest(http.MethodPost, "/api/downloads", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.EnqueueHandler(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnqueueRegistersStageTasks(t *testing.T) {
	f := newHandlerFixture(t)

	body := `{"url":"https://example.com/watch?v=1","title":"My Video"}`
	req := httptest.NewRequest(http.MethodPost, "/api/downloads", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.EnqueueHandler(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody(t, rec)
	downloadID, _ := resp["id"].(string)
	require.NotEmpty(t, downloadID)
	assert.Equal(t, string(models.TaskStatusPending), resp["status"])

	job, ok := f.registry.Get(downloadID)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/watch?v=1", job.URL)
	assert.Equal(t, "My Video", job.Title)
	assert.Len(t, f.registry.Children(downloadID), 3)
}

func TestEnqueueRequiresPost(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	rec := httptest.NewRecorder()
	f.handler.EnqueueHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListReturnsJobsWithProgress(t *testing.T) {
	f := newHandlerFixture(t)
	enqueueStages(f.registry, "dl_1")

	req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	rec := httptest.NewRecorder()
	f.handler.ListHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(1), resp["count"])
}

func TestGetUnknownDownload(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/dl_missing", nil)
	rec := httptest.NewRecorder()
	f.handler.GetHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReturnsStagesAndSamples(t *testing.T) {
	f := newHandlerFixture(t)
	enqueueStages(f.registry, "dl_1")
	f.progress.Ingest(&models.ProgressSample{
		DownloadID: "dl_1",
		Stage:      models.StageVideo,
		Percentage: 40,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/downloads/dl_1", nil)
	rec := httptest.NewRecorder()
	f.handler.GetHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "dl_1", resp["id"])
	assert.Len(t, resp["stages"], 3)
	assert.Len(t, resp["samples"], 1)
}

func TestCancelUnknownDownload(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/downloads/dl_missing/cancel", nil)
	rec := httptest.NewRecorder()
	f.handler.CancelHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelFinishedDownloadConflicts(t *testing.T) {
	f := newHandlerFixture(t)
	enqueueStages(f.registry, "dl_1")
	for _, stage := range []models.Stage{models.StageAudio, models.StageVideo, models.StageMerge} {
		f.registry.UpdateStatus(models.StageTaskID("dl_1", stage), models.TaskStatusCompleted, "")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/downloads/dl_1/cancel", nil)
	rec := httptest.NewRecorder()
	f.handler.CancelHandler(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelActiveDownload(t *testing.T) {
	f := newHandlerFixture(t)
	enqueueStages(f.registry, "dl_1")

	req := httptest.NewRequest(http.MethodPost, "/api/downloads/dl_1/cancel", nil)
	rec := httptest.NewRecorder()
	f.handler.CancelHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, string(models.TaskStatusCancelling), resp["status"])
}

func TestCancelAllReportsCount(t *testing.T) {
	f := newHandlerFixture(t)
	enqueueStages(f.registry, "dl_1")
	enqueueStages(f.registry, "dl_2")

	req := httptest.NewRequest(http.MethodPost, "/api/downloads/cancel", nil)
	rec := httptest.NewRecorder()
	f.handler.CancelAllHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(2), resp["cancelled"])
}

func TestDownloadIDFromPath(t *testing.T) {
	assert.Equal(t, "dl_1", downloadIDFromPath("/api/downloads/dl_1"))
	assert.Equal(t, "dl_1", downloadIDFromPath("/api/downloads/dl_1/cancel"))
	assert.Equal(t, "", downloadIDFromPath("/api/downloads/"))
}
