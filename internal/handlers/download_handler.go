// -----------------------------------------------------------------------
// Download Handler - enqueue, list, progress and cancellation endpoints
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/common"
	"github.com/ternarybob/fetchd/internal/engine"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/ternarybob/fetchd/internal/progress"
	"github.com/ternarybob/fetchd/internal/registry"
	"github.com/ternarybob/fetchd/internal/services/cancel"
	"github.com/ternarybob/fetchd/internal/services/presets"
)

// DownloadRequest is the enqueue API payload
type DownloadRequest struct {
	URL    string `json:"url" validate:"required,url"`
	Preset string `json:"preset" validate:"omitempty,max=64"`
	Title  string `json:"title" validate:"omitempty,max=512"`
}

// DownloadView is the API projection of a job: the registry task plus the
// aggregated completion ratio.
type DownloadView struct {
	*models.Task
	Progress float64                  `json:"progress"`
	Stages   []*models.Task           `json:"stages,omitempty"`
	Samples  []*models.ProgressSample `json:"samples,omitempty"`
}

type DownloadHandler struct {
	registry    *registry.Registry
	progress    *progress.Service
	coordinator *cancel.Coordinator
	engine      *engine.Service
	presets     *presets.Service
	config      *common.EngineConfig
	validate    *validator.Validate
	logger      arbor.ILogger
}

func NewDownloadHandler(
	reg *registry.Registry,
	progressService *progress.Service,
	coordinator *cancel.Coordinator,
	engineService *engine.Service,
	presetService *presets.Service,
	config *common.EngineConfig,
	logger arbor.ILogger,
) *DownloadHandler {
	return &DownloadHandler{
		registry:    reg,
		progress:    progressService,
		coordinator: coordinator,
		engine:      engineService,
		presets:     presetService,
		config:      config,
		validate:    validator.New(),
		logger:      logger,
	}
}

// EnqueueHandler accepts a new download: POST /api/downloads
//
// The preset decides which stage tasks the job gets; they are registered
// before the engine starts so the first progress event always finds its
// stage task in place.
func (h *DownloadHandler) EnqueueHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	preset, ok := h.presets.Get(req.Preset)
	if !ok {
		WriteError(w, http.StatusBadRequest, "Unknown preset: "+req.Preset)
		return
	}

	downloadID := common.NewDownloadID()

	for _, stage := range preset.StageList() {
		h.registry.Enqueue(models.NewStageTask(models.StageTaskID(downloadID, stage), downloadID))
	}
	h.registry.UpdateFields(downloadID, models.Task{
		URL:   req.URL,
		Title: req.Title,
	})

	outputPath := ""
	if preset.OutputTemplate != "" {
		outputPath = filepath.Join(h.config.OutputDir, preset.OutputTemplate)
	}

	args := preset.ExtraArgs
	if preset.Format != "" {
		args = append([]string{"-f", preset.Format}, args...)
	}

	if err := h.engine.Start(r.Context(), interfaces.DownloadRequest{
		ID:         downloadID,
		URL:        req.URL,
		OutputPath: outputPath,
		Args:       args,
	}); err != nil {
		h.registry.Dequeue(downloadID)
		h.logger.Error().Err(err).Str("url", req.URL).Msg("Failed to start download")
		WriteError(w, http.StatusInternalServerError, "Failed to start download")
		return
	}

	h.logger.Info().
		Str("download_id", downloadID).
		Str("preset", preset.Name).
		Str("url", req.URL).
		Msg("Download enqueued")

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"id":     downloadID,
		"status": string(models.TaskStatusPending),
	})
}

// ListHandler returns all jobs with their aggregated progress:
// GET /api/downloads
func (h *DownloadHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobs := h.registry.Jobs()
	views := make([]*DownloadView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, &DownloadView{
			Task:     job,
			Progress: h.progress.ParentProgress(job.ID),
		})
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"downloads": views,
		"count":     len(views),
	})
}

// GetHandler returns one job with stages and raw samples:
// GET /api/downloads/{id}
func (h *DownloadHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := downloadIDFromPath(r.URL.Path)
	job, ok := h.registry.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "Download not found: "+id)
		return
	}

	WriteJSON(w, http.StatusOK, &DownloadView{
		Task:     job,
		Progress: h.progress.ParentProgress(id),
		Stages:   h.registry.Children(id),
		Samples:  h.progress.Samples(id),
	})
}

// CancelHandler cancels one download: POST /api/downloads/{id}/cancel
func (h *DownloadHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := downloadIDFromPath(strings.TrimSuffix(r.URL.Path, "/cancel"))

	err := h.coordinator.CancelOne(r.Context(), id)
	switch {
	case errors.Is(err, cancel.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Download not found: "+id)
	case errors.Is(err, cancel.ErrNotCancellable):
		WriteError(w, http.StatusConflict, "Download already finished: "+id)
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "Cancel failed")
	default:
		WriteJSON(w, http.StatusOK, map[string]string{
			"id":     id,
			"status": string(models.TaskStatusCancelling),
		})
	}
}

// CancelAllHandler cancels every active download: POST /api/downloads/cancel
func (h *DownloadHandler) CancelAllHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	count := h.coordinator.CancelAll(r.Context())
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled": count,
	})
}

// downloadIDFromPath extracts the job ID from /api/downloads/{id}[...]
func downloadIDFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/downloads/")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
