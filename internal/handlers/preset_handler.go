package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/services/presets"
)

type PresetHandler struct {
	presets *presets.Service
	logger  arbor.ILogger
}

func NewPresetHandler(presetService *presets.Service, logger arbor.ILogger) *PresetHandler {
	return &PresetHandler{
		presets: presetService,
		logger:  logger,
	}
}

// ListHandler returns all presets: GET /api/presets
func (h *PresetHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	list := h.presets.List()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"presets": list,
		"count":   len(list),
	})
}

// ReloadHandler re-reads the presets file: POST /api/presets/reload
func (h *PresetHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.presets.Reload(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to reload presets")
		WriteError(w, http.StatusInternalServerError, "Failed to reload presets: "+err.Error())
		return
	}

	WriteSuccess(w, "Presets reloaded")
}
