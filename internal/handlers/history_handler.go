package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/services/history"
)

type HistoryHandler struct {
	history *history.Service
	logger  arbor.ILogger
}

func NewHistoryHandler(historyService *history.Service, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		history: historyService,
		logger:  logger,
	}
}

// ListHandler returns history entries newest first: GET /api/history
func (h *HistoryHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetLimitOffset(r, 50)

	entries, err := h.history.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list history")
		WriteError(w, http.StatusInternalServerError, "Failed to list history")
		return
	}

	total, err := h.history.Count(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count history")
		WriteError(w, http.StatusInternalServerError, "Failed to count history")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"total":   total,
	})
}

// DeleteHandler removes one entry: DELETE /api/history/{id}
func (h *HistoryHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/history/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "History entry ID is required")
		return
	}

	if err := h.history.Delete(r.Context(), id); err != nil {
		WriteError(w, http.StatusNotFound, "History entry not found: "+id)
		return
	}

	WriteSuccess(w, "History entry deleted")
}

// ClearHandler removes every entry: POST /api/history/clear
func (h *HistoryHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.history.ClearAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to clear history")
		WriteError(w, http.StatusInternalServerError, "Failed to clear history")
		return
	}

	WriteSuccess(w, "History cleared")
}
