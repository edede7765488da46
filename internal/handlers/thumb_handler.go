package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/services/thumbs"
)

type ThumbHandler struct {
	thumbs *thumbs.Service
	logger arbor.ILogger
}

func NewThumbHandler(thumbService *thumbs.Service, logger arbor.ILogger) *ThumbHandler {
	return &ThumbHandler{
		thumbs: thumbService,
		logger: logger,
	}
}

// GetHandler proxies a thumbnail through the cache: GET /api/thumb?url=...
func (h *ThumbHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	url := r.URL.Query().Get("url")
	if url == "" {
		WriteError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	thumb, err := h.thumbs.Get(r.Context(), url)
	if err != nil {
		h.logger.Debug().Err(err).Str("url", url).Msg("Thumbnail fetch failed")
		WriteError(w, http.StatusBadGateway, "Failed to fetch thumbnail")
		return
	}

	w.Header().Set("Content-Type", thumb.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(thumb.Data)
}
