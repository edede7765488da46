package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Downloads
	mux.HandleFunc("/api/downloads", s.handleDownloadsRoute)          // GET (list), POST (enqueue)
	mux.HandleFunc("/api/downloads/cancel", s.handleCancelAllRoute)   // POST - cancel everything in flight
	mux.HandleFunc("/api/downloads/", s.handleDownloadRoutes)         // GET /{id}, POST /{id}/cancel

	// API routes - History
	mux.HandleFunc("/api/history", s.app.HistoryHandler.ListHandler)
	mux.HandleFunc("/api/history/clear", s.app.HistoryHandler.ClearHandler)
	mux.HandleFunc("/api/history/", s.app.HistoryHandler.DeleteHandler) // DELETE /{id}

	// API routes - Presets
	mux.HandleFunc("/api/presets", s.app.PresetHandler.ListHandler)
	mux.HandleFunc("/api/presets/reload", s.app.PresetHandler.ReloadHandler)

	// API routes - Thumbnails
	mux.HandleFunc("/api/thumb", s.app.ThumbHandler.GetHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleDownloadsRoute routes /api/downloads requests (list and enqueue)
func (s *Server) handleDownloadsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.DownloadHandler.ListHandler(w, r)
	case "POST":
		s.app.DownloadHandler.EnqueueHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCancelAllRoute routes POST /api/downloads/cancel
func (s *Server) handleCancelAllRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.DownloadHandler.CancelAllHandler(w, r)
}

// handleDownloadRoutes routes /api/downloads/{id} requests and subpaths
func (s *Server) handleDownloadRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// POST /api/downloads/{id}/cancel
	if r.Method == "POST" && strings.HasSuffix(path, "/cancel") {
		s.app.DownloadHandler.CancelHandler(w, r)
		return
	}

	// GET /api/downloads/{id}
	if r.Method == "GET" && len(path) > len("/api/downloads/") {
		s.app.DownloadHandler.GetHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
