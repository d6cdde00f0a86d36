package api

import (
	"net/http"
)

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	// Similarity query
	s.router.HandleFunc("/similarusers", s.handleSimilarUsers)

	// Liveness probe
	s.router.HandleFunc("/healthz", s.handleHealthz)

	// Refresh status
	s.router.HandleFunc("/database/refresh", s.handleRefreshStatus)

	// Root endpoint
	s.router.HandleFunc("/", s.handleRoot)
}

// handleRoot handles requests to the root path
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Error(w, "Not found", http.StatusNotFound)
}
