package api

import (
	"encoding/json"
	"log"
	"net/http"
)

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		log.Printf("cache stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read cache stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

type invalidateRequest struct {
	CID     string `json:"cid"`
	AppName string `json:"app_name"`
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	deleted, err := s.cache.Invalidate(r.Context(), req.CID, req.AppName)
	if err != nil {
		log.Printf("cache invalidate: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"deleted_count": deleted,
	})
}
