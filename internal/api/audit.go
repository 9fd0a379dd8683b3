package api

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tms-dashboard/internal/store"
)

func auditLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records, err := s.audit.Trail(r.Context(), store.TrailFilter{
		UserID:     q.Get("user_id"),
		ActionType: q.Get("action_type"),
		CustomerID: q.Get("customer_id"),
		Limit:      auditLimit(r),
	})
	if err != nil {
		log.Printf("audit trail: %v", err)
		records = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleAuditUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	records, err := s.audit.Trail(r.Context(), store.TrailFilter{
		UserID: username,
		Limit:  auditLimit(r),
	})
	if err != nil {
		log.Printf("audit for user %s: %v", username, err)
		records = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user_id": username,
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleAuditCustomer(w http.ResponseWriter, r *http.Request) {
	cid := chi.URLParam(r, "cid")
	records, err := s.audit.Trail(r.Context(), store.TrailFilter{
		CustomerID: cid,
		Limit:      auditLimit(r),
	})
	if err != nil {
		log.Printf("audit for customer %s: %v", cid, err)
		records = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"customer_id": cid,
		"count":       len(records),
		"records":     records,
	})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		log.Printf("audit stats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to read audit stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}
