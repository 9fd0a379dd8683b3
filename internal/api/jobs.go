package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tms-dashboard/internal/models"
	"tms-dashboard/internal/store"
	"tms-dashboard/internal/telemetry"
	"tms-dashboard/internal/upstream"
)

type createJobRequest struct {
	ActionCode      int            `json:"action_code"`
	ActionName      string         `json:"action_name"`
	CIDs            []string       `json:"cids"`
	ClusterURL      string         `json:"cluster_url"`
	BatchID         string         `json:"batch_id"`
	RequestPayload  map[string]any `json:"request_payload"`
	ResponseSummary string         `json:"response_summary"`
	Status          string         `json:"status"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ActionCode == 0 || req.ActionName == "" {
		writeError(w, http.StatusBadRequest, "action_code and action_name are required")
		return
	}
	if len(req.CIDs) == 0 {
		writeError(w, http.StatusBadRequest, "cids must be a non-empty list")
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), store.CreateJobParams{
		UserID:          currentUser(r),
		ActionCode:      req.ActionCode,
		ActionName:      req.ActionName,
		CustomerIDs:     req.CIDs,
		ClusterURL:      req.ClusterURL,
		BatchID:         req.BatchID,
		RequestPayload:  req.RequestPayload,
		ResponseSummary: req.ResponseSummary,
		InitialStatus:   req.Status,
	})
	if err != nil {
		log.Printf("create job: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.broadcastJob(job.ID, job.UserID, job.ActionName, job.Status)
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Job created successfully",
		"job":     job,
	})
}

func (s *Server) handleMyJobs(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > s.cfg.MaxJobListLimit {
		limit = s.cfg.MaxJobListLimit
	}

	jobs, err := s.jobs.ListUserJobs(r.Context(), userID, limit)
	if err != nil {
		log.Printf("list jobs for %s: %v", userID, err)
		jobs = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"user_id":   userID,
		"job_count": len(jobs),
		"jobs":      jobs,
	})
}

// ownedJob fetches a job and enforces that the requesting user owns it. The
// capability check lives here, once, for every job-scoped endpoint.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found: "+jobID)
		return models.Job{}, false
	}
	if err != nil {
		log.Printf("get job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return models.Job{}, false
	}
	if job.UserID != currentUser(r) {
		writeError(w, http.StatusForbidden, "Access denied: job belongs to another user")
		return models.Job{}, false
	}
	return job, true
}

func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (s *Server) handleJobCustomers(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	customers, err := s.jobs.GetJobCustomers(r.Context(), job.ID)
	if err != nil {
		log.Printf("get customers for job %s: %v", job.ID, err)
		customers = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"job_id":         job.ID,
		"customer_count": len(customers),
		"customers":      customers,
	})
}

func (s *Server) handleJobAppStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	token := q.Get("token")
	clusterURL := q.Get("cluster_url")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token query parameter is required")
		return
	}
	if clusterURL == "" {
		writeError(w, http.StatusBadRequest, "cluster_url query parameter is required")
		return
	}

	app := q.Get("app")
	if app == "" {
		app = "ALL"
	}
	ttl := s.cfg.DefaultCacheTTL
	if v := q.Get("ttl_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Second
		}
	}
	skipCache := strings.EqualFold(q.Get("skip_cache"), "true")

	cids, err := s.jobs.GetJobCustomers(r.Context(), job.ID)
	if err != nil {
		log.Printf("get customers for job %s: %v", job.ID, err)
		cids = nil
	}
	if len(cids) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"job_id":         job.ID,
			"customer_count": 0,
			"cache_hits":     0,
			"cache_misses":   0,
			"appstatus":      map[string]any{},
		})
		return
	}

	result := s.fetcher.Fetch(r.Context(), cids, upstream.FetchParams{
		ClusterURL: clusterURL,
		Token:      token,
		App:        app,
		TTL:        ttl,
		SkipCache:  skipCache,
	})

	// Piggyback an expiry sweep on the read path.
	if deleted, err := s.cache.Sweep(r.Context(), ttl); err != nil {
		log.Printf("cache sweep: %v", err)
	} else if deleted > 0 {
		telemetry.CacheSweepDrops.Add(float64(deleted))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"job_id":         job.ID,
		"customer_count": len(cids),
		"cache_hits":     result.CacheHits,
		"cache_misses":   result.CacheMisses,
		"appstatus":      result.Statuses,
	})
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	s.hub.Add(conn)
}
