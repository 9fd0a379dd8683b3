package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"tms-dashboard/internal/auth"
	"tms-dashboard/internal/config"
	"tms-dashboard/internal/ratelimit"
	"tms-dashboard/internal/store"
	"tms-dashboard/internal/telemetry"
	"tms-dashboard/internal/upstream"
	"tms-dashboard/internal/ws"
)

type ctxKey int

const userKey ctxKey = 0

// Server wires HTTP handlers for the dashboard API.
type Server struct {
	cfg       config.Config
	jobs      *store.JobStore
	cache     *store.AppStatusCache
	audit     *store.AuditStore
	provision *store.ProvisionStore
	caller    *upstream.Caller
	fetcher   *upstream.StatusFetcher
	directory *auth.Directory
	sessions  *auth.Sessions
	limiter   *ratelimit.TokenBucket
	hub       *ws.Hub
	upgrader  websocket.Upgrader
}

// Deps collects the collaborators the server needs.
type Deps struct {
	Jobs      *store.JobStore
	Cache     *store.AppStatusCache
	Audit     *store.AuditStore
	Provision *store.ProvisionStore
	Caller    *upstream.Caller
	Fetcher   *upstream.StatusFetcher
	Directory *auth.Directory
	Sessions  *auth.Sessions
	Limiter   *ratelimit.TokenBucket
	Hub       *ws.Hub
}

// New constructs the API server.
func New(cfg config.Config, d Deps) *Server {
	return &Server{
		cfg:       cfg,
		jobs:      d.Jobs,
		cache:     d.Cache,
		audit:     d.Audit,
		provision: d.Provision,
		caller:    d.Caller,
		fetcher:   d.Fetcher,
		directory: d.Directory,
		sessions:  d.Sessions,
		limiter:   d.Limiter,
		hub:       d.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/api/logout", s.handleLogout)
		r.Get("/api/user/info", s.handleUserInfo)
		r.Get("/api/users", s.handleUsers)

		r.Post("/proxy/fetch", s.handleProxyFetch)

		r.Post("/api/jobs", s.handleCreateJob)
		r.Get("/api/jobs/mine", s.handleMyJobs)
		r.Get("/api/jobs/{jobID}", s.handleJobDetails)
		r.Get("/api/jobs/{jobID}/customers", s.handleJobCustomers)
		r.Get("/api/jobs/{jobID}/appstatus", s.handleJobAppStatus)

		r.Get("/api/cache/stats", s.handleCacheStats)

		r.Get("/api/audit/trail", s.handleAuditTrail)
		r.Get("/api/audit/user/{username}", s.handleAuditUser)
		r.Get("/api/audit/customer/{cid}", s.handleAuditCustomer)
		r.Get("/api/audit/stats", s.handleAuditStats)

		r.Get("/api/prod-data", s.handleGetProdData)
		r.Get("/api/prod-data/all", s.handleListProdData)

		r.Post("/api/batches/generate", s.handleGenerateBatches)
		r.Get("/api/batches", s.handleListBatches)
		r.Post("/api/batches/assign", s.handleAssignBatch)
		r.Post("/api/batches/assign-bulk", s.handleAssignBatches)
		r.Post("/api/batches/unassign", s.handleUnassignBatch)

		r.Get("/ws/jobs", s.handleJobStream)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/api/cache/invalidate", s.handleCacheInvalidate)
			r.Post("/api/prod-data", s.handleSaveProdData)
			r.Post("/api/prod-data/delete", s.handleDeleteProdData)
			r.Post("/api/batches/delete", s.handleDeleteBatch)
		})
	})

	return r
}

// requireAuth resolves the bearer session token and stashes the user in the
// request context. Validation slides the session expiry.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.sessions.Validate(r.Context(), bearerToken(r))
		if err != nil {
			if !errors.Is(err, auth.ErrNoSession) {
				log.Printf("session validation: %v", err)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.directory.IsAdmin(currentUser(r)) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) string {
	if u, ok := r.Context().Value(userKey).(string); ok {
		return u
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{"success": false, "message": message})
}
