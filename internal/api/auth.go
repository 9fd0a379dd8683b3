package api

import (
	"encoding/json"
	"log"
	"net/http"

	"tms-dashboard/internal/models"
	"tms-dashboard/internal/store"
	"tms-dashboard/internal/telemetry"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !s.directory.Authenticate(req.Username, req.Password) {
		// Failed logins go to the audit log too.
		_, _ = s.audit.Record(r.Context(), store.RecordParams{
			UserID:       req.Username,
			ActionType:   "login",
			IPAddress:    clientIP(r),
			Status:       models.AuditFailure,
			ErrorMessage: "invalid credentials",
		})
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.sessions.Create(r.Context(), req.Username)
	if err != nil {
		log.Printf("create session for %s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	if _, err := s.audit.Record(r.Context(), store.RecordParams{
		UserID:     req.Username,
		ActionType: "login",
		IPAddress:  clientIP(r),
		Status:     models.AuditSuccess,
	}); err != nil {
		log.Printf("audit login for %s: %v", req.Username, err)
	}
	telemetry.SessionsActive.Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user_id": req.Username,
		"admin":   s.directory.IsAdmin(req.Username),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context(), bearerToken(r)); err != nil {
		log.Printf("destroy session: %v", err)
	} else {
		telemetry.SessionsActive.Dec()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user,
		"admin":   s.directory.IsAdmin(user),
	})
}

func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": s.directory.Users()})
}
