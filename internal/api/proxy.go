package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"tms-dashboard/internal/models"
	"tms-dashboard/internal/store"
	"tms-dashboard/internal/telemetry"
	"tms-dashboard/internal/upstream"
	"tms-dashboard/internal/ws"
)

type proxyRequest struct {
	URL         string         `json:"url"`
	Token       string         `json:"token"`
	IsPost      bool           `json:"isPost"`
	PostData    map[string]any `json:"postData"`
	ContentType string         `json:"contentType"`
}

// handleProxyFetch is the action-trigger orchestration: create an IN_PROGRESS
// job (when the post body names an action and customer ids), call the
// external API, classify the outcome, audit the attempt, and update the job
// to its terminal status. The job id, once known, is echoed on every response
// path so failures remain traceable.
func (s *Server) handleProxyFetch(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)

	var req proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), userID)
		if err != nil {
			log.Printf("rate limit check for %s: %v", userID, err)
		} else if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	actionType, customerIDs := extractAction(req.PostData)
	tracked := actionType != "" && len(customerIDs) > 0

	// Create the job before the outbound call so even an in-flight action has
	// a visible job id. Creation failure is logged and the call proceeds.
	var jobID string
	if tracked {
		if code, ok := models.ActionCode(actionType); ok {
			job, err := s.jobs.CreateJob(r.Context(), store.CreateJobParams{
				UserID:          userID,
				ActionCode:      code,
				ActionName:      actionType,
				CustomerIDs:     customerIDs,
				ClusterURL:      req.URL,
				RequestPayload:  req.PostData,
				ResponseSummary: "In progress...",
			})
			if err != nil {
				log.Printf("create job for %s action %s: %v", userID, actionType, err)
			} else {
				jobID = job.ID
				s.broadcastJob(job.ID, userID, actionType, models.StatusInProgress)
			}
		} else {
			log.Printf("unrecognized action name %q, proceeding without job tracking", actionType)
		}
	}

	telemetry.ActionsTriggered.Inc()
	started := time.Now()
	result := s.caller.Do(r.Context(), upstream.Request{
		URL:         req.URL,
		Token:       req.Token,
		Post:        req.IsPost,
		Body:        req.PostData,
		ContentType: req.ContentType,
	})
	telemetry.UpstreamDuration.Observe(time.Since(started).Seconds())

	switch result.Outcome {
	case upstream.OutcomeSuccess:
		status := models.StatusSuccess
		auditStatus := models.AuditSuccess
		if !result.APISuccess {
			status = models.StatusFailed
			auditStatus = models.AuditFailure
		}
		if tracked {
			s.recordAudit(r, userID, actionType, customerIDs, auditStatus, result.ErrorText)
			s.finishJob(r, jobID, userID, actionType, status, &result.HTTPStatus, result.ErrorText, summarize(result.Body))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "success",
			"data":       result.Body,
			"httpStatus": result.HTTPStatus,
			"job_id":     emptyToNil(jobID),
		})

	case upstream.OutcomeBadJSON:
		if jobID != "" {
			internal := http.StatusInternalServerError
			s.finishJob(r, jobID, userID, actionType, models.StatusFailed, &internal, result.ErrorText, "")
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":     "error",
			"message":    result.ErrorText,
			"httpStatus": result.HTTPStatus,
			"job_id":     emptyToNil(jobID),
		})

	case upstream.OutcomeAPIError:
		if tracked {
			s.recordAudit(r, userID, actionType, customerIDs, models.AuditFailure, result.ErrorText)
			s.finishJob(r, jobID, userID, actionType, models.StatusFailed, &result.HTTPStatus, result.ErrorText, "")
		}
		writeJSON(w, result.HTTPStatus, map[string]any{
			"status":     "error",
			"message":    result.ErrorText,
			"httpStatus": result.HTTPStatus,
			"job_id":     emptyToNil(jobID),
		})

	case upstream.OutcomeTimeout:
		if tracked {
			s.recordAudit(r, userID, actionType, customerIDs, models.AuditFailure, result.ErrorText)
			s.finishJob(r, jobID, userID, actionType, models.StatusFailed, nil, result.ErrorText, "")
		}
		writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"status":     "error",
			"message":    "Request timeout",
			"httpStatus": http.StatusRequestTimeout,
			"job_id":     emptyToNil(jobID),
		})

	default: // OutcomeNetworkError
		if tracked {
			s.recordAudit(r, userID, actionType, customerIDs, models.AuditFailure, result.ErrorText)
			s.finishJob(r, jobID, userID, actionType, models.StatusFailed, nil, result.ErrorText, "")
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":     "error",
			"message":    result.ErrorText,
			"httpStatus": http.StatusInternalServerError,
			"job_id":     emptyToNil(jobID),
		})
	}
}

// recordAudit appends an audit entry; failures are logged and never abort the
// triggering action.
func (s *Server) recordAudit(r *http.Request, userID, actionType string, cids []string, status, errText string) {
	if _, err := s.audit.Record(r.Context(), store.RecordParams{
		UserID:       userID,
		ActionType:   actionType,
		CustomerIDs:  cids,
		IPAddress:    clientIP(r),
		Status:       status,
		ErrorMessage: errText,
	}); err != nil {
		log.Printf("audit %s for %s: %v", actionType, userID, err)
	}
}

// finishJob moves a tracked job to its terminal status and notifies stream
// subscribers. Best-effort: update failures are logged only.
func (s *Server) finishJob(r *http.Request, jobID, userID, actionType, status string, httpStatus *int, errText, summary string) {
	if jobID == "" {
		return
	}
	p := store.UpdateJobParams{Status: status, HTTPStatus: httpStatus}
	if errText != "" {
		p.ErrorMessage = &errText
	}
	if summary != "" {
		p.ResponseSummary = &summary
	}
	if err := s.jobs.UpdateJob(r.Context(), jobID, p); err != nil {
		log.Printf("update job %s: %v", jobID, err)
		return
	}
	if status == models.StatusFailed {
		telemetry.ActionFailures.Inc()
	}
	s.broadcastJob(jobID, userID, actionType, status)
}

func (s *Server) broadcastJob(jobID, userID, actionName, status string) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(ws.JobEvent{
		JobID:      jobID,
		UserID:     userID,
		ActionName: actionName,
		Status:     status,
		Timestamp:  time.Now().UTC(),
	})
}

// extractAction pulls the action name and customer-id list out of the inbound
// post body. Only these two fields matter here; the rest is passed through.
func extractAction(postData map[string]any) (string, []string) {
	if postData == nil {
		return "", nil
	}
	action, _ := postData["action"].(string)

	var cids []string
	switch raw := postData["cids"].(type) {
	case []any:
		for _, v := range raw {
			if cid, ok := v.(string); ok {
				cids = append(cids, cid)
			}
		}
	case []string:
		cids = raw
	}
	return action, cids
}

func summarize(body any) string {
	if body == nil {
		return ""
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return string(raw)
}

func emptyToNil(v string) any {
	if v == "" {
		return nil
	}
	return v
}
