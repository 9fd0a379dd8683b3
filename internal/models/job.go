package models

import (
	"strings"
	"time"
)

// Job statuses persisted in jobs.db.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusSuccess    = "SUCCESS"
	StatusFailed     = "FAILED"
)

// Job represents one tracked invocation of a customer-lifecycle action.
type Job struct {
	ID              string         `json:"job_id"`
	UserID          string         `json:"user_id"`
	BatchID         *string        `json:"batch_id,omitempty"`
	ActionCode      int            `json:"action_code"`
	ActionName      string         `json:"action_name"`
	ClusterURL      *string        `json:"cluster_url,omitempty"`
	Status          string         `json:"status"`
	HTTPStatus      *int           `json:"http_status,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	RequestPayload  map[string]any `json:"request_payload,omitempty"`
	ResponseSummary *string        `json:"response_summary,omitempty"`
	CustomerCount   int            `json:"customer_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// JobSummary is the list-view shape returned by the my-jobs endpoint.
type JobSummary struct {
	ID            string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	ActionCode    int       `json:"action_code"`
	ActionName    string    `json:"action_name"`
	ClusterURL    *string   `json:"cluster_url,omitempty"`
	Status        string    `json:"status"`
	HTTPStatus    *int      `json:"http_status,omitempty"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CustomerCount int       `json:"customer_count"`
	CreatedAt     time.Time `json:"created_at"`
}

var actionCodes = map[string]int{
	"tran-begin":  1,
	"trans-begin": 1,
	"pe-enable":   2,
	"t-enable":    3,
	"pe-finalize": 4,
	"pe-direct":   5,
}

// ActionCode maps an action name to its numeric code, case-insensitively.
// Unrecognized names return (0, false); callers treat job tracking as best-effort.
func ActionCode(name string) (int, bool) {
	code, ok := actionCodes[strings.ToLower(name)]
	return code, ok
}
