package models

import "time"

// Audit outcome values stored in audit.db.
const (
	AuditSuccess = "success"
	AuditFailure = "failure"
)

// AuditRecord is one append-only log entry for a user action attempt.
// It is intentionally not linked to a Job by foreign key.
type AuditRecord struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	ActionType   string    `json:"action_type"`
	CustomerIDs  []string  `json:"customer_ids,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IPAddress    *string   `json:"ip_address,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	DurationMS   *int64    `json:"duration_ms,omitempty"`
}

// AuditStats aggregates the audit log for the stats endpoint.
type AuditStats struct {
	TotalRecords      int64   `json:"total_records"`
	UniqueUsers       int64   `json:"unique_users"`
	UniqueActions     int64   `json:"unique_actions"`
	SuccessfulActions int64   `json:"successful_actions"`
	FailedActions     int64   `json:"failed_actions"`
	SuccessRatePct    float64 `json:"success_rate_percent"`
}
