package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"tms-dashboard/internal/models"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	customer_ids TEXT,
	timestamp TIMESTAMP NOT NULL,
	ip_address TEXT,
	status TEXT,
	error_message TEXT,
	duration_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_user_timestamp ON audit_log(user_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_action_type ON audit_log(action_type);
CREATE INDEX IF NOT EXISTS idx_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_customer_search ON audit_log(customer_ids);
`

// AuditStore is the append-only action log, kept in its own database file and
// deliberately decoupled from job state.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens the audit database and ensures its schema.
func NewAuditStore(db *sql.DB) (*AuditStore, error) {
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// RecordParams collects the fields of one audit entry.
type RecordParams struct {
	UserID       string
	ActionType   string
	CustomerIDs  []string
	IPAddress    string
	Status       string
	ErrorMessage string
	DurationMS   *int64
}

// Record appends one entry and returns its row id. Pure append; there is no
// update or delete path in normal operation.
func (s *AuditStore) Record(ctx context.Context, p RecordParams) (int64, error) {
	var cidsJSON *string
	if len(p.CustomerIDs) > 0 {
		raw, err := json.Marshal(p.CustomerIDs)
		if err != nil {
			return 0, fmt.Errorf("marshal customer ids: %w", err)
		}
		str := string(raw)
		cidsJSON = &str
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(user_id, action_type, customer_ids, timestamp, ip_address, status, error_message, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.UserID, p.ActionType, cidsJSON, time.Now().UTC(), emptyToNil(p.IPAddress),
		p.Status, emptyToNil(p.ErrorMessage), p.DurationMS)
	if err != nil {
		return 0, fmt.Errorf("insert audit record: %w", err)
	}
	return res.LastInsertId()
}

// TrailFilter narrows a Trail query. Zero values mean no filter.
type TrailFilter struct {
	UserID     string
	ActionType string
	CustomerID string // substring match against the serialized id list
	Limit      int
}

// Trail returns audit records newest-first, best-effort filtered.
func (s *AuditStore) Trail(ctx context.Context, f TrailFilter) ([]models.AuditRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query := `SELECT id, user_id, action_type, customer_ids, timestamp, ip_address,
	                 status, error_message, duration_ms
	          FROM audit_log WHERE 1=1`
	args := []any{}

	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.ActionType != "" {
		query += ` AND action_type = ?`
		args = append(args, f.ActionType)
	}
	if f.CustomerID != "" {
		query += ` AND customer_ids LIKE ?`
		args = append(args, "%"+f.CustomerID+"%")
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var cids, ip, errMsg sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&r.ID, &r.UserID, &r.ActionType, &cids, &r.Timestamp,
			&ip, &r.Status, &errMsg, &duration); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if cids.Valid && cids.String != "" {
			// Legacy rows may hold a bare string instead of a JSON array.
			if err := json.Unmarshal([]byte(cids.String), &r.CustomerIDs); err != nil {
				r.CustomerIDs = []string{cids.String}
			}
		}
		r.IPAddress = nullStr(ip)
		r.ErrorMessage = nullStr(errMsg)
		if duration.Valid {
			v := duration.Int64
			r.DurationMS = &v
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ActionTypes lists the distinct action types ever logged.
func (s *AuditStore) ActionTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT action_type FROM audit_log ORDER BY action_type`)
	if err != nil {
		return nil, fmt.Errorf("query action types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan action type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// Stats aggregates the audit log.
func (s *AuditStore) Stats(ctx context.Context) (models.AuditStats, error) {
	var st models.AuditStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT user_id),
		       COUNT(DISTINCT action_type),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0)
		FROM audit_log
	`).Scan(&st.TotalRecords, &st.UniqueUsers, &st.UniqueActions, &st.SuccessfulActions)
	if err != nil {
		return models.AuditStats{}, fmt.Errorf("query audit stats: %w", err)
	}
	st.FailedActions = st.TotalRecords - st.SuccessfulActions
	if st.TotalRecords > 0 {
		st.SuccessRatePct = math.Round(float64(st.SuccessfulActions)/float64(st.TotalRecords)*10000) / 100
	}
	return st, nil
}
