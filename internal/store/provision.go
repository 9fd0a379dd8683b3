package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"tms-dashboard/internal/models"
)

// ErrAlreadyAssigned is returned when a batch assignment loses the
// conditional update to another holder.
var ErrAlreadyAssigned = errors.New("batch already assigned")

const provisionSchema = `
CREATE TABLE IF NOT EXISTS prod_customer_data (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cluster TEXT NOT NULL,
	device_type TEXT NOT NULL,
	data_source_url TEXT,
	total_customers INTEGER NOT NULL DEFAULT 0,
	total_devices INTEGER NOT NULL DEFAULT 0,
	customer_ids TEXT,
	created_at TIMESTAMP NOT NULL,
	created_by TEXT,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(cluster, device_type)
);

CREATE TABLE IF NOT EXISTS prod_batch_ids (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT UNIQUE NOT NULL,
	cluster TEXT NOT NULL,
	device_selection TEXT NOT NULL,
	device_cap INTEGER NOT NULL,
	customers_per_batch INTEGER NOT NULL,
	total_batches INTEGER NOT NULL,
	customer_ids TEXT,
	customers_in_batch INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'NEW',
	assigned_to TEXT,
	assigned_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	created_by TEXT,
	updated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_batches_cluster_device ON prod_batch_ids(cluster, device_selection);
CREATE INDEX IF NOT EXISTS idx_batches_assigned_to ON prod_batch_ids(assigned_to);
`

// ProvisionStore persists the prod customer inventory and its generated
// batches in provision.db.
type ProvisionStore struct {
	db *sql.DB
}

// NewProvisionStore opens the provisioning database and ensures its schema.
func NewProvisionStore(db *sql.DB) (*ProvisionStore, error) {
	if _, err := db.Exec(provisionSchema); err != nil {
		return nil, fmt.Errorf("init provision schema: %w", err)
	}
	return &ProvisionStore{db: db}, nil
}

// UpsertCustomerData saves or replaces the inventory for (cluster, deviceType).
func (s *ProvisionStore) UpsertCustomerData(ctx context.Context, d models.ProdCustomerData) error {
	raw, err := json.Marshal(d.CustomerIDs)
	if err != nil {
		return fmt.Errorf("marshal customer ids: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prod_customer_data
		(cluster, device_type, data_source_url, total_customers, total_devices,
		 customer_ids, created_at, created_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cluster, device_type) DO UPDATE SET
			data_source_url = excluded.data_source_url,
			total_customers = excluded.total_customers,
			total_devices = excluded.total_devices,
			customer_ids = excluded.customer_ids,
			updated_at = excluded.updated_at
	`, d.Cluster, d.DeviceType, d.DataSourceURL, len(d.CustomerIDs), d.TotalDevices,
		string(raw), now, d.CreatedBy, now)
	if err != nil {
		return fmt.Errorf("upsert prod customer data: %w", err)
	}
	return nil
}

// GetCustomerData fetches the inventory for one (cluster, deviceType) scope.
func (s *ProvisionStore) GetCustomerData(ctx context.Context, cluster, deviceType string) (models.ProdCustomerData, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cluster, device_type, data_source_url, total_customers,
		       total_devices, customer_ids, created_at, created_by, updated_at
		FROM prod_customer_data WHERE cluster = ? AND device_type = ?
	`, cluster, deviceType)
	return scanCustomerData(row)
}

// ListCustomerData returns every stored inventory, most recently updated first.
func (s *ProvisionStore) ListCustomerData(ctx context.Context) ([]models.ProdCustomerData, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cluster, device_type, data_source_url, total_customers,
		       total_devices, customer_ids, created_at, created_by, updated_at
		FROM prod_customer_data ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query prod customer data: %w", err)
	}
	defer rows.Close()

	var out []models.ProdCustomerData
	for rows.Next() {
		d, err := scanCustomerData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteCustomerData removes the inventory for one (cluster, deviceType).
func (s *ProvisionStore) DeleteCustomerData(ctx context.Context, cluster, deviceType string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM prod_customer_data WHERE cluster = ? AND device_type = ?
	`, cluster, deviceType)
	if err != nil {
		return fmt.Errorf("delete prod customer data: %w", err)
	}
	return nil
}

// GenerateBatchesParams collects the inputs for a batch generation run.
type GenerateBatchesParams struct {
	Cluster         string
	DeviceSelection string
	DeviceCap       int
	CustomerIDs     []string
	TotalCustomers  int
	TotalDevices    int
	CreatedBy       string
}

// GenerateBatches partitions the customer-id list so each batch stays under
// the device cap, then persists all batches in one transaction.
// customersPerBatch = max(1, floor(cap / (devices/customers))).
func (s *ProvisionStore) GenerateBatches(ctx context.Context, p GenerateBatchesParams) (models.BatchPlan, error) {
	if len(p.CustomerIDs) == 0 {
		return models.BatchPlan{}, errors.New("no customer ids provided")
	}
	if p.TotalCustomers == 0 || p.TotalDevices == 0 {
		return models.BatchPlan{}, errors.New("invalid customer or device count")
	}

	avg := float64(p.TotalDevices) / float64(p.TotalCustomers)
	perBatch := int(math.Floor(float64(p.DeviceCap) / avg))
	if perBatch < 1 {
		perBatch = 1
	}
	totalBatches := int(math.Ceil(float64(p.TotalCustomers) / float64(perBatch)))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.BatchPlan{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	suffix := fmt.Sprintf("_%s_%s", strings.ToUpper(p.Cluster),
		strings.ToUpper(strings.ReplaceAll(p.DeviceSelection, " ", "")))

	var batchIDs []string
	for i := 0; i < len(p.CustomerIDs); i += perBatch {
		end := i + perBatch
		if end > len(p.CustomerIDs) {
			end = len(p.CustomerIDs)
		}
		member := p.CustomerIDs[i:end]
		raw, err := json.Marshal(member)
		if err != nil {
			return models.BatchPlan{}, fmt.Errorf("marshal batch members: %w", err)
		}

		batchID := uuid.New().String() + suffix
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO prod_batch_ids
			(batch_id, cluster, device_selection, device_cap, customers_per_batch,
			 total_batches, customer_ids, customers_in_batch, status, created_at, created_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, batchID, p.Cluster, p.DeviceSelection, p.DeviceCap, perBatch,
			totalBatches, string(raw), len(member), models.BatchNew, now, p.CreatedBy); err != nil {
			return models.BatchPlan{}, fmt.Errorf("insert batch %s: %w", batchID, err)
		}
		batchIDs = append(batchIDs, batchID)
	}

	if err := tx.Commit(); err != nil {
		return models.BatchPlan{}, fmt.Errorf("commit: %w", err)
	}

	return models.BatchPlan{
		BatchIDs:          batchIDs,
		TotalBatches:      len(batchIDs),
		CustomersPerBatch: perBatch,
		AvgDevices:        math.Round(avg*100) / 100,
	}, nil
}

// Batches lists every batch for a (cluster, deviceSelection) scope, newest first.
func (s *ProvisionStore) Batches(ctx context.Context, cluster, deviceSelection string) ([]models.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, batch_id, cluster, device_selection, device_cap, customers_per_batch,
		       total_batches, customer_ids, customers_in_batch, status, assigned_to,
		       assigned_at, created_at, created_by
		FROM prod_batch_ids
		WHERE cluster = ? AND device_selection = ?
		ORDER BY created_at DESC
	`, cluster, deviceSelection)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BatchByID fetches a single batch with its member customer ids.
func (s *ProvisionStore) BatchByID(ctx context.Context, batchID string) (models.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, cluster, device_selection, device_cap, customers_per_batch,
		       total_batches, customer_ids, customers_in_batch, status, assigned_to,
		       assigned_at, created_at, created_by
		FROM prod_batch_ids WHERE batch_id = ?
	`, batchID)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Batch{}, ErrNotFound
	}
	return b, err
}

// AssignBatch gives the batch to user if and only if it is currently
// unassigned. The check and the write are one conditional UPDATE, so two
// racing assignments can never both win.
func (s *ProvisionStore) AssignBatch(ctx context.Context, batchID, user string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE prod_batch_ids
		SET assigned_to = ?, status = ?, assigned_at = ?, updated_at = ?
		WHERE batch_id = ? AND assigned_to IS NULL
	`, user, models.BatchAssigned, now, now, batchID)
	if err != nil {
		return fmt.Errorf("assign batch %s: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign batch %s: %w", batchID, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.BatchByID(ctx, batchID); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrAlreadyAssigned
}

// AssignBatches assigns each batch in turn, skipping any the conditional
// update loses, and reports who holds the skipped ones.
func (s *ProvisionStore) AssignBatches(ctx context.Context, batchIDs []string, user string) (assigned []string, skipped []models.SkippedBatch, err error) {
	if len(batchIDs) == 0 {
		return nil, nil, errors.New("no batch ids provided")
	}
	for _, id := range batchIDs {
		switch assignErr := s.AssignBatch(ctx, id, user); {
		case assignErr == nil:
			assigned = append(assigned, id)
		case errors.Is(assignErr, ErrNotFound):
			skipped = append(skipped, models.SkippedBatch{BatchID: id, Reason: "Batch not found"})
		case errors.Is(assignErr, ErrAlreadyAssigned):
			holder := "unknown"
			if b, lookupErr := s.BatchByID(ctx, id); lookupErr == nil && b.AssignedTo != nil {
				holder = *b.AssignedTo
			}
			skipped = append(skipped, models.SkippedBatch{BatchID: id, Reason: "Already assigned to " + holder})
		default:
			return assigned, skipped, assignErr
		}
	}
	return assigned, skipped, nil
}

// UnassignBatch clears the holder and reverts the batch to NEW. When user is
// non-empty the clear only happens if that user currently holds the batch.
func (s *ProvisionStore) UnassignBatch(ctx context.Context, batchID, user string) error {
	now := time.Now().UTC()
	var res sql.Result
	var err error
	if user != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE prod_batch_ids
			SET assigned_to = NULL, status = ?, assigned_at = NULL, updated_at = ?
			WHERE batch_id = ? AND assigned_to = ?
		`, models.BatchNew, now, batchID, user)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE prod_batch_ids
			SET assigned_to = NULL, status = ?, assigned_at = NULL, updated_at = ?
			WHERE batch_id = ?
		`, models.BatchNew, now, batchID)
	}
	if err != nil {
		return fmt.Errorf("unassign batch %s: %w", batchID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBatch removes one batch.
func (s *ProvisionStore) DeleteBatch(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM prod_batch_ids WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", batchID, err)
	}
	return nil
}

// DeleteBatches removes every batch for a (cluster, deviceSelection) scope
// and returns how many were deleted.
func (s *ProvisionStore) DeleteBatches(ctx context.Context, cluster, deviceSelection string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM prod_batch_ids WHERE cluster = ? AND device_selection = ?
	`, cluster, deviceSelection)
	if err != nil {
		return 0, fmt.Errorf("delete batches: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomerData(row rowScanner) (models.ProdCustomerData, error) {
	var d models.ProdCustomerData
	var sourceURL, cids, createdBy sql.NullString
	err := row.Scan(&d.ID, &d.Cluster, &d.DeviceType, &sourceURL, &d.TotalCustomers,
		&d.TotalDevices, &cids, &d.CreatedAt, &createdBy, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProdCustomerData{}, ErrNotFound
	}
	if err != nil {
		return models.ProdCustomerData{}, fmt.Errorf("scan prod customer data: %w", err)
	}
	d.DataSourceURL = sourceURL.String
	d.CreatedBy = createdBy.String
	if cids.Valid && cids.String != "" {
		if err := json.Unmarshal([]byte(cids.String), &d.CustomerIDs); err != nil {
			return models.ProdCustomerData{}, fmt.Errorf("unmarshal customer ids: %w", err)
		}
	}
	return d, nil
}

func scanBatch(row rowScanner) (models.Batch, error) {
	var b models.Batch
	var cids, assignedTo, createdBy sql.NullString
	var assignedAt sql.NullTime
	err := row.Scan(&b.ID, &b.BatchID, &b.Cluster, &b.DeviceSelection, &b.DeviceCap,
		&b.CustomersPerBatch, &b.TotalBatches, &cids, &b.CustomersInBatch, &b.Status,
		&assignedTo, &assignedAt, &b.CreatedAt, &createdBy)
	if err != nil {
		return models.Batch{}, err
	}
	if cids.Valid && cids.String != "" {
		if err := json.Unmarshal([]byte(cids.String), &b.CustomerIDs); err != nil {
			return models.Batch{}, fmt.Errorf("unmarshal batch members: %w", err)
		}
	}
	b.AssignedTo = nullStr(assignedTo)
	if assignedAt.Valid {
		t := assignedAt.Time
		b.AssignedAt = &t
	}
	b.CreatedBy = createdBy.String
	return b, nil
}
