package models

import "time"

// Batch statuses persisted in provision.db.
const (
	BatchNew      = "NEW"
	BatchAssigned = "ASSIGNED"
)

// ProdCustomerData holds the customer-id inventory for one (cluster, device type)
// scope, loaded from an upstream data source.
type ProdCustomerData struct {
	ID             int64     `json:"id"`
	Cluster        string    `json:"cluster"`
	DeviceType     string    `json:"device_type"`
	DataSourceURL  string    `json:"data_source_url"`
	TotalCustomers int       `json:"total_customers"`
	TotalDevices   int       `json:"total_devices"`
	CustomerIDs    []string  `json:"customer_ids"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Batch is a capacity-bounded partition of a customer-id set, ownable by at
// most one user at a time.
type Batch struct {
	ID                int64      `json:"id"`
	BatchID           string     `json:"batch_id"`
	Cluster           string     `json:"cluster"`
	DeviceSelection   string     `json:"device_selection"`
	DeviceCap         int        `json:"device_cap"`
	CustomersPerBatch int        `json:"customers_per_batch"`
	TotalBatches      int        `json:"total_batches"`
	CustomerIDs       []string   `json:"customer_ids"`
	CustomersInBatch  int        `json:"customers_in_batch"`
	Status            string     `json:"status"`
	AssignedTo        *string    `json:"assigned_to,omitempty"`
	AssignedAt        *time.Time `json:"assigned_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CreatedBy         string     `json:"created_by"`
}

// BatchPlan summarizes a completed batch generation run.
type BatchPlan struct {
	BatchIDs          []string `json:"batch_ids"`
	TotalBatches      int      `json:"total_batches"`
	CustomersPerBatch int      `json:"customers_per_batch"`
	AvgDevices        float64  `json:"avg_devices"`
}

// SkippedBatch records why a bulk assignment skipped one batch.
type SkippedBatch struct {
	BatchID string `json:"batch_id"`
	Reason  string `json:"reason"`
}
