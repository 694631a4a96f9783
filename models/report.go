package models

import "time"

// ItemStatus is the per-item outcome of a sync run.
type ItemStatus string

const (
	StatusCreated   ItemStatus = "created"
	StatusUpdated   ItemStatus = "updated"
	StatusUnchanged ItemStatus = "unchanged"
	StatusFailed    ItemStatus = "failed"
)

// SyncOptions controls a single sync run.
type SyncOptions struct {
	Limit  int  `json:"limit,omitempty"` // 0 means the whole catalog
	DryRun bool `json:"dry_run"`
}

// MatchedItem is a local item paired with the storefront product that has its SKU.
type MatchedItem struct {
	Item          CatalogItem `json:"item"`
	RemoteID      int64       `json:"remote_id"`
	PreviousName  string      `json:"previous_name"`
	PreviousPrice string      `json:"previous_price"`
}

// DiffResult is the classification of the local catalog against the storefront.
type DiffResult struct {
	NewItems       []CatalogItem `json:"new_items"`
	UpdatedItems   []MatchedItem `json:"updated_items"`
	UnchangedItems []MatchedItem `json:"unchanged_items"`
	// Skipped holds items without a SKU. They are never sent to the storefront.
	Skipped []CatalogItem `json:"skipped"`
}

// ItemDetail is one row of the sync audit trail.
type ItemDetail struct {
	SKU           string     `json:"sku"`
	Name          string     `json:"name"`
	Status        ItemStatus `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	RemoteID      int64      `json:"remote_id,omitempty"`
	Price         string     `json:"price,omitempty"`
	PreviousName  string     `json:"previous_name,omitempty"`
	PreviousPrice string     `json:"previous_price,omitempty"`
	Simulated     bool       `json:"simulated,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// SyncReport summarizes a sync run. The counters always equal the number of Details rows
// with the matching status; use Record to keep them in step.
type SyncReport struct {
	RunID           string       `json:"run_id"`
	DryRun          bool         `json:"dry_run"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	TotalConsidered int          `json:"total_considered"`
	Created         int          `json:"created"`
	Updated         int          `json:"updated"`
	Unchanged       int          `json:"unchanged"`
	Failed          int          `json:"failed"`
	SkippedNoSKU    int          `json:"skipped_no_sku"`
	Details         []ItemDetail `json:"details"`
}

// Record appends a detail row and bumps the counter for its status.
func (r *SyncReport) Record(d ItemDetail) {
	switch d.Status {
	case StatusCreated:
		r.Created++
	case StatusUpdated:
		r.Updated++
	case StatusUnchanged:
		r.Unchanged++
	case StatusFailed:
		r.Failed++
	}
	r.Details = append(r.Details, d)
}
