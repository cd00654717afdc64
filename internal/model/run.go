package model

import "time"

// RunStatus represents the state of one partition attempt in the ingest log.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunEntry is one row of the ingest log.
type RunEntry struct {
	ID          string       `json:"id"`
	RunID       string       `json:"run_id"`
	Partition   PartitionKey `json:"partition"`
	Status      RunStatus    `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Rows        int64        `json:"rows"`
	Error       string       `json:"error,omitempty"`
}

// PartitionCount is the number of destination rows in one partition.
type PartitionCount struct {
	Partition PartitionKey `json:"partition"`
	Rows      int64        `json:"rows"`
}

// PriceSummary is the average sale price for one year and property type.
type PriceSummary struct {
	Partition    PartitionKey `json:"partition"`
	PropertyType string       `json:"property_type"`
	AveragePrice float64      `json:"average_price"`
	Sales        int64        `json:"sales"`
}
