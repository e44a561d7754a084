// Package domain holds the dispatch core entities shared by services & adapters.
package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusActive    JobStatus = "ACTIVE"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Job represents a unit of submitted work. Timestamps are milliseconds since
// epoch; StartedAt/CompletedAt stay zero until the matching transition.
type Job struct {
	ID            string          `json:"id"`
	Submitter     string          `json:"submitter"`
	InputRef      string          `json:"input_ref"`
	AccessControl json.RawMessage `json:"access_control,omitempty"` // opaque policy blob, passed through
	FeeAmount     string          `json:"fee_amount"`
	Status        JobStatus       `json:"status"`
	NodeID        string          `json:"node_id,omitempty"`
	OutputRef     string          `json:"output_ref,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	StartedAt     int64           `json:"started_at,omitempty"`
	CompletedAt   int64           `json:"completed_at,omitempty"`
}

// Terminal reports whether the job can no longer transition.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// PendingPayment is the fee owed to a node for a completed job. It is appended
// to the node's ledger on completion and consumed by the settlement layer.
type PendingPayment struct {
	JobID  string `json:"job_id"`
	Amount string `json:"amount"`
}

// QueueStats is the aggregate view the coordinator recomputes each sweep.
type QueueStats struct {
	PendingJobs   int64   `json:"pending_jobs"`
	ActiveNodes   int64   `json:"active_nodes"`
	CompletedJobs int64   `json:"completed_jobs"`
	AvgPendingAge float64 `json:"avg_pending_age_ms"`
	ClusterCPU    float64 `json:"cluster_cpu,omitempty"`
	ClusterMemory float64 `json:"cluster_memory,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// NowMillis is the single clock used for job and heartbeat timestamps.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
