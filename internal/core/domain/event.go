package domain

import "encoding/json"

// Event types pushed through the notification bus. Delivery is fire-and-forget
// at-most-once; subscribers joining after a publish never see it.
const (
	EventJobUpdate   = "job:update"
	EventNodeCommand = "node:command"
	EventSystem      = "system:event"
	EventSystemStats = "system:stats"
)

// Event is the envelope relayed to subscribers.
type Event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// NodeCommand is pushed on a node's channel. "new_job" is the best-effort
// offer; the node must still claim the job.
type NodeCommand struct {
	Command string `json:"command"`
	JobID   string `json:"job_id,omitempty"`
}

const NodeCommandNewJob = "new_job"
