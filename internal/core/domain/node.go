package domain

type NodeStatus string

const (
	NodeStatusOnline  NodeStatus = "ONLINE"
	NodeStatusOffline NodeStatus = "OFFLINE"
)

// Node represents a registered worker. The ID is content-derived from the
// node's identity record, which includes the registration timestamp, so each
// registration call mints a distinct registry entry.
type Node struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"wallet_address"`
	Capacity      int        `json:"capacity"`
	ActiveJobs    int        `json:"active_jobs"`
	Reputation    int        `json:"reputation"`
	Status        NodeStatus `json:"status"`
	LastHeartbeat int64      `json:"last_heartbeat"`
	RegisteredAt  int64      `json:"registered_at"`
}

// SpareCapacity reports whether the node can take another job.
func (n *Node) SpareCapacity() bool {
	return n.ActiveJobs < n.Capacity
}

// HeartbeatAck is returned to a node after a heartbeat. NewJob carries a
// best-effort offer: the node still has to claim it.
type HeartbeatAck struct {
	Timestamp          int64  `json:"timestamp"`
	NewJob             string `json:"new_job,omitempty"`
	NextHeartbeatDueAt int64  `json:"next_heartbeat_due_at"`
}
