// Package redis implements the shared-store adapters for the node registry,
// the job queue and the notification bus. All durable coordination state lives
// here; dispatcher replicas hold nothing authoritative in process memory.
package redis

import "fmt"

// Key schema. Documented convention, shared by every dispatcher replica.
const (
	keyJobsPending    = "jobs:pending"   // sorted set: member=job id, score=arrival ms
	keyJobsCompleted  = "jobs:completed" // sorted set: member=job id, score=completion ms
	keyNodesAvailable = "nodes:available"
	chanEvents        = "events"
)

func keyJobStatus(id string) string       { return fmt.Sprintf("job:%s:status", id) }
func keyJobsActive(nodeID string) string  { return fmt.Sprintf("jobs:active:%s", nodeID) }
func keyNodeStatus(id string) string      { return fmt.Sprintf("nodes:%s:status", id) }
func keyPaymentsPending(id string) string { return fmt.Sprintf("payments:pending:%s", id) }
func chanJob(id string) string            { return fmt.Sprintf("job:%s", id) }
func chanNode(id string) string           { return fmt.Sprintf("node:%s", id) }
