// Package port provides behavior interfaces that connect services, storage
// adapters & handlers.
package port

import (
	"context"
	"time"

	"github.com/meshcompute/dispatch/internal/core/domain"
)

// QueueRepository defines how durable job state is kept in the shared store.
// PopLowest is the single correctness-critical operation: it must remove and
// return the oldest pending job id as one atomic store operation, because
// multiple dispatcher replicas share the same store.
type QueueRepository interface {
	Enqueue(ctx context.Context, job *domain.Job) error
	PopLowest(ctx context.Context) (string, error)
	PeekLowest(ctx context.Context) (string, error)
	Save(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	ListPending(ctx context.Context, limit int64) ([]*domain.Job, error)
	MarkActive(ctx context.Context, nodeID, jobID string) error
	ClearActive(ctx context.Context, nodeID, jobID string) error
	AppendPayment(ctx context.Context, nodeID string, payment domain.PendingPayment) error
	ArchiveCompleted(ctx context.Context, jobID string, completedAt int64, retention time.Duration) error
	Stats(ctx context.Context, now int64, retention time.Duration) (domain.QueueStats, error)
}

// RegistryRepository defines how cluster members are tracked. Put refreshes
// the bounded liveness window; an entry that expires at the store level
// silently vanishes from Get and Available.
type RegistryRepository interface {
	Put(ctx context.Context, node *domain.Node, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.Node, error)
	Available(ctx context.Context) ([]string, error)
	// Members lists the raw availability set, including ids whose heartbeat
	// record already expired. The coordinator sweeps this to clean up entries
	// the store-level TTL orphaned.
	Members(ctx context.Context) ([]string, error)
	Evict(ctx context.Context, id string) error
}

// Subscription is a live feed of bus events for one connection.
type Subscription interface {
	Events() <-chan domain.Event
	Close() error
}

// NotificationBus fans state transitions out to job-scoped, node-scoped and
// global subscribers. At-most-once, no replay.
type NotificationBus interface {
	PublishJobUpdate(ctx context.Context, jobID string, patch map[string]any) error
	PublishNodeCommand(ctx context.Context, nodeID string, cmd domain.NodeCommand) error
	PublishEvent(ctx context.Context, eventType string, payload any) error
	SubscribeJob(ctx context.Context, jobID string) (Subscription, error)
	SubscribeNode(ctx context.Context, nodeID string) (Subscription, error)
	SubscribeEvents(ctx context.Context) (Subscription, error)
}

// ContentStore persists immutable content-addressed records.
type ContentStore interface {
	Put(ctx context.Context, record any) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Verify(ctx context.Context, id string, record any) bool
}

// ArchiveRepository mirrors completed jobs and payment ledger entries into the
// relational archive for offline reporting.
type ArchiveRepository interface {
	InsertCompleted(ctx context.Context, job *domain.Job) error
	InsertPayment(ctx context.Context, nodeID string, payment domain.PendingPayment) error
	PurgeBefore(ctx context.Context, cutoff int64) (int64, error)
}

// SettlementRelay hands payment.pending records to the external settlement
// layer over a durable transport.
type SettlementRelay interface {
	PublishPaymentPending(ctx context.Context, nodeID string, payment domain.PendingPayment) error
}

// MonitoringService fetches live cluster metrics (Prometheus).
type MonitoringService interface {
	ClusterUtilization(ctx context.Context) (cpu, mem float64, err error)
}

// OfferSource lets the registry hand out a best-effort job offer during a
// heartbeat without owning queue logic.
type OfferSource interface {
	NextOffer(ctx context.Context, nodeID string) (string, error)
}

// HealthChecker probes shared-store liveness.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
