package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

type pendingEntry struct {
	id    string
	score int64
	seq   int64 // arrival tiebreak for identical timestamps
}

type jobQueue struct {
	mu        sync.Mutex
	jobs      map[string]domain.Job
	pending   []pendingEntry
	active    map[string]map[string]struct{}
	payments  map[string][]domain.PendingPayment
	completed map[string]int64
	nodes     port.RegistryRepository // for the ActiveNodes stat
	seq       int64
}

// NewJobQueue creates the in-process queue. The registry is consulted only
// for the active-node count in Stats and may be nil.
func NewJobQueue(registry port.RegistryRepository) port.QueueRepository {
	return &jobQueue{
		jobs:      make(map[string]domain.Job),
		active:    make(map[string]map[string]struct{}),
		payments:  make(map[string][]domain.PendingPayment),
		completed: make(map[string]int64),
		nodes:     registry,
	}
}

func (q *jobQueue) Enqueue(_ context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.jobs[job.ID] = *job
	q.pending = append(q.pending, pendingEntry{id: job.ID, score: job.CreatedAt, seq: q.seq})
	sort.Slice(q.pending, func(i, j int) bool {
		if q.pending[i].score != q.pending[j].score {
			return q.pending[i].score < q.pending[j].score
		}
		return q.pending[i].seq < q.pending[j].seq
	})
	return nil
}

// PopLowest removes and returns the oldest pending job id under the queue
// lock, matching the atomicity the shared store gives ZPOPMIN.
func (q *jobQueue) PopLowest(_ context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", nil
	}
	id := q.pending[0].id
	q.pending = q.pending[1:]
	return id, nil
}

func (q *jobQueue) PeekLowest(_ context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", nil
	}
	return q.pending[0].id, nil
}

func (q *jobQueue) Save(_ context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = *job
	return nil
}

func (q *jobQueue) Get(_ context.Context, id string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

func (q *jobQueue) ListPending(_ context.Context, limit int64) ([]*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	jobs := make([]*domain.Job, 0, limit)
	for _, entry := range q.pending {
		if int64(len(jobs)) >= limit {
			break
		}
		if job, ok := q.jobs[entry.id]; ok {
			j := job
			jobs = append(jobs, &j)
		}
	}
	return jobs, nil
}

func (q *jobQueue) MarkActive(_ context.Context, nodeID, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active[nodeID] == nil {
		q.active[nodeID] = make(map[string]struct{})
	}
	q.active[nodeID][jobID] = struct{}{}
	return nil
}

func (q *jobQueue) ClearActive(_ context.Context, nodeID, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active[nodeID], jobID)
	return nil
}

func (q *jobQueue) AppendPayment(_ context.Context, nodeID string, payment domain.PendingPayment) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payments[nodeID] = append(q.payments[nodeID], payment)
	return nil
}

// Payments returns the node's pending ledger; test hook standing in for the
// settlement layer's consumption.
func (q *jobQueue) Payments(nodeID string) []domain.PendingPayment {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.PendingPayment(nil), q.payments[nodeID]...)
}

func (q *jobQueue) ArchiveCompleted(_ context.Context, jobID string, completedAt int64, retention time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed[jobID] = completedAt
	cutoff := completedAt - retention.Milliseconds()
	for id, at := range q.completed {
		if at < cutoff {
			delete(q.completed, id)
		}
	}
	return nil
}

func (q *jobQueue) Stats(ctx context.Context, now int64, retention time.Duration) (domain.QueueStats, error) {
	q.mu.Lock()
	stats := domain.QueueStats{Timestamp: now, PendingJobs: int64(len(q.pending))}
	windowStart := now - retention.Milliseconds()
	for _, at := range q.completed {
		if at >= windowStart {
			stats.CompletedJobs++
		}
	}
	var total float64
	for _, entry := range q.pending {
		total += float64(now - entry.score)
	}
	if len(q.pending) > 0 {
		stats.AvgPendingAge = total / float64(len(q.pending))
	}
	q.mu.Unlock()

	if q.nodes != nil {
		ids, err := q.nodes.Available(ctx)
		if err == nil {
			stats.ActiveNodes = int64(len(ids))
		}
	}
	return stats, nil
}
