package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

type jobQueue struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// NewJobQueue creates the Redis adapter holding pending, active and completed
// job state.
func NewJobQueue(client redis.UniversalClient, log *zap.Logger) port.QueueRepository {
	return &jobQueue{
		client: client,
		log:    log,
	}
}

// Enqueue stores the job record and adds it to the pending set, scored by
// arrival time so claims come out FIFO.
func (q *jobQueue) Enqueue(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, keyJobStatus(job.ID), data, 0)
	pipe.ZAdd(ctx, keyJobsPending, redis.Z{Score: float64(job.CreatedAt), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// PopLowest atomically removes and returns the oldest pending job id. ZPOPMIN
// is a single store operation, so two racing claimers can never receive the
// same job. Returns "" when the queue is empty.
func (q *jobQueue) PopLowest(ctx context.Context) (string, error) {
	popped, err := q.client.ZPopMin(ctx, keyJobsPending, 1).Result()
	if err != nil {
		return "", err
	}
	if len(popped) == 0 {
		return "", nil
	}
	return popped[0].Member.(string), nil
}

// PeekLowest returns the oldest pending job id without removing it. Used for
// best-effort offers only.
func (q *jobQueue) PeekLowest(ctx context.Context) (string, error) {
	ids, err := q.client.ZRange(ctx, keyJobsPending, 0, 0).Result()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

func (q *jobQueue) Save(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.Set(ctx, keyJobStatus(job.ID), data, 0).Err()
}

func (q *jobQueue) Get(ctx context.Context, id string) (*domain.Job, error) {
	val, err := q.client.Get(ctx, keyJobStatus(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *jobQueue) ListPending(ctx context.Context, limit int64) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := q.client.ZRange(ctx, keyJobsPending, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			continue // record may have been claimed between ZRANGE and GET
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *jobQueue) MarkActive(ctx context.Context, nodeID, jobID string) error {
	return q.client.SAdd(ctx, keyJobsActive(nodeID), jobID).Err()
}

func (q *jobQueue) ClearActive(ctx context.Context, nodeID, jobID string) error {
	return q.client.SRem(ctx, keyJobsActive(nodeID), jobID).Err()
}

// AppendPayment pushes a pending payment onto the node's ledger. The external
// settlement layer consumes and clears the list.
func (q *jobQueue) AppendPayment(ctx context.Context, nodeID string, payment domain.PendingPayment) error {
	data, err := json.Marshal(payment)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, keyPaymentsPending(nodeID), data).Err()
}

// ArchiveCompleted moves the job into the time-bounded completed archive and
// trims entries older than the retention window.
func (q *jobQueue) ArchiveCompleted(ctx context.Context, jobID string, completedAt int64, retention time.Duration) error {
	cutoff := completedAt - retention.Milliseconds()

	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, keyJobsCompleted, redis.Z{Score: float64(completedAt), Member: jobID})
	pipe.ZRemRangeByScore(ctx, keyJobsCompleted, "-inf", strconv.FormatInt(cutoff, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// Stats recomputes the aggregate counters from the live sets.
func (q *jobQueue) Stats(ctx context.Context, now int64, retention time.Duration) (domain.QueueStats, error) {
	stats := domain.QueueStats{Timestamp: now}

	pending, err := q.client.ZCard(ctx, keyJobsPending).Result()
	if err != nil {
		return stats, err
	}
	stats.PendingJobs = pending

	windowStart := strconv.FormatInt(now-retention.Milliseconds(), 10)
	completed, err := q.client.ZCount(ctx, keyJobsCompleted, windowStart, "+inf").Result()
	if err != nil {
		return stats, err
	}
	stats.CompletedJobs = completed

	// Count like the registry listing does: set members whose heartbeat
	// record expired do not count until the sweep removes them.
	members, err := q.client.SMembers(ctx, keyNodesAvailable).Result()
	if err != nil {
		return stats, err
	}
	for _, id := range members {
		exists, err := q.client.Exists(ctx, keyNodeStatus(id)).Result()
		if err == nil && exists > 0 {
			stats.ActiveNodes++
		}
	}

	// Average pending age from the arrival scores.
	if pending > 0 {
		entries, err := q.client.ZRangeWithScores(ctx, keyJobsPending, 0, -1).Result()
		if err != nil {
			return stats, err
		}
		var total float64
		for _, z := range entries {
			total += float64(now) - z.Score
		}
		if len(entries) > 0 {
			stats.AvgPendingAge = total / float64(len(entries))
		}
	}

	return stats, nil
}
