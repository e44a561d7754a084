// Package service holds the dispatch core business logic: job submission and
// claiming, node registration and liveness, and the coordinator's
// reconciliation sweep.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

// DispatchService owns the job queue. The one invariant everything else leans
// on: claim pops the pending set with a single atomic store operation, so a
// job is held by at most one node. Offers are a liveness optimization on top,
// never a reservation.
type DispatchService struct {
	queue    port.QueueRepository
	registry port.RegistryRepository
	blocks   port.ContentStore
	bus      port.NotificationBus
	archive  port.ArchiveRepository // optional write-behind mirror
	relay    port.SettlementRelay   // optional settlement hand-off
	retain   time.Duration
	log      *zap.Logger
}

func NewDispatchService(
	queue port.QueueRepository,
	registry port.RegistryRepository,
	blocks port.ContentStore,
	bus port.NotificationBus,
	retention time.Duration,
	log *zap.Logger,
) *DispatchService {
	return &DispatchService{
		queue:    queue,
		registry: registry,
		blocks:   blocks,
		bus:      bus,
		retain:   retention,
		log:      log,
	}
}

// WithArchive attaches the relational write-behind archive.
func (s *DispatchService) WithArchive(archive port.ArchiveRepository) *DispatchService {
	s.archive = archive
	return s
}

// WithSettlementRelay attaches the durable payment hand-off.
func (s *DispatchService) WithSettlementRelay(relay port.SettlementRelay) *DispatchService {
	s.relay = relay
	return s
}

// degraded reports whether err is a store connectivity failure. Mutating
// operations turn those into logged no-ops instead of surfacing them, so a
// transient outage does not cascade into caller-visible error storms.
func (s *DispatchService) degraded(op string, err error) bool {
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		return false
	}
	s.log.Warn("Shared store unreachable, degrading to no-op",
		zap.String("op", op),
		zap.Error(err))
	return true
}

// Submit validates and enqueues a job, then makes a best-effort offer to one
// available node. FIFO position is fixed by the arrival timestamp.
func (s *DispatchService) Submit(ctx context.Context, submitter, inputRef string, accessControl json.RawMessage, feeAmount string) (*domain.Job, error) {
	if submitter == "" || inputRef == "" {
		return nil, fmt.Errorf("%w: submitter and input_ref are required", domain.ErrInvalidInput)
	}
	// ParseFloat accepts "NaN" and "Inf" spellings; neither is a payable fee.
	fee, err := strconv.ParseFloat(feeAmount, 64)
	if err != nil || fee <= 0 || math.IsNaN(fee) || math.IsInf(fee, 0) {
		return nil, domain.ErrInvalidFee
	}

	job := &domain.Job{
		ID:            uuid.NewString(),
		Submitter:     submitter,
		InputRef:      inputRef,
		AccessControl: accessControl,
		FeeAmount:     feeAmount,
		Status:        domain.JobStatusPending,
		CreatedAt:     domain.NowMillis(),
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		// Accepted but unmatched until connectivity returns.
		s.degraded("submit", err)
		return job, nil
	}

	if _, err := s.blocks.Put(ctx, domain.JobDescriptor{
		JobID:     job.ID,
		Submitter: job.Submitter,
		InputRef:  job.InputRef,
		FeeAmount: job.FeeAmount,
		CreatedAt: job.CreatedAt,
	}); err != nil {
		s.log.Warn("Failed to store job descriptor block", zap.String("job_id", job.ID), zap.Error(err))
	}

	s.publishJobUpdate(ctx, job.ID, map[string]any{"status": job.Status, "created_at": job.CreatedAt})
	s.offer(ctx, job.ID)

	s.log.Info("Job submitted",
		zap.String("job_id", job.ID),
		zap.String("submitter", submitter),
		zap.String("fee", feeAmount))
	return job, nil
}

// offer pushes a "new job" hint to the first available node. The node must
// still claim; claim's atomicity is what prevents double assignment.
// Reputation-ranked selection is a documented future improvement.
func (s *DispatchService) offer(ctx context.Context, jobID string) {
	nodes, err := s.registry.Available(ctx)
	if err != nil {
		s.degraded("offer", err)
		return
	}
	if len(nodes) == 0 {
		s.log.Debug("No available nodes to offer job", zap.String("job_id", jobID))
		return
	}

	target := nodes[0]
	if err := s.bus.PublishNodeCommand(ctx, target, domain.NodeCommand{
		Command: domain.NodeCommandNewJob,
		JobID:   jobID,
	}); err != nil {
		s.log.Warn("Failed to publish job offer", zap.String("node_id", target), zap.Error(err))
		return
	}
	s.log.Debug("Offered job", zap.String("job_id", jobID), zap.String("node_id", target))
}

// NextOffer returns the head-of-queue job id as a heartbeat offer, also
// pushing it on the node's channel. Returns "" when nothing is pending.
func (s *DispatchService) NextOffer(ctx context.Context, nodeID string) (string, error) {
	jobID, err := s.queue.PeekLowest(ctx)
	if err != nil {
		s.degraded("next_offer", err)
		return "", nil
	}
	if jobID == "" {
		return "", nil
	}
	if err := s.bus.PublishNodeCommand(ctx, nodeID, domain.NodeCommand{
		Command: domain.NodeCommandNewJob,
		JobID:   jobID,
	}); err != nil {
		s.log.Warn("Failed to publish heartbeat offer", zap.String("node_id", nodeID), zap.Error(err))
	}
	return jobID, nil
}

// Claim atomically pops the oldest pending job and transfers it to the
// caller. Exactly one of any number of racing claimers receives a given job.
// Returns (nil, nil) when the queue is empty.
func (s *DispatchService) Claim(ctx context.Context, nodeID string) (*domain.Job, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node_id is required", domain.ErrInvalidInput)
	}

	jobID, err := s.queue.PopLowest(ctx)
	if err != nil {
		s.degraded("claim", err)
		return nil, nil
	}
	if jobID == "" {
		return nil, nil
	}

	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		// The pop succeeded but the record is gone; nothing to hand out.
		s.log.Error("Popped job has no record", zap.String("job_id", jobID), zap.Error(err))
		return nil, nil
	}

	now := domain.NowMillis()
	job.Status = domain.JobStatusActive
	job.NodeID = nodeID
	job.StartedAt = now

	if err := s.queue.Save(ctx, job); err != nil {
		s.degraded("claim", err)
		return nil, nil
	}
	if err := s.queue.MarkActive(ctx, nodeID, jobID); err != nil {
		s.degraded("claim", err)
	}

	if _, err := s.blocks.Put(ctx, domain.Assignment{
		JobRef:     jobID,
		NodeRef:    nodeID,
		AssignedAt: now,
		Status:     string(domain.JobStatusActive),
	}); err != nil {
		s.log.Warn("Failed to store assignment block", zap.String("job_id", jobID), zap.Error(err))
	}

	s.publishJobUpdate(ctx, jobID, map[string]any{"status": job.Status, "node_id": nodeID, "started_at": now})

	s.log.Info("Job claimed", zap.String("job_id", jobID), zap.String("node_id", nodeID))
	return job, nil
}

// Complete verifies ownership, finalizes the job, appends the node's pending
// payment and archives the record. Returns (nil, nil) only in degraded mode.
func (s *DispatchService) Complete(ctx context.Context, jobID, nodeID, outputRef string) (*domain.Job, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		s.degraded("complete", err)
		return nil, nil
	}

	if job.NodeID != nodeID || job.Status != domain.JobStatusActive {
		s.log.Warn("Completion rejected, caller does not hold job",
			zap.String("job_id", jobID),
			zap.String("caller", nodeID),
			zap.String("holder", job.NodeID))
		return nil, domain.ErrNotOwner
	}

	now := domain.NowMillis()
	job.Status = domain.JobStatusCompleted
	job.OutputRef = outputRef
	job.CompletedAt = now

	if err := s.queue.Save(ctx, job); err != nil {
		s.degraded("complete", err)
		return nil, nil
	}
	if err := s.queue.ClearActive(ctx, nodeID, jobID); err != nil {
		s.degraded("complete", err)
	}

	payment := domain.PendingPayment{JobID: jobID, Amount: job.FeeAmount}
	if err := s.queue.AppendPayment(ctx, nodeID, payment); err != nil {
		s.degraded("complete", err)
	}
	if err := s.queue.ArchiveCompleted(ctx, jobID, now, s.retain); err != nil {
		s.degraded("complete", err)
	}

	if _, err := s.blocks.Put(ctx, domain.ResultLink{
		JobRef:      jobID,
		NodeRef:     nodeID,
		OutputRef:   outputRef,
		CompletedAt: now,
	}); err != nil {
		s.log.Warn("Failed to store result block", zap.String("job_id", jobID), zap.Error(err))
	}

	if s.archive != nil {
		if err := s.archive.InsertCompleted(ctx, job); err == nil {
			_ = s.archive.InsertPayment(ctx, nodeID, payment)
		}
	}
	if s.relay != nil {
		if err := s.relay.PublishPaymentPending(ctx, nodeID, payment); err != nil {
			s.log.Warn("Settlement relay publish failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	s.publishJobUpdate(ctx, jobID, map[string]any{"status": job.Status, "output_ref": outputRef, "completed_at": now})
	s.publishEvent(ctx, map[string]any{"kind": "job_completed", "job_id": jobID, "node_id": nodeID})

	s.log.Info("Job completed", zap.String("job_id", jobID), zap.String("node_id", nodeID))
	return job, nil
}

// Fail verifies ownership and records the failure. The job stays terminal.
// TODO: re-queue with a bounded retry count once the retry policy is decided.
func (s *DispatchService) Fail(ctx context.Context, jobID, nodeID, reason string) (*domain.Job, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		s.degraded("fail", err)
		return nil, nil
	}

	if job.NodeID != nodeID || job.Status != domain.JobStatusActive {
		s.log.Warn("Failure report rejected, caller does not hold job",
			zap.String("job_id", jobID),
			zap.String("caller", nodeID),
			zap.String("holder", job.NodeID))
		return nil, domain.ErrNotOwner
	}

	now := domain.NowMillis()
	job.Status = domain.JobStatusFailed
	job.FailureReason = reason
	job.CompletedAt = now

	if err := s.queue.Save(ctx, job); err != nil {
		s.degraded("fail", err)
		return nil, nil
	}
	if err := s.queue.ClearActive(ctx, nodeID, jobID); err != nil {
		s.degraded("fail", err)
	}

	s.publishJobUpdate(ctx, jobID, map[string]any{"status": job.Status, "reason": reason})

	s.log.Warn("Job failed", zap.String("job_id", jobID), zap.String("node_id", nodeID), zap.String("reason", reason))
	return job, nil
}

// Pending lists up to limit pending jobs in arrival order. Empty on store
// outage.
func (s *DispatchService) Pending(ctx context.Context, limit int64) ([]*domain.Job, error) {
	jobs, err := s.queue.ListPending(ctx, limit)
	if err != nil {
		s.degraded("pending", err)
		return nil, nil
	}
	return jobs, nil
}

// StatusOf returns the job record or ErrNotFound.
func (s *DispatchService) StatusOf(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.queue.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		s.degraded("status_of", err)
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// VerifyBlock recomputes a stored record's identifier; the integrity check
// for identifiers exchanged across untrusted boundaries.
func (s *DispatchService) VerifyBlock(ctx context.Context, id string, record any) bool {
	return s.blocks.Verify(ctx, id, record)
}

func (s *DispatchService) publishJobUpdate(ctx context.Context, jobID string, patch map[string]any) {
	if err := s.bus.PublishJobUpdate(ctx, jobID, patch); err != nil {
		s.log.Debug("Job update publish failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *DispatchService) publishEvent(ctx context.Context, payload map[string]any) {
	if err := s.bus.PublishEvent(ctx, domain.EventSystem, payload); err != nil {
		s.log.Debug("Event publish failed", zap.Error(err))
	}
}

// ensure the service satisfies the offer port used by the registry.
var _ port.OfferSource = (*DispatchService)(nil)
