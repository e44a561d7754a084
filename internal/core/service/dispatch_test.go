package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/adapter/storage/memory"
	"github.com/meshcompute/dispatch/internal/contentstore"
	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

// paymentLedger is the test hook the memory queue exposes for the pending
// payment list.
type paymentLedger interface {
	Payments(nodeID string) []domain.PendingPayment
}

type dispatchFixture struct {
	svc      *DispatchService
	queue    port.QueueRepository
	registry port.RegistryRepository
	bus      port.NotificationBus
	blocks   *contentstore.Store
}

func newDispatchFixture() *dispatchFixture {
	registry := memory.NewNodeRegistry(nil)
	queue := memory.NewJobQueue(registry)
	bus := memory.NewNotificationBus()
	blocks := contentstore.New(contentstore.NewMemoryBackend(), zap.NewNop())
	svc := NewDispatchService(queue, registry, blocks, bus, 7*24*time.Hour, zap.NewNop())
	return &dispatchFixture{svc: svc, queue: queue, registry: registry, bus: bus, blocks: blocks}
}

func (f *dispatchFixture) submit(t *testing.T, submitter, inputRef, fee string) *domain.Job {
	t.Helper()
	job, err := f.svc.Submit(context.Background(), submitter, inputRef, nil, fee)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestSubmitValidation(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, "", "input", nil, "1.0")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.Submit(ctx, "0xabc", "", nil, "1.0")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	for _, fee := range []string{"", "abc", "0", "-1.5", "NaN", "nan", "+Inf", "-Inf", "Infinity"} {
		_, err = f.svc.Submit(ctx, "0xabc", "input", nil, fee)
		assert.ErrorIs(t, err, domain.ErrInvalidFee, "fee %q", fee)
	}
}

func TestSubmitEnqueuesPending(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	job := f.submit(t, "0xabc", "input-1", "2.5")
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.NotEmpty(t, job.ID)
	assert.NotZero(t, job.CreatedAt)

	pending, err := f.svc.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
}

func TestSubmitOffersToAvailableNode(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	require.NoError(t, f.registry.Put(ctx, &domain.Node{
		ID:       "node-1",
		Capacity: 1,
		Status:   domain.NodeStatusOnline,
	}, time.Minute))

	sub, err := f.bus.SubscribeNode(ctx, "node-1")
	require.NoError(t, err)
	defer sub.Close()

	job := f.submit(t, "0xabc", "input-1", "1.0")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, domain.EventNodeCommand, ev.Type)
		var cmd domain.NodeCommand
		require.NoError(t, json.Unmarshal(ev.Payload, &cmd))
		assert.Equal(t, domain.NodeCommandNewJob, cmd.Command)
		assert.Equal(t, job.ID, cmd.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected a new_job command on the node channel")
	}
}

func TestClaimEmptyQueue(t *testing.T) {
	f := newDispatchFixture()

	job, err := f.svc.Claim(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimRequiresNodeID(t *testing.T) {
	f := newDispatchFixture()

	_, err := f.svc.Claim(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClaimFollowsArrivalOrder(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	first := f.submit(t, "0xabc", "input-1", "1.0")
	second := f.submit(t, "0xabc", "input-2", "1.0")
	third := f.submit(t, "0xabc", "input-3", "1.0")

	for i, want := range []string{first.ID, second.ID, third.ID} {
		job, err := f.svc.Claim(ctx, "node-1")
		require.NoError(t, err)
		require.NotNil(t, job, "claim %d", i)
		assert.Equal(t, want, job.ID, "claim %d", i)
		assert.Equal(t, domain.JobStatusActive, job.Status)
		assert.Equal(t, "node-1", job.NodeID)
		assert.NotZero(t, job.StartedAt)
	}
}

func TestConcurrentClaimHandsOutEachJobOnce(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	const jobCount = 20
	const claimers = 8

	submitted := make(map[string]bool, jobCount)
	for i := 0; i < jobCount; i++ {
		submitted[f.submit(t, "0xabc", "input", "1.0").ID] = true
	}

	var mu sync.Mutex
	claimed := make(map[string]string) // job id -> claiming node

	var wg sync.WaitGroup
	for w := 0; w < claimers; w++ {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			for {
				job, err := f.svc.Claim(ctx, node)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[job.ID]; dup {
					t.Errorf("job %s claimed by both %s and %s", job.ID, prev, node)
				}
				claimed[job.ID] = node
				mu.Unlock()
			}
		}(string(rune('a' + w)))
	}
	wg.Wait()

	assert.Len(t, claimed, jobCount)
	for id := range claimed {
		assert.True(t, submitted[id], "claimed unknown job %s", id)
	}
}

func TestCompleteFinalizesAndPaysNode(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	f.submit(t, "0xabc", "input-1", "3.25")
	job, err := f.svc.Claim(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	done, err := f.svc.Complete(ctx, job.ID, "node-1", "output-1")
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, "output-1", done.OutputRef)
	assert.NotZero(t, done.CompletedAt)

	payments := f.queue.(paymentLedger).Payments("node-1")
	require.Len(t, payments, 1)
	assert.Equal(t, job.ID, payments[0].JobID)
	assert.Equal(t, "3.25", payments[0].Amount)
}

func TestCompleteRejectsNonHolder(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	f.submit(t, "0xabc", "input-1", "1.0")
	job, err := f.svc.Claim(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	_, err = f.svc.Complete(ctx, job.ID, "node-2", "output-1")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	// The impostor's report must not have advanced the job.
	current, err := f.svc.StatusOf(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusActive, current.Status)

	// No payment for node-2 either.
	assert.Empty(t, f.queue.(paymentLedger).Payments("node-2"))
}

func TestCompleteIsNotRepeatable(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	f.submit(t, "0xabc", "input-1", "1.0")
	job, err := f.svc.Claim(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	_, err = f.svc.Complete(ctx, job.ID, "node-1", "output-1")
	require.NoError(t, err)

	// Terminal jobs cannot be completed again, even by the holder.
	_, err = f.svc.Complete(ctx, job.ID, "node-1", "output-2")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	payments := f.queue.(paymentLedger).Payments("node-1")
	assert.Len(t, payments, 1)
}

func TestCompleteUnknownJob(t *testing.T) {
	f := newDispatchFixture()

	_, err := f.svc.Complete(context.Background(), "missing", "node-1", "output")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailRecordsReason(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	f.submit(t, "0xabc", "input-1", "1.0")
	job, err := f.svc.Claim(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	failed, err := f.svc.Fail(ctx, job.ID, "node-1", "out of memory")
	require.NoError(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Equal(t, "out of memory", failed.FailureReason)
	assert.True(t, failed.Terminal())

	// Failure does not re-queue and does not pay.
	next, err := f.svc.Claim(ctx, "node-2")
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Empty(t, f.queue.(paymentLedger).Payments("node-1"))
}

func TestFailRejectsNonHolder(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	f.submit(t, "0xabc", "input-1", "1.0")
	job, err := f.svc.Claim(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, job)

	_, err = f.svc.Fail(ctx, job.ID, "node-2", "nope")
	assert.ErrorIs(t, err, domain.ErrNotOwner)
}

func TestNextOfferPeeksWithoutRemoving(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	job := f.submit(t, "0xabc", "input-1", "1.0")

	offered, err := f.svc.NextOffer(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, offered)

	// The offer is a hint, the job must still be claimable.
	pending, err := f.svc.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
}

func TestStatusOfUnknownJob(t *testing.T) {
	f := newDispatchFixture()

	_, err := f.svc.StatusOf(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobUpdateEventsFollowLifecycle(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	job := f.submit(t, "0xabc", "input-1", "1.0")

	sub, err := f.bus.SubscribeJob(ctx, job.ID)
	require.NoError(t, err)
	defer sub.Close()

	claimed, err := f.svc.Claim(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = f.svc.Complete(ctx, job.ID, "node-1", "output-1")
	require.NoError(t, err)

	var statuses []string
	for len(statuses) < 2 {
		select {
		case ev := <-sub.Events():
			require.Equal(t, domain.EventJobUpdate, ev.Type)
			var patch struct {
				Status string `json:"status"`
			}
			require.NoError(t, json.Unmarshal(ev.Payload, &patch))
			statuses = append(statuses, patch.Status)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for job updates, got %v", statuses)
		}
	}
	assert.Equal(t, []string{string(domain.JobStatusActive), string(domain.JobStatusCompleted)}, statuses)
}

func TestVerifyBlockDetectsTampering(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()

	record := domain.JobDescriptor{JobID: "j", Submitter: "0xabc", InputRef: "in", FeeAmount: "1", CreatedAt: 1}
	id, err := f.blocks.Put(ctx, record)
	require.NoError(t, err)

	assert.True(t, f.svc.VerifyBlock(ctx, id, record))
	record.FeeAmount = "999"
	assert.False(t, f.svc.VerifyBlock(ctx, id, record))
}
