package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/adapter/storage/memory"
	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

type pingStub struct {
	err error
}

func (p pingStub) Ping(context.Context) error { return p.err }

type coordinatorFixture struct {
	svc      *CoordinatorService
	registry port.RegistryRepository
	queue    port.QueueRepository
	bus      port.NotificationBus
	clock    *fakeClock
}

func newCoordinatorFixture(staleness time.Duration, health port.HealthChecker) *coordinatorFixture {
	clock := newFakeClock()
	registry := memory.NewNodeRegistry(clock.Now)
	queue := memory.NewJobQueue(registry)
	bus := memory.NewNotificationBus()
	svc := NewCoordinatorService(registry, queue, bus, health,
		time.Minute, staleness, time.Hour, zap.NewNop())
	return &coordinatorFixture{svc: svc, registry: registry, queue: queue, bus: bus, clock: clock}
}

func TestSweepEvictsExpiredRecords(t *testing.T) {
	f := newCoordinatorFixture(6*time.Minute, nil)
	ctx := context.Background()

	now := domain.NowMillis()
	require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: "node-live", LastHeartbeat: now}, time.Hour))
	require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: "node-gone", LastHeartbeat: now}, 10*time.Second))

	// The short record expires; its set membership lingers until the sweep.
	f.clock.Advance(time.Minute)
	members, err := f.registry.Members(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	evicted := f.svc.Sweep(ctx)
	assert.Equal(t, 1, evicted)

	members, err = f.registry.Members(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-live"}, members)
}

func TestSweepEvictsStaleHeartbeats(t *testing.T) {
	f := newCoordinatorFixture(6*time.Minute, nil)
	ctx := context.Background()

	// Valid record, but the node has been silent past the staleness threshold.
	// The sweep is the safety net for exactly this gap.
	stale := domain.NowMillis() - (7 * time.Minute).Milliseconds()
	require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: "node-stale", LastHeartbeat: stale}, time.Hour))
	require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: "node-fresh", LastHeartbeat: domain.NowMillis()}, time.Hour))

	sub, err := f.bus.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	evicted := f.svc.Sweep(ctx)
	assert.Equal(t, 1, evicted)

	available, err := f.registry.Available(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-fresh"}, available)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, domain.EventSystem, ev.Type)
		var payload struct {
			Kind   string `json:"kind"`
			NodeID string `json:"node_id"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, "node_evicted", payload.Kind)
		assert.Equal(t, "node-stale", payload.NodeID)
	case <-time.After(time.Second):
		t.Fatal("expected an eviction event")
	}
}

func TestSweepLeavesHealthyClusterAlone(t *testing.T) {
	f := newCoordinatorFixture(6*time.Minute, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: id, LastHeartbeat: domain.NowMillis()}, time.Hour))
	}

	assert.Zero(t, f.svc.Sweep(ctx))

	available, err := f.registry.Available(ctx)
	require.NoError(t, err)
	assert.Len(t, available, 3)
}

func TestStatsCountsQueueAndCluster(t *testing.T) {
	f := newCoordinatorFixture(6*time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: "node-1", LastHeartbeat: domain.NowMillis()}, time.Hour))
	for i, id := range []string{"j1", "j2"} {
		require.NoError(t, f.queue.Enqueue(ctx, &domain.Job{
			ID:        id,
			Status:    domain.JobStatusPending,
			CreatedAt: domain.NowMillis() - int64(i*1000),
		}))
	}
	require.NoError(t, f.queue.ArchiveCompleted(ctx, "done-1", domain.NowMillis(), time.Hour))

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PendingJobs)
	assert.Equal(t, int64(1), stats.ActiveNodes)
	assert.Equal(t, int64(1), stats.CompletedJobs)
	assert.NotZero(t, stats.Timestamp)
}

func TestStatsExcludesExpiredNodes(t *testing.T) {
	f := newCoordinatorFixture(6*time.Minute, nil)
	ctx := context.Background()

	now := domain.NowMillis()
	require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: "node-live", LastHeartbeat: now}, time.Hour))
	require.NoError(t, f.registry.Put(ctx, &domain.Node{ID: "node-gone", LastHeartbeat: now}, 10*time.Second))

	// The expired member lingers in the set until the sweep, but the stats
	// count must agree with the availability listing, not the raw set.
	f.clock.Advance(time.Minute)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ActiveNodes)
}

func TestHealthyFollowsStorePing(t *testing.T) {
	ctx := context.Background()

	healthy := newCoordinatorFixture(time.Minute, pingStub{})
	assert.True(t, healthy.svc.Healthy(ctx))

	down := newCoordinatorFixture(time.Minute, pingStub{err: errors.New("connection refused")})
	assert.False(t, down.svc.Healthy(ctx))

	unchecked := newCoordinatorFixture(time.Minute, nil)
	assert.True(t, unchecked.svc.Healthy(ctx))
}

type archiveStub struct {
	cutoffs []int64
	removed int64
	err     error
}

func (a *archiveStub) InsertCompleted(context.Context, *domain.Job) error { return nil }

func (a *archiveStub) InsertPayment(context.Context, string, domain.PendingPayment) error {
	return nil
}

func (a *archiveStub) PurgeBefore(_ context.Context, cutoff int64) (int64, error) {
	a.cutoffs = append(a.cutoffs, cutoff)
	return a.removed, a.err
}

func TestPurgeTrimsArchivePastRetention(t *testing.T) {
	f := newCoordinatorFixture(time.Minute, nil)
	ctx := context.Background()

	// No archive attached: the tick is a no-op.
	f.svc.purgeArchive(ctx)

	archive := &archiveStub{removed: 3}
	f.svc.WithArchive(archive)

	before := domain.NowMillis()
	f.svc.purgeArchive(ctx)
	after := domain.NowMillis()

	require.Len(t, archive.cutoffs, 1)
	retention := time.Hour.Milliseconds()
	assert.GreaterOrEqual(t, archive.cutoffs[0], before-retention)
	assert.LessOrEqual(t, archive.cutoffs[0], after-retention)
}

func TestPurgeSurvivesArchiveErrors(t *testing.T) {
	f := newCoordinatorFixture(time.Minute, nil)
	f.svc.WithArchive(&archiveStub{err: errors.New("connection refused")})

	f.svc.purgeArchive(context.Background())
}
