package service

import (
	"context"
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

// fakeClock drives the registry's liveness window without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type registryFixture struct {
	svc      *RegistryService
	dispatch *DispatchService
	registry port.RegistryRepository
	bus      port.NotificationBus
	clock    *fakeClock
}

func newRegistryFixture(ttl time.Duration) *registryFixture {
	clock := newFakeClock()
	registry := memory.NewNodeRegistry(clock.Now)
	queue := memory.NewJobQueue(registry)
	bus := memory.NewNotificationBus()
	blocks := contentstore.New(contentstore.NewMemoryBackend(), zap.NewNop())

	dispatch := NewDispatchService(queue, registry, blocks, bus, time.Hour, zap.NewNop())
	svc := NewRegistryService(registry, blocks, bus, ttl, 10*time.Second, zap.NewNop()).
		WithOfferSource(dispatch)

	return &registryFixture{svc: svc, dispatch: dispatch, registry: registry, bus: bus, clock: clock}
}

func TestRegisterValidation(t *testing.T) {
	f := newRegistryFixture(time.Minute)
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, RegisterRequest{PublicKey: "pk"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = f.svc.Register(ctx, RegisterRequest{WalletAddress: "0xabc"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRegisterDerivesContentID(t *testing.T) {
	f := newRegistryFixture(time.Minute)
	ctx := context.Background()

	node, address, err := f.svc.Register(ctx, RegisterRequest{
		WalletAddress: "0xabc",
		PublicKey:     "pk-1",
		Capabilities:  []string{"cpu", "gpu"},
		Capacity:      4,
	})
	require.NoError(t, err)

	assert.Regexp(t, "^[0-9a-f]{64}$", node.ID)
	assert.Equal(t, "mesh://nodes/"+node.ID, address)
	assert.Equal(t, 4, node.Capacity)
	assert.Equal(t, domain.NodeStatusOnline, node.Status)

	stored, err := f.svc.Status(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", stored.WalletAddress)

	available, err := f.svc.Available(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{node.ID}, available)
}

func TestRegisterDefaultsCapacity(t *testing.T) {
	f := newRegistryFixture(time.Minute)

	node, _, err := f.svc.Register(context.Background(), RegisterRequest{
		WalletAddress: "0xabc",
		PublicKey:     "pk-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, node.Capacity)
}

func TestHeartbeatUnknownNodeRequiresRegistration(t *testing.T) {
	f := newRegistryFixture(time.Minute)

	_, err := f.svc.Heartbeat(context.Background(), "missing", 1, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHeartbeatExtendsLivenessWindow(t *testing.T) {
	f := newRegistryFixture(30 * time.Second)
	ctx := context.Background()

	node, _, err := f.svc.Register(ctx, RegisterRequest{
		WalletAddress: "0xabc",
		PublicKey:     "pk-1",
		Capacity:      2,
	})
	require.NoError(t, err)

	// Heartbeat just before the window elapses keeps the node alive.
	f.clock.Advance(25 * time.Second)
	ack, err := f.svc.Heartbeat(ctx, node.ID, 2, 0)
	require.NoError(t, err)
	assert.Greater(t, ack.NextHeartbeatDueAt, ack.Timestamp)

	f.clock.Advance(25 * time.Second)
	_, err = f.svc.Status(ctx, node.ID)
	assert.NoError(t, err)

	// Silence past the window expires the record.
	f.clock.Advance(31 * time.Second)
	_, err = f.svc.Status(ctx, node.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Heartbeat(ctx, node.ID, 2, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHeartbeatOffersWorkToSpareCapacity(t *testing.T) {
	f := newRegistryFixture(time.Minute)
	ctx := context.Background()

	node, _, err := f.svc.Register(ctx, RegisterRequest{
		WalletAddress: "0xabc",
		PublicKey:     "pk-1",
		Capacity:      2,
	})
	require.NoError(t, err)

	job, err := f.dispatch.Submit(ctx, "0xsubmitter", "input-1", nil, "1.0")
	require.NoError(t, err)

	ack, err := f.svc.Heartbeat(ctx, node.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, job.ID, ack.NewJob)

	// A saturated node gets no offer.
	ack, err = f.svc.Heartbeat(ctx, node.ID, 2, 2)
	require.NoError(t, err)
	assert.Empty(t, ack.NewJob)
}

func TestHeartbeatOfferIsNotAReservation(t *testing.T) {
	f := newRegistryFixture(time.Minute)
	ctx := context.Background()

	nodeA, _, err := f.svc.Register(ctx, RegisterRequest{WalletAddress: "0xa", PublicKey: "pk-a"})
	require.NoError(t, err)
	nodeB, _, err := f.svc.Register(ctx, RegisterRequest{WalletAddress: "0xb", PublicKey: "pk-b"})
	require.NoError(t, err)

	job, err := f.dispatch.Submit(ctx, "0xsubmitter", "input-1", nil, "1.0")
	require.NoError(t, err)

	ack, err := f.svc.Heartbeat(ctx, nodeA.ID, 1, 0)
	require.NoError(t, err)
	require.Equal(t, job.ID, ack.NewJob)

	// The other node claims first; the offer holder loses the race.
	claimed, err := f.dispatch.Claim(ctx, nodeB.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)

	late, err := f.dispatch.Claim(ctx, nodeA.ID)
	require.NoError(t, err)
	assert.Nil(t, late)
}
