package memory

import (
	"context"
	"sync"
	"time"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

type registryEntry struct {
	node      domain.Node
	expiresAt time.Time
}

// nodeRegistry mirrors the shared-store shape: the availability set and the
// TTL-bounded heartbeat record are tracked separately, so a node whose record
// expires stays in the set until the coordinator sweep evicts it.
type nodeRegistry struct {
	mu        sync.RWMutex
	records   map[string]registryEntry
	available map[string]struct{}
	now       func() time.Time
}

// NewNodeRegistry creates the in-process registry. The clock is injectable so
// liveness expiry can be tested without sleeping.
func NewNodeRegistry(clock func() time.Time) port.RegistryRepository {
	if clock == nil {
		clock = time.Now
	}
	return &nodeRegistry{
		records:   make(map[string]registryEntry),
		available: make(map[string]struct{}),
		now:       clock,
	}
}

func (r *nodeRegistry) Put(_ context.Context, node *domain.Node, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[node.ID] = registryEntry{
		node:      *node,
		expiresAt: r.now().Add(ttl),
	}
	r.available[node.ID] = struct{}{}
	return nil
}

func (r *nodeRegistry) Get(_ context.Context, id string) (*domain.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.records[id]
	if !ok || !r.now().Before(entry.expiresAt) {
		return nil, domain.ErrNotFound
	}
	node := entry.node
	return &node, nil
}

func (r *nodeRegistry) Available(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	ids := make([]string, 0, len(r.available))
	for id := range r.available {
		if entry, ok := r.records[id]; ok && now.Before(entry.expiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *nodeRegistry) Members(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.available))
	for id := range r.available {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *nodeRegistry) Evict(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.available, id)
	delete(r.records, id)
	return nil
}
