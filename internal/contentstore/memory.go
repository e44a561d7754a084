package contentstore

import (
	"context"
	"sync"
)

// MemoryBackend holds blocks in process memory. This is the degraded
// single-process mode used when no object store is configured, and the test
// double. It is not durable and must not be treated as a production path.
type MemoryBackend struct {
	mu     sync.RWMutex
	blocks map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blocks: make(map[string][]byte)}
}

func (b *MemoryBackend) Put(_ context.Context, id string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.blocks[id]; ok {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blocks[id] = cp
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, id string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blocks[id]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (b *MemoryBackend) Exists(_ context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocks[id]
	return ok, nil
}
