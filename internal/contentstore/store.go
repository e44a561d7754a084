package contentstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
)

// Backend is the raw byte store blocks are written to. Put must be idempotent
// for an existing key; nothing is ever deleted through this interface.
type Backend interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Store is the append-only content-addressed block store.
type Store struct {
	backend Backend
	log     *zap.Logger
}

func New(backend Backend, log *zap.Logger) *Store {
	return &Store{
		backend: backend,
		log:     log,
	}
}

// Put computes the record's identifier and stores its canonical bytes under
// it. Storing the same logical record twice is a no-op.
func (s *Store) Put(ctx context.Context, record any) (string, error) {
	canonical, err := Canonicalize(record)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	id, err := Address(record)
	if err != nil {
		return "", err
	}

	exists, err := s.backend.Exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("check block %s: %w", id, err)
	}
	if exists {
		s.log.Debug("Block already stored", zap.String("id", id))
		return id, nil
	}

	if err := s.backend.Put(ctx, id, canonical); err != nil {
		return "", fmt.Errorf("store block %s: %w", id, err)
	}
	s.log.Debug("Stored block", zap.String("id", id), zap.Int("bytes", len(canonical)))
	return id, nil
}

// Get returns the canonical bytes stored under an identifier.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

// Verify recomputes the record's identifier and compares. It never fails
// upward: malformed input or a lookup error simply yields false.
func (s *Store) Verify(_ context.Context, id string, record any) bool {
	computed, err := Address(record)
	if err != nil {
		return false
	}
	return computed == id
}
