// Package redis provides the shared state store client, the single source of
// truth for queue and registry state across dispatcher replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	redigo "github.com/redis/go-redis/v9"

	config "github.com/meshcompute/dispatch/config/utils"
	"github.com/meshcompute/dispatch/internal/core/domain"
)

type Store struct {
	Client redigo.UniversalClient
}

// New creates a new shared state store connection
func New(ctx context.Context, config *config.Redis) (*Store, error) {
	client := redigo.NewUniversalClient(&redigo.UniversalOptions{
		Addrs:           []string{config.Addr},
		Password:        config.Password,
		DB:              0,
		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 1 * time.Second,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return &Store{Client: client}, nil
}

// Ping probes store liveness; the coordinator's health check reports healthy
// iff this succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.Client.Close()
}
