package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

type nodeRegistry struct {
	client redis.UniversalClient
	log    *zap.Logger
}

// NewNodeRegistry creates the Redis adapter tracking cluster members.
func NewNodeRegistry(client redis.UniversalClient, log *zap.Logger) port.RegistryRepository {
	return &nodeRegistry{
		client: client,
		log:    log,
	}
}

// Put saves the node's heartbeat record under a bounded liveness window and
// keeps the node in the available set. Called on registration and on every
// heartbeat; each call extends the TTL.
func (r *nodeRegistry) Put(ctx context.Context, node *domain.Node, ttl time.Duration) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, keyNodeStatus(node.ID), data, ttl)
	pipe.SAdd(ctx, keyNodesAvailable, node.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *nodeRegistry) Get(ctx context.Context, id string) (*domain.Node, error) {
	val, err := r.client.Get(ctx, keyNodeStatus(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var node domain.Node
	if err := json.Unmarshal([]byte(val), &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// Available returns node ids whose liveness window has not elapsed. Members
// whose heartbeat record already expired at the store level are skipped; the
// coordinator sweep removes them from the set.
func (r *nodeRegistry) Available(ctx context.Context) ([]string, error) {
	members, err := r.client.SMembers(ctx, keyNodesAvailable).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(members))
	for _, id := range members {
		exists, err := r.client.Exists(ctx, keyNodeStatus(id)).Result()
		if err != nil {
			continue // skip on transient error rather than fail the listing
		}
		if exists > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Members returns the raw availability set without TTL filtering, so the
// sweep can spot entries whose heartbeat record expired underneath them.
func (r *nodeRegistry) Members(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, keyNodesAvailable).Result()
}

// Evict removes the node from the available set and deletes its heartbeat
// record. Called by the coordinator, never by nodes themselves.
func (r *nodeRegistry) Evict(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.SRem(ctx, keyNodesAvailable, id)
	pipe.Del(ctx, keyNodeStatus(id))
	_, err := pipe.Exec(ctx)
	return err
}
