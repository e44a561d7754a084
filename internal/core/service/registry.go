package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/contentstore"
	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

// RegistryService tracks worker nodes. Node ids are content-derived from the
// identity record, so registration is idempotent for the same identity.
type RegistryService struct {
	registry port.RegistryRepository
	blocks   port.ContentStore
	bus      port.NotificationBus
	offers   port.OfferSource // optional; heartbeat offers when set
	ttl      time.Duration    // store-level liveness window
	interval time.Duration    // heartbeat cadence hint returned to nodes
	log      *zap.Logger
}

func NewRegistryService(
	registry port.RegistryRepository,
	blocks port.ContentStore,
	bus port.NotificationBus,
	ttl, interval time.Duration,
	log *zap.Logger,
) *RegistryService {
	return &RegistryService{
		registry: registry,
		blocks:   blocks,
		bus:      bus,
		ttl:      ttl,
		interval: interval,
		log:      log,
	}
}

// WithOfferSource lets heartbeats hand out best-effort job offers.
func (s *RegistryService) WithOfferSource(offers port.OfferSource) *RegistryService {
	s.offers = offers
	return s
}

// RegisterRequest is a node's self-declared identity and capacity.
type RegisterRequest struct {
	WalletAddress string
	PublicKey     string
	Capabilities  []string
	Capacity      int
}

// Register derives the node id from the identity record, stores the record as
// a content block and opens the liveness window. Returns the node and its
// human-readable address locator.
func (s *RegistryService) Register(ctx context.Context, req RegisterRequest) (*domain.Node, string, error) {
	if req.WalletAddress == "" || req.PublicKey == "" {
		return nil, "", fmt.Errorf("%w: wallet_address and public_key are required", domain.ErrInvalidInput)
	}
	if req.Capacity <= 0 {
		req.Capacity = 1
	}

	now := domain.NowMillis()
	identity := domain.NodeIdentity{
		WalletAddress: req.WalletAddress,
		PublicKey:     req.PublicKey,
		Capabilities:  req.Capabilities,
		RegisteredAt:  now,
	}

	nodeID, err := s.blocks.Put(ctx, identity)
	if err != nil {
		// The identifier is a pure function of the record; losing the block
		// write only costs auditability, not identity.
		s.log.Warn("Failed to store node identity block", zap.Error(err))
		nodeID, err = contentstore.Address(identity)
		if err != nil {
			return nil, "", err
		}
	}

	node := &domain.Node{
		ID:            nodeID,
		WalletAddress: req.WalletAddress,
		Capacity:      req.Capacity,
		Reputation:    0,
		Status:        domain.NodeStatusOnline,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}

	if err := s.registry.Put(ctx, node, s.ttl); err != nil {
		s.log.Warn("Shared store unreachable, node registration not persisted",
			zap.String("node_id", nodeID),
			zap.Error(err))
		return node, nodeAddress(nodeID), nil
	}

	if err := s.bus.PublishEvent(ctx, domain.EventSystem, map[string]any{
		"kind":    "node_registered",
		"node_id": nodeID,
	}); err != nil {
		s.log.Debug("Node registration event publish failed", zap.Error(err))
	}

	s.log.Info("Node registered",
		zap.String("node_id", nodeID),
		zap.String("wallet", req.WalletAddress),
		zap.Int("capacity", req.Capacity))
	return node, nodeAddress(nodeID), nil
}

// Heartbeat refreshes the node's liveness window. A node reporting spare
// capacity receives the head-of-queue offer in the same call.
func (s *RegistryService) Heartbeat(ctx context.Context, nodeID string, capacity, activeJobs int) (*domain.HeartbeatAck, error) {
	node, err := s.registry.Get(ctx, nodeID)
	if err != nil {
		// Unknown or expired: the node has to register again.
		return nil, err
	}

	now := domain.NowMillis()
	node.LastHeartbeat = now
	if capacity > 0 {
		node.Capacity = capacity
	}
	node.ActiveJobs = activeJobs
	node.Status = domain.NodeStatusOnline

	if err := s.registry.Put(ctx, node, s.ttl); err != nil {
		s.log.Warn("Shared store unreachable, heartbeat not persisted",
			zap.String("node_id", nodeID),
			zap.Error(err))
	}

	ack := &domain.HeartbeatAck{
		Timestamp:          now,
		NextHeartbeatDueAt: now + s.interval.Milliseconds(),
	}

	if s.offers != nil && node.SpareCapacity() {
		jobID, err := s.offers.NextOffer(ctx, nodeID)
		if err == nil && jobID != "" {
			ack.NewJob = jobID
		}
	}

	s.log.Debug("Heartbeat",
		zap.String("node_id", nodeID),
		zap.Int("active_jobs", activeJobs),
		zap.String("offer", ack.NewJob))
	return ack, nil
}

// Status returns the node's heartbeat record or ErrNotFound.
func (s *RegistryService) Status(ctx context.Context, nodeID string) (*domain.Node, error) {
	return s.registry.Get(ctx, nodeID)
}

// Available lists nodes whose liveness window has not elapsed. A node absent
// here is never offered new work.
func (s *RegistryService) Available(ctx context.Context) ([]string, error) {
	ids, err := s.registry.Available(ctx)
	if err != nil {
		s.log.Warn("Shared store unreachable, reporting no available nodes", zap.Error(err))
		return nil, nil
	}
	return ids, nil
}

func nodeAddress(nodeID string) string {
	return "mesh://nodes/" + nodeID
}
