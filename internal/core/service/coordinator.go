package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/meshcompute/dispatch/internal/core/domain"
	"github.com/meshcompute/dispatch/internal/core/port"
)

// CoordinatorService is background reconciliation, not request-serving: a
// fixed-interval sweep over the registry plus aggregate statistics. The sweep
// is an independent safety net behind the store-level TTL: it catches
// availability-set entries whose heartbeat record expired without a matching
// cleanup, and entries that are stale past a stricter threshold.
type CoordinatorService struct {
	registry  port.RegistryRepository
	queue     port.QueueRepository
	bus       port.NotificationBus
	health    port.HealthChecker
	monitor   port.MonitoringService // optional utilization enrichment
	archive   port.ArchiveRepository // optional relational mirror, trimmed here
	interval  time.Duration
	staleness time.Duration
	retention time.Duration
	log       *zap.Logger
}

func NewCoordinatorService(
	registry port.RegistryRepository,
	queue port.QueueRepository,
	bus port.NotificationBus,
	health port.HealthChecker,
	interval, staleness, retention time.Duration,
	log *zap.Logger,
) *CoordinatorService {
	return &CoordinatorService{
		registry:  registry,
		queue:     queue,
		bus:       bus,
		health:    health,
		interval:  interval,
		staleness: staleness,
		retention: retention,
		log:       log,
	}
}

// WithMonitoring attaches the Prometheus utilization source.
func (s *CoordinatorService) WithMonitoring(monitor port.MonitoringService) *CoordinatorService {
	s.monitor = monitor
	return s
}

// WithArchive attaches the relational archive so the sweep can trim rows
// past the retention window, mirroring the state-store side trim.
func (s *CoordinatorService) WithArchive(archive port.ArchiveRepository) *CoordinatorService {
	s.archive = archive
	return s
}

// Start runs the sweep loop until the context is cancelled.
func (s *CoordinatorService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Coordinator started",
		zap.Duration("interval", s.interval),
		zap.Duration("staleness", s.staleness))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Stopping coordinator loop")
			return
		case <-ticker.C:
			evicted := s.Sweep(ctx)
			s.purgeArchive(ctx)
			stats, err := s.Stats(ctx)
			if err != nil {
				s.log.Warn("Failed to compute stats", zap.Error(err))
				continue
			}
			s.log.Info("Coordinator sweep complete",
				zap.Int("evicted", evicted),
				zap.Int64("pending_jobs", stats.PendingJobs),
				zap.Int64("active_nodes", stats.ActiveNodes))
			if err := s.bus.PublishEvent(ctx, domain.EventSystemStats, stats); err != nil {
				s.log.Debug("Stats event publish failed", zap.Error(err))
			}
		}
	}
}

// Sweep walks the raw availability set and evicts members whose heartbeat
// record is gone or stale. Returns the eviction count. Staleness here is the
// expected outcome of a silent node, not an error.
func (s *CoordinatorService) Sweep(ctx context.Context) int {
	members, err := s.registry.Members(ctx)
	if err != nil {
		s.log.Warn("Sweep skipped, registry unreachable", zap.Error(err))
		return 0
	}

	now := domain.NowMillis()
	evicted := 0
	for _, id := range members {
		node, err := s.registry.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Record expired at the store level but the set entry survived.
			s.evict(ctx, id, "record expired")
			evicted++
		case err != nil:
			s.log.Warn("Sweep could not fetch node record", zap.String("node_id", id), zap.Error(err))
		case now-node.LastHeartbeat > s.staleness.Milliseconds():
			s.evict(ctx, id, "heartbeat stale")
			evicted++
		}
	}
	return evicted
}

// purgeArchive trims archived rows older than the retention cutoff. The
// state-store side enforces the same window through its score range trim.
func (s *CoordinatorService) purgeArchive(ctx context.Context) {
	if s.archive == nil {
		return
	}
	cutoff := domain.NowMillis() - s.retention.Milliseconds()
	removed, err := s.archive.PurgeBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("Archive purge failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.log.Info("Archive purged", zap.Int64("removed", removed), zap.Int64("cutoff", cutoff))
	}
}

func (s *CoordinatorService) evict(ctx context.Context, nodeID, reason string) {
	if err := s.registry.Evict(ctx, nodeID); err != nil {
		s.log.Warn("Eviction failed", zap.String("node_id", nodeID), zap.Error(err))
		return
	}
	s.log.Warn("Node evicted",
		zap.String("node_id", nodeID),
		zap.String("reason", reason))
	if err := s.bus.PublishEvent(ctx, domain.EventSystem, map[string]any{
		"kind":    "node_evicted",
		"node_id": nodeID,
		"reason":  reason,
	}); err != nil {
		s.log.Debug("Eviction event publish failed", zap.Error(err))
	}
}

// Stats recomputes the aggregate counters, optionally enriched with cluster
// utilization from the monitoring backend.
func (s *CoordinatorService) Stats(ctx context.Context) (domain.QueueStats, error) {
	stats, err := s.queue.Stats(ctx, domain.NowMillis(), s.retention)
	if err != nil {
		return stats, err
	}

	if s.monitor != nil {
		cpu, mem, err := s.monitor.ClusterUtilization(ctx)
		if err != nil {
			s.log.Debug("Utilization query failed", zap.Error(err))
		} else {
			stats.ClusterCPU = cpu
			stats.ClusterMemory = mem
		}
	}
	return stats, nil
}

// Healthy reports whether the shared store answers a liveness probe.
func (s *CoordinatorService) Healthy(ctx context.Context) bool {
	if s.health == nil {
		return true
	}
	return s.health.Ping(ctx) == nil
}
