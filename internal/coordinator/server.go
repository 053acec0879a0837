package coordinator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shardkv/internal/obs"
	"shardkv/internal/registry"
	"shardkv/internal/ring"
)

// Server bundles everything cmd/coordinator needs to run the Routing
// Tier plus its background gauge-emission loop.
type Server struct {
	Handler  *Handler
	Tables   *TableRegistry
	Ring     *ring.Ring
	Registry *registry.Registry
	Migrator *Migrator

	metrics obs.Metrics
	client  *shardClient
	logger  *zap.Logger
}

// NewServer wires up the full Routing Tier + Migration Controller.
func NewServer(vnodes int, replicaTTL time.Duration, metrics obs.Metrics, logger *zap.Logger) *Server {
	tables := NewTableRegistry()
	r := ring.New(vnodes)
	reg := registry.New(replicaTTL)
	mig := NewMigrator(reg, r, logger)
	handler := NewHandler(tables, r, reg, mig, logger)

	return &Server{
		Handler:  handler,
		Tables:   tables,
		Ring:     r,
		Registry: reg,
		Migrator: mig,
		metrics:  metrics,
		client:   newShardClient(5 * time.Second),
		logger:   logger,
	}
}

// RunGaugeLoop periodically recomputes cluster-wide gauges (shards in
// ring, active replicas, leader presence, stored keys per shard,
// keyspace distribution) until ctx is canceled. Grounded on the
// original coordinator's _emit_cluster_gauges_forever, which polls
// every 10 seconds rather than reacting to individual events.
func (s *Server) RunGaugeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitGauges(ctx)
		}
	}
}

func (s *Server) emitGauges(ctx context.Context) {
	shards := s.Ring.Nodes()
	s.metrics.SetRingShards(len(shards))

	for shard, pct := range s.Ring.Distribution() {
		s.metrics.SetShardKeyspacePercent(shard, pct)
	}

	for _, shard := range shards {
		active := s.Registry.ActiveReplicas(shard)
		s.metrics.SetActiveReplicas(shard, len(active))
		s.metrics.SetLeaderPresent(shard, s.Registry.LeaderURL(shard) != "")

		leader := s.Registry.LeaderURL(shard)
		if leader == "" {
			continue
		}
		stats, err := s.client.stats(ctx, leader)
		if err != nil {
			continue
		}
		for table, n := range stats.Tables {
			s.metrics.SetShardKeys(shard, table, n)
		}
	}
}
