package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shardkv/internal/registry"
	"shardkv/internal/ring"
	"shardkv/internal/wire"
)

// migrationOrigin marks the origin of the tombstones minted by the
// Migration Controller on the source shard, distinguishing them in
// logs/debugging from tombstones an application write produced.
const migrationOrigin = "migration"

// Migrator runs the background rebalance that follows a shard being
// added to the ring: it moves the keys whose owner changed from their
// old shard to their new one, and keeps the old ring around so reads
// can fall back to the previous owner until the move finishes.
//
// Only one migration runs at a time. A shard addition that arrives
// while one is already in flight does not start a second one — this
// mirrors the coordinator app's single migration_lock/migration_in_progress
// pair rather than queuing or merging migrations.
type Migrator struct {
	registry *registry.Registry
	ring     *ring.Ring
	client   *shardClient
	logger   *zap.Logger

	mu         sync.Mutex
	inProgress bool
	oldRing    *ring.Ring
}

// NewMigrator creates a Migrator bound to the coordinator's live ring
// and replica registry.
func NewMigrator(reg *registry.Registry, liveRing *ring.Ring, logger *zap.Logger) *Migrator {
	return &Migrator{
		registry: reg,
		ring:     liveRing,
		client:   newShardClient(30 * time.Second),
		logger:   logger,
	}
}

// MaybeStart begins a migration from a snapshot of the ring taken
// before shardName was added, unless one is already running. It
// returns immediately; the migration itself runs on its own goroutine.
func (m *Migrator) MaybeStart(before *ring.Ring) {
	m.mu.Lock()
	if m.inProgress {
		m.mu.Unlock()
		return
	}
	m.inProgress = true
	m.oldRing = before
	m.mu.Unlock()

	go m.run(before)
}

// InProgress reports whether a migration is currently running, and if
// so, the ring snapshot it is migrating away from.
func (m *Migrator) InProgress() (*ring.Ring, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inProgress {
		return nil, false
	}
	return m.oldRing, true
}

func (m *Migrator) finish() {
	m.mu.Lock()
	m.inProgress = false
	m.oldRing = nil
	m.mu.Unlock()
}

func (m *Migrator) run(oldRing *ring.Ring) {
	defer m.finish()

	ctx := context.Background()
	srcShards := oldRing.Nodes()

	for _, srcShard := range srcShards {
		srcLeader := m.registry.LeaderURL(srcShard)
		if srcLeader == "" {
			continue
		}

		items, err := m.client.keys(ctx, srcLeader)
		if err != nil {
			m.logger.Error("migration: failed to list keys from source shard", zap.String("shard", srcShard), zap.Error(err))
			continue
		}

		buckets := make(map[string][]wire.Item)
		for _, it := range items {
			dstShard, ok := m.ring.Get(it.PK)
			if !ok || dstShard == srcShard {
				continue
			}
			buckets[dstShard] = append(buckets[dstShard], it)
		}

		for dstShard, moved := range buckets {
			dstLeader := m.registry.LeaderURL(dstShard)
			if dstLeader == "" {
				continue
			}

			if err := m.client.migratePut(ctx, dstLeader, moved); err != nil {
				m.logger.Error("migration: migrate-put failed",
					zap.String("src", srcShard), zap.String("dst", dstShard), zap.Error(err))
				continue
			}

			tombVersion := time.Now().UnixNano()
			dels := make([]wire.Item, len(moved))
			for i, it := range moved {
				dels[i] = wire.Item{
					TableName: it.TableName,
					PK:        it.PK,
					SK:        it.SK,
					Value:     it.Value,
					Version:   tombVersion,
					Origin:    migrationOrigin,
				}
			}

			if err := m.client.migrateDel(ctx, srcLeader, dels); err != nil {
				m.logger.Error("migration: migrate-del failed",
					zap.String("src", srcShard), zap.String("dst", dstShard), zap.Error(err))
			}
		}
	}
}
