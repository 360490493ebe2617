package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/MrSnakeDoc/livefeed/internal/domain"
	"github.com/MrSnakeDoc/livefeed/internal/index"
	"github.com/MrSnakeDoc/livefeed/internal/logger"
	redisstore "github.com/MrSnakeDoc/livefeed/internal/store/redis"
)

// SnapshotStore persists the latest snapshot outside the process.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, body []byte, updatedAt time.Time) error
	LoadSnapshot(ctx context.Context) ([]domain.VehicleRecord, time.Time, error)
}

const mirrorTimeout = 3 * time.Second

// RedisSyncer warms the cache from the mirror on startup and mirrors every
// committed snapshot back, best effort.
type RedisSyncer struct {
	store  SnapshotStore
	cache  *index.SnapshotCache
	logger logger.Logger
}

// NewRedisSyncer creates a new Redis syncer
func NewRedisSyncer(store SnapshotStore, cache *index.SnapshotCache, log logger.Logger) *RedisSyncer {
	return &RedisSyncer{
		store:  store,
		cache:  cache,
		logger: log.With(logger.String("component", "redis_sync")),
	}
}

// Sync restores the mirrored snapshot into the cache, keeping its original
// update time so staleness stays honest. Newer in-memory data wins.
func (rs *RedisSyncer) Sync(ctx context.Context) error {
	rs.logger.Info("restoring snapshot from redis")

	records, updatedAt, err := rs.store.LoadSnapshot(ctx)
	if errors.Is(err, redisstore.ErrNoSnapshot) {
		rs.logger.Info("no snapshot found in redis")
		return nil
	}
	if err != nil {
		return err
	}

	snap, restored, err := rs.cache.Restore(records, updatedAt)
	if err != nil {
		return err
	}
	if !restored {
		rs.logger.Info("mirrored snapshot is not newer than memory, skipped",
			logger.Time("mirrored_at", updatedAt))
		return nil
	}

	rs.logger.Info("restored snapshot from redis",
		logger.Int("vehicles", len(snap.Records)),
		logger.Time("updated_at", snap.UpdatedAt))
	return nil
}

// Mirror saves snap in the background. It is meant to be registered with
// FeedRefresher.OnCommit and never blocks the caller.
func (rs *RedisSyncer) Mirror(snap index.Snapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()

		if err := rs.store.SaveSnapshot(ctx, snap.Body, snap.UpdatedAt); err != nil {
			rs.logger.Warn("failed to mirror snapshot to redis", logger.Error(err))
			return
		}
		rs.logger.Debug("snapshot mirrored to redis", logger.String("etag", snap.ETag))
	}()
}
