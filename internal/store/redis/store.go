package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/livefeed/internal/domain"
)

// DefaultSnapshotTTL bounds how long a mirrored snapshot survives without
// being refreshed.
const DefaultSnapshotTTL = 24 * time.Hour

// ErrNoSnapshot is returned by LoadSnapshot when nothing is mirrored.
var ErrNoSnapshot = errors.New("no mirrored snapshot")

// Store mirrors the latest committed snapshot of one feed.
type Store struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewStore creates a store for feed. A non-positive ttl uses DefaultSnapshotTTL.
func NewStore(client *redis.Client, feed string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Store{
		client: client,
		key:    SnapshotKey(feed),
		ttl:    ttl,
	}
}

// mirrored is the stored document. Records is the already serialized body.
type mirrored struct {
	UpdatedAtMs int64           `json:"updatedAtMs"`
	Records     json.RawMessage `json:"records"`
}

// SaveSnapshot overwrites the mirrored snapshot with body, the serialized
// record list committed at updatedAt.
func (s *Store) SaveSnapshot(ctx context.Context, body []byte, updatedAt time.Time) error {
	data, err := encodeSnapshot(body, updatedAt)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the mirrored records and their original update time.
func (s *Store) LoadSnapshot(ctx context.Context) ([]domain.VehicleRecord, time.Time, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, ErrNoSnapshot
		}
		return nil, time.Time{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

func encodeSnapshot(body []byte, updatedAt time.Time) ([]byte, error) {
	if updatedAt.IsZero() {
		return nil, errors.New("refusing to mirror a snapshot that was never committed")
	}
	data, err := json.Marshal(mirrored{UpdatedAtMs: updatedAt.UnixMilli(), Records: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) ([]domain.VehicleRecord, time.Time, error) {
	var m mirrored
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if m.UpdatedAtMs <= 0 {
		return nil, time.Time{}, ErrNoSnapshot
	}

	records := []domain.VehicleRecord{}
	if len(m.Records) > 0 {
		if err := json.Unmarshal(m.Records, &records); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to unmarshal records: %w", err)
		}
	}
	return records, time.UnixMilli(m.UpdatedAtMs), nil
}
