package index

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrSnakeDoc/livefeed/internal/domain"
)

// EmptyETag is served until the first successful refresh.
var EmptyETag = `"0-` + strings.Repeat("0", sha1.Size*2) + `"`

var emptyBody = []byte("[]")

// Snapshot is an immutable view of the feed. The cache replaces it
// wholesale; callers must not mutate Records or Body.
type Snapshot struct {
	Records             []domain.VehicleRecord
	Body                []byte
	ETag                string
	UpdatedAt           time.Time // zero until the first successful refresh
	LastError           error
	ConsecutiveFailures int
}

// HasData reports whether a refresh has ever succeeded.
func (s Snapshot) HasData() bool {
	return !s.UpdatedAt.IsZero()
}

// Staleness returns now - UpdatedAt. ok is false when nothing was ever committed.
func (s Snapshot) Staleness(now time.Time) (staleness time.Duration, ok bool) {
	if !s.HasData() {
		return 0, false
	}
	d := now.Sub(s.UpdatedAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// IsStale reports whether the snapshot is older than threshold. A snapshot
// that was never committed is always stale.
func (s Snapshot) IsStale(now time.Time, threshold time.Duration) bool {
	d, ok := s.Staleness(now)
	return !ok || d > threshold
}

// SnapshotCache holds the single process-wide snapshot.
type SnapshotCache struct {
	mu      sync.RWMutex
	current Snapshot
	now     func() time.Time
}

// NewSnapshotCache creates a cache holding the empty initial snapshot.
func NewSnapshotCache() *SnapshotCache {
	return NewSnapshotCacheWithClock(time.Now)
}

// NewSnapshotCacheWithClock is NewSnapshotCache with an injectable clock.
func NewSnapshotCacheWithClock(now func() time.Time) *SnapshotCache {
	return &SnapshotCache{
		current: Snapshot{
			Records: []domain.VehicleRecord{},
			Body:    emptyBody,
			ETag:    EmptyETag,
		},
		now: now,
	}
}

// Current returns the latest committed snapshot. It never blocks on a refresh.
func (c *SnapshotCache) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.current
}

// Commit serializes records, stamps them with the current time and makes
// them the current snapshot. Failure state is cleared.
func (c *SnapshotCache) Commit(records []domain.VehicleRecord) (Snapshot, error) {
	return c.install(records, c.now())
}

// Restore installs records with a known update time, e.g. when warming the
// cache from a mirror on startup. It never overwrites newer data.
func (c *SnapshotCache) Restore(records []domain.VehicleRecord, updatedAt time.Time) (Snapshot, bool, error) {
	if updatedAt.IsZero() {
		return c.Current(), false, nil
	}
	if cur := c.Current(); !cur.UpdatedAt.Before(updatedAt) {
		return cur, false, nil
	}
	snap, err := c.install(records, updatedAt)
	return snap, err == nil, err
}

func (c *SnapshotCache) install(records []domain.VehicleRecord, updatedAt time.Time) (Snapshot, error) {
	if records == nil {
		records = []domain.VehicleRecord{}
	}

	body, err := json.Marshal(records)
	if err != nil {
		return Snapshot{}, fmt.Errorf("serialize snapshot: %w", err)
	}

	snap := Snapshot{
		Records:   records,
		Body:      body,
		ETag:      Fingerprint(body, updatedAt),
		UpdatedAt: updatedAt,
	}

	c.mu.Lock()
	c.current = snap
	c.mu.Unlock()

	return snap, nil
}

// RecordFailure keeps the last good records and bumps the failure counter.
func (c *SnapshotCache) RecordFailure(err error) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.current
	next.LastError = err
	next.ConsecutiveFailures++
	c.current = next

	return next
}

// Fingerprint builds the strong validator for a serialized snapshot.
func Fingerprint(body []byte, updatedAt time.Time) string {
	return fmt.Sprintf(`"%d-%x"`, updatedAt.UnixMilli(), sha1.Sum(body))
}
