package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrSnakeDoc/livefeed/internal/backoff"
	"github.com/MrSnakeDoc/livefeed/internal/domain"
	"github.com/MrSnakeDoc/livefeed/internal/index"
	"github.com/MrSnakeDoc/livefeed/internal/logger"
)

// FeedFetcher returns the raw upstream payload.
type FeedFetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FeedDecoder turns a payload into vehicle records.
type FeedDecoder interface {
	Decode(payload []byte) ([]domain.VehicleRecord, error)
}

// State is the observable refresher state.
type State int32

const (
	StateIdle State = iota
	StateRefreshing
	StateScheduled
)

func (s State) String() string {
	switch s {
	case StateRefreshing:
		return "refreshing"
	case StateScheduled:
		return "scheduled"
	default:
		return "idle"
	}
}

// Options are used as given. Clamping and defaults are applied by config.
type Options struct {
	Interval     time.Duration // base refresh interval
	FetchTimeout time.Duration
	MaxBackoff   time.Duration
}

const refreshKey = "feed"

// ErrStopped is returned by Start once the refresher has been stopped.
var ErrStopped = errors.New("refresher stopped")

// FeedRefresher owns the fetch → decode → commit cycle. At most one refresh
// runs at a time; periodic, manual and request-triggered refreshes all join
// the same in-flight call.
type FeedRefresher struct {
	fetcher       FeedFetcher
	decoder       FeedDecoder
	cache         *index.SnapshotCache
	logger        logger.Logger
	opts          Options
	manualTrigger chan struct{}

	group    singleflight.Group
	inflight atomic.Bool
	armed    atomic.Bool

	// baseCtx bounds every fetch; Stop cancels it.
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	listeners []func(index.Snapshot)
}

// NewFeedRefresher creates a refresher. manualTrigger may be nil when
// manual reloads are not wired.
func NewFeedRefresher(
	fetcher FeedFetcher,
	decoder FeedDecoder,
	cache *index.SnapshotCache,
	log logger.Logger,
	opts Options,
	manualTrigger chan struct{},
) *FeedRefresher {
	ctx, cancel := context.WithCancel(context.Background())
	return &FeedRefresher{
		fetcher:       fetcher,
		decoder:       decoder,
		cache:         cache,
		logger:        log.With(logger.String("component", "refresher")),
		opts:          opts,
		manualTrigger: manualTrigger,
		baseCtx:       ctx,
		cancel:        cancel,
		stopCh:        make(chan struct{}),
	}
}

// OnCommit registers fn to be called with every newly committed snapshot.
// fn runs on the refreshing goroutine and must not block.
func (fr *FeedRefresher) OnCommit(fn func(index.Snapshot)) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.listeners = append(fr.listeners, fn)
}

// Start performs one synchronous refresh and then keeps refreshing on a
// self-rescheduling timer until Stop is called or ctx is done. A failed
// initial refresh is recorded and logged, not returned.
func (fr *FeedRefresher) Start(ctx context.Context) error {
	if fr.baseCtx.Err() != nil {
		return ErrStopped
	}

	if _, err := fr.Refresh(ctx); err != nil {
		fr.logger.Warn("initial refresh failed, serving empty snapshot until the next attempt",
			logger.Error(err))
	}

	go fr.loop(ctx)
	return nil
}

func (fr *FeedRefresher) loop(ctx context.Context) {
	for {
		delay := fr.NextDelay()
		timer := time.NewTimer(delay)
		fr.armed.Store(true)

		select {
		case <-timer.C:
		case <-fr.manualTrigger:
			timer.Stop()
			fr.logger.Info("manual refresh triggered")
		case <-fr.stopCh:
			timer.Stop()
			fr.armed.Store(false)
			return
		case <-ctx.Done():
			timer.Stop()
			fr.armed.Store(false)
			return
		}
		fr.armed.Store(false)

		// Outcome is recorded on the cache and logged by refresh.
		_, _ = fr.Refresh(fr.baseCtx)
	}
}

// Stop disarms the timer and abandons any in-flight fetch. Safe to call
// more than once.
func (fr *FeedRefresher) Stop() {
	fr.stopOnce.Do(func() {
		close(fr.stopCh)
		fr.cancel()
	})
}

// Trigger asks the loop to refresh now. It returns false when a trigger is
// already pending.
func (fr *FeedRefresher) Trigger() bool {
	if fr.manualTrigger == nil {
		return false
	}
	select {
	case fr.manualTrigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// State reports what the refresher is doing right now.
func (fr *FeedRefresher) State() State {
	switch {
	case fr.inflight.Load():
		return StateRefreshing
	case fr.armed.Load():
		return StateScheduled
	default:
		return StateIdle
	}
}

// NextDelay is the delay the loop arms after the current outcome.
func (fr *FeedRefresher) NextDelay() time.Duration {
	return backoff.Delay(fr.opts.Interval, fr.opts.MaxBackoff, fr.cache.Current().ConsecutiveFailures)
}

// EnsureFresh waits for an in-flight refresh, or refreshes synchronously if
// nothing was ever committed. Otherwise it returns at once.
func (fr *FeedRefresher) EnsureFresh(ctx context.Context) index.Snapshot {
	if fr.inflight.Load() || !fr.cache.Current().HasData() {
		snap, _ := fr.Refresh(ctx)
		return snap
	}
	return fr.cache.Current()
}

// Refresh joins the in-flight refresh or starts one. The fetch itself is
// bounded by the fetch timeout and by Stop, not by ctx; ctx only limits how
// long this caller waits. The returned snapshot is the cache state after
// the refresh.
func (fr *FeedRefresher) Refresh(ctx context.Context) (index.Snapshot, error) {
	ch := fr.group.DoChan(refreshKey, func() (any, error) {
		fr.inflight.Store(true)
		defer fr.inflight.Store(false)
		return fr.refresh()
	})

	select {
	case res := <-ch:
		snap, _ := res.Val.(index.Snapshot)
		return snap, res.Err
	case <-ctx.Done():
		return fr.cache.Current(), ctx.Err()
	}
}

func (fr *FeedRefresher) refresh() (index.Snapshot, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(fr.baseCtx, fr.opts.FetchTimeout)
	defer cancel()

	records, err := fr.fetchAndDecode(ctx)
	if err == nil {
		var snap index.Snapshot
		snap, err = fr.cache.Commit(records)
		if err == nil {
			fr.logger.Info("feed refreshed",
				logger.Int("vehicles", len(snap.Records)),
				logger.String("etag", snap.ETag),
				logger.Duration("duration", time.Since(start)))
			fr.notify(snap)
			return snap, nil
		}
	}

	if fr.baseCtx.Err() != nil {
		fr.logger.Debug("refresh abandoned on shutdown", logger.Error(err))
		return fr.cache.Current(), err
	}

	snap := fr.cache.RecordFailure(err)
	fr.logger.Warn("feed refresh failed",
		logger.String("kind", domain.ErrorKind(err)),
		logger.Int("consecutive_failures", snap.ConsecutiveFailures),
		logger.Duration("next_delay", fr.NextDelay()),
		logger.Duration("duration", time.Since(start)),
		logger.Error(err))
	return snap, err
}

func (fr *FeedRefresher) fetchAndDecode(ctx context.Context) ([]domain.VehicleRecord, error) {
	payload, err := fr.fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return fr.decoder.Decode(payload)
}

func (fr *FeedRefresher) notify(snap index.Snapshot) {
	fr.mu.Lock()
	listeners := append([]func(index.Snapshot){}, fr.listeners...)
	fr.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
