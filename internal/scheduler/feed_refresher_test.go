package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/livefeed/internal/backoff"
	"github.com/MrSnakeDoc/livefeed/internal/domain"
	"github.com/MrSnakeDoc/livefeed/internal/index"
	"github.com/MrSnakeDoc/livefeed/internal/logger"
	"github.com/MrSnakeDoc/livefeed/internal/sources/gtfsrt"
)

const oneVehicle = `{"header":{"gtfsRealtimeVersion":"2.0"},"entity":[{"id":"1","vehicle":{"trip":{"routeId":"10"},
	"vehicle":{"id":"1405"},"position":{"latitude":51.75,"longitude":19.45}}}]}`

// fakeFetcher serves payload, optionally blocking until release is closed
// or the fetch context ends.
type fakeFetcher struct {
	payload []byte
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]byte, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, domain.NewNetworkError("fake://feed", ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func newTestRefresher(f FeedFetcher, opts Options) (*FeedRefresher, *index.SnapshotCache) {
	cache := index.NewSnapshotCache()
	fr := NewFeedRefresher(f, gtfsrt.NewDecoder(), cache, logger.Nop(), opts, make(chan struct{}, 1))
	return fr, cache
}

var testOpts = Options{Interval: time.Hour, FetchTimeout: time.Second, MaxBackoff: 4 * time.Hour}

func TestRefreshCommitsSnapshot(t *testing.T) {
	fr, cache := newTestRefresher(&fakeFetcher{payload: []byte(oneVehicle)}, testOpts)

	snap, err := fr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(snap.Records) != 1 {
		t.Fatalf("Refresh() committed %d records, want 1", len(snap.Records))
	}
	if cache.Current().ETag != snap.ETag {
		t.Errorf("cache ETag = %s, want %s", cache.Current().ETag, snap.ETag)
	}
	if !snap.HasData() {
		t.Error("snapshot should be marked as updated")
	}
}

func TestRefreshCollapsesConcurrentCallers(t *testing.T) {
	f := &fakeFetcher{
		payload: []byte(oneVehicle),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	fr, _ := newTestRefresher(f, testOpts)

	// First caller starts the fetch.
	results := make(chan index.Snapshot, 10)
	go func() {
		snap, _ := fr.Refresh(context.Background())
		results <- snap
	}()
	<-f.started

	var ready, done sync.WaitGroup
	for i := 0; i < 9; i++ {
		ready.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			ready.Done()
			snap, _ := fr.Refresh(context.Background())
			results <- snap
		}()
	}
	ready.Wait()
	time.Sleep(20 * time.Millisecond)

	if got := fr.State(); got != StateRefreshing {
		t.Errorf("State() = %s while fetch is in flight, want refreshing", got)
	}

	close(f.release)
	done.Wait()

	first := <-results
	for i := 1; i < 10; i++ {
		if snap := <-results; snap.ETag != first.ETag {
			t.Errorf("caller observed ETag %s, want %s", snap.ETag, first.ETag)
		}
	}
	if calls := f.calls.Load(); calls != 1 {
		t.Errorf("upstream fetched %d times, want exactly 1", calls)
	}
	if fr.State() == StateRefreshing {
		t.Error("State() still refreshing after the fetch completed")
	}
}

func TestRefreshTimeoutRecordsFailure(t *testing.T) {
	f := &fakeFetcher{release: make(chan struct{})}
	defer close(f.release)

	opts := testOpts
	opts.FetchTimeout = 20 * time.Millisecond
	fr, cache := newTestRefresher(f, opts)

	_, err := fr.Refresh(context.Background())
	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) || !netErr.Timeout {
		t.Fatalf("Refresh() error = %v, want timed-out *domain.NetworkError", err)
	}

	snap := cache.Current()
	if snap.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", snap.ConsecutiveFailures)
	}
	if snap.LastError == nil {
		t.Error("LastError not recorded")
	}
	if snap.HasData() {
		t.Error("a failed refresh must not mark the snapshot as updated")
	}
}

func TestRefreshDecodeFailureKeepsLastGood(t *testing.T) {
	f := &fakeFetcher{payload: []byte(oneVehicle)}
	fr, cache := newTestRefresher(f, testOpts)

	good, err := fr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("initial Refresh() error = %v", err)
	}

	f.payload = []byte{0x0a, 0x05, 'a', 'b'}
	_, err = fr.Refresh(context.Background())
	var decodeErr *domain.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Refresh() error = %v, want *domain.DecodeError", err)
	}

	snap := cache.Current()
	if snap.ETag != good.ETag || !snap.UpdatedAt.Equal(good.UpdatedAt) {
		t.Error("decode failure replaced the last good snapshot")
	}
	if len(snap.Records) != 1 {
		t.Errorf("records = %d, want last good 1", len(snap.Records))
	}
	if snap.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", snap.ConsecutiveFailures)
	}
}

func TestRefreshEmptyBodyKeepsLastGood(t *testing.T) {
	f := &fakeFetcher{payload: []byte(oneVehicle)}
	fr, cache := newTestRefresher(f, testOpts)

	good, err := fr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("initial Refresh() error = %v", err)
	}

	f.payload = []byte{}
	_, err = fr.Refresh(context.Background())
	var decodeErr *domain.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Refresh() error = %v, want *domain.DecodeError", err)
	}

	snap := cache.Current()
	if snap.ETag != good.ETag || len(snap.Records) != 1 {
		t.Errorf("empty body replaced the last good snapshot: etag %s, %d records", snap.ETag, len(snap.Records))
	}
	if snap.ConsecutiveFailures != 1 || snap.LastError == nil {
		t.Errorf("failure not recorded: failures=%d lastError=%v", snap.ConsecutiveFailures, snap.LastError)
	}
}

func TestRefreshSuccessResetsFailures(t *testing.T) {
	f := &fakeFetcher{err: &domain.UpstreamStatusError{URL: "fake://feed", StatusCode: 500}}
	fr, cache := newTestRefresher(f, testOpts)

	for i := 0; i < 3; i++ {
		_, _ = fr.Refresh(context.Background())
	}
	if got := cache.Current().ConsecutiveFailures; got != 3 {
		t.Fatalf("ConsecutiveFailures = %d, want 3", got)
	}

	f.err = nil
	f.payload = []byte(oneVehicle)
	if _, err := fr.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	snap := cache.Current()
	if snap.ConsecutiveFailures != 0 || snap.LastError != nil {
		t.Errorf("failure state not cleared: failures=%d lastError=%v", snap.ConsecutiveFailures, snap.LastError)
	}
}

func TestNextDelayFollowsFailures(t *testing.T) {
	opts := Options{Interval: 100 * time.Millisecond, FetchTimeout: time.Second, MaxBackoff: 800 * time.Millisecond}
	f := &fakeFetcher{err: errors.New("connection refused")}
	fr, _ := newTestRefresher(f, opts)

	if got := fr.NextDelay(); got != opts.Interval {
		t.Fatalf("NextDelay() with no failures = %v, want %v", got, opts.Interval)
	}

	prev := time.Duration(0)
	for n := 1; n <= 6; n++ {
		_, _ = fr.Refresh(context.Background())
		got := fr.NextDelay()
		if want := backoff.Delay(opts.Interval, opts.MaxBackoff, n); got != want {
			t.Errorf("after %d failures NextDelay() = %v, want %v", n, got, want)
		}
		if got < prev {
			t.Errorf("after %d failures delay decreased: %v < %v", n, got, prev)
		}
		if got > opts.MaxBackoff {
			t.Errorf("after %d failures delay %v exceeds max %v", n, got, opts.MaxBackoff)
		}
		prev = got
	}
}

func TestEnsureFresh(t *testing.T) {
	f := &fakeFetcher{payload: []byte(oneVehicle)}
	fr, _ := newTestRefresher(f, testOpts)

	snap := fr.EnsureFresh(context.Background())
	if !snap.HasData() {
		t.Fatal("EnsureFresh() did not refresh an empty cache")
	}
	if calls := f.calls.Load(); calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", calls)
	}

	fr.EnsureFresh(context.Background())
	if calls := f.calls.Load(); calls != 1 {
		t.Errorf("EnsureFresh() fetched again with data present: calls = %d", calls)
	}
}

func TestEnsureFreshHonoursCallerContext(t *testing.T) {
	f := &fakeFetcher{release: make(chan struct{})}
	defer close(f.release)
	fr, _ := newTestRefresher(f, testOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	snap := fr.EnsureFresh(ctx)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("EnsureFresh() waited %v past the caller deadline", elapsed)
	}
	if snap.HasData() {
		t.Error("snapshot should still be empty")
	}
}

func TestStopAbandonsInflightWithoutRecording(t *testing.T) {
	f := &fakeFetcher{started: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(f.release)
	fr, cache := newTestRefresher(f, testOpts)

	errCh := make(chan error, 1)
	go func() {
		_, err := fr.Refresh(context.Background())
		errCh <- err
	}()
	<-f.started

	fr.Stop()
	fr.Stop()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("abandoned refresh returned nil error")
		}
	case <-time.After(time.Second):
		t.Fatal("Refresh() did not return after Stop()")
	}
	if got := cache.Current().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures = %d, shutdown must not count as a failure", got)
	}
	if err := fr.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop() error = %v, want ErrStopped", err)
	}
}

func TestStartSchedulesRefreshes(t *testing.T) {
	f := &fakeFetcher{payload: []byte(oneVehicle)}
	opts := Options{Interval: 10 * time.Millisecond, FetchTimeout: time.Second, MaxBackoff: time.Second}
	fr, cache := newTestRefresher(f, opts)

	if err := fr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer fr.Stop()

	if !cache.Current().HasData() {
		t.Fatal("Start() should refresh synchronously before returning")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d fetches after 2s with a 10ms interval", f.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTriggerRefreshesImmediately(t *testing.T) {
	f := &fakeFetcher{payload: []byte(oneVehicle)}
	fr, _ := newTestRefresher(f, testOpts)

	if err := fr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer fr.Stop()

	if !fr.Trigger() {
		t.Fatal("Trigger() = false with no pending trigger")
	}

	deadline := time.Now().Add(2 * time.Second)
	for f.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("manual trigger did not cause a refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTriggerPending(t *testing.T) {
	fr, _ := newTestRefresher(&fakeFetcher{}, testOpts)

	// Loop not started: the first trigger stays pending in the buffer.
	if !fr.Trigger() {
		t.Fatal("first Trigger() = false, want true")
	}
	if fr.Trigger() {
		t.Error("second Trigger() = true while one is pending, want false")
	}

	noChan := NewFeedRefresher(&fakeFetcher{}, gtfsrt.NewDecoder(), index.NewSnapshotCache(), logger.Nop(), testOpts, nil)
	if noChan.Trigger() {
		t.Error("Trigger() without a trigger channel = true, want false")
	}
}

func TestOnCommitReceivesSnapshots(t *testing.T) {
	fr, _ := newTestRefresher(&fakeFetcher{payload: []byte(oneVehicle)}, testOpts)

	var got []string
	fr.OnCommit(func(s index.Snapshot) { got = append(got, s.ETag) })

	snap, err := fr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if len(got) != 1 || got[0] != snap.ETag {
		t.Errorf("listener saw %v, want [%s]", got, snap.ETag)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRefreshing, "refreshing"},
		{StateScheduled, "scheduled"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
