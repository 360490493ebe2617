package deps

import (
	"time"

	"github.com/MrSnakeDoc/livefeed/internal/broadcast"
	"github.com/MrSnakeDoc/livefeed/internal/index"
	"github.com/MrSnakeDoc/livefeed/internal/logger"
	"github.com/MrSnakeDoc/livefeed/internal/scheduler"
)

type Deps struct {
	Logger          logger.Logger
	StartTime       time.Time
	Version         string
	Commit          string
	BuildDate       string
	GoVersion       string
	TimeNow         func() time.Time         // for testing, defaults to time.Now
	AllowedHosts    []string                 // Host headers allowed on admin endpoints
	AllowedCIDRS    []string                 // IPs allowed to access readyz/reload
	TrustProxy      bool                     // true if running behind a trusted reverse proxy
	FeedURL         string                   // upstream feed address, reported by healthz
	RefreshInterval time.Duration            // base refresh interval, also used for Retry-After
	StaleAfter      time.Duration            // snapshots older than this are served with 503
	RequestTimeout  time.Duration            // per-request timeout for non-streaming routes
	Cache           *index.SnapshotCache     // the single process-wide snapshot
	Refresher       *scheduler.FeedRefresher // collapsing refresher feeding Cache
	Hub             *broadcast.Hub           // websocket fan-out (nil disables /positions/stream)
	StaticDir       string                   // map assets served at / (empty disables)
}

// Now returns TimeNow() or time.Now() when unset.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
