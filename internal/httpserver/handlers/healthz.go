package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
)

type healthzResponse struct {
	OK                  bool    `json:"ok"`
	FeedURL             string  `json:"feedUrl"`
	RefreshIntervalMs   int64   `json:"refreshIntervalMs"`
	StaleAfterMs        int64   `json:"staleAfterMs"`
	LastUpdatedAt       *string `json:"lastUpdatedAt"`
	StalenessMs         *int64  `json:"stalenessMs"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	LastError           *string `json:"lastError"`
	UptimeSeconds       float64 `json:"uptimeSeconds"`
	Version             string  `json:"version,omitempty"`
}

// Healthz reports feed health without touching the upstream.
func Healthz(d deps.Deps) http.HandlerFunc {
	feedURL := redactURL(d.FeedURL)

	return func(w http.ResponseWriter, r *http.Request) {
		now := d.Now()
		snap := d.Cache.Current()

		resp := healthzResponse{
			FeedURL:             feedURL,
			RefreshIntervalMs:   d.RefreshInterval.Milliseconds(),
			StaleAfterMs:        d.StaleAfter.Milliseconds(),
			ConsecutiveFailures: snap.ConsecutiveFailures,
			UptimeSeconds:       now.Sub(d.StartTime).Seconds(),
			Version:             d.Version,
		}
		if staleness, ok := snap.Staleness(now); ok {
			at := snap.UpdatedAt.UTC().Format(time.RFC3339Nano)
			ms := staleness.Milliseconds()
			resp.LastUpdatedAt = &at
			resp.StalenessMs = &ms
		}
		if snap.LastError != nil {
			msg := snap.LastError.Error()
			resp.LastError = &msg
		}
		resp.OK = snap.LastError == nil && !snap.IsStale(now, d.StaleAfter)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if resp.OK {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// redactURL hides credentials embedded in the feed address.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
