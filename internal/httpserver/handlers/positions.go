package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/livefeed/internal/index"
	"github.com/MrSnakeDoc/livefeed/internal/logger"
)

const (
	positionsCacheControl = "public, max-age=1, must-revalidate"
	updatedAtLayout       = "2006-01-02T15:04:05.000Z07:00"
	maxErrorHeaderLen     = 256
)

// Positions serves the current snapshot. It only triggers a refresh when
// nothing was ever fetched; otherwise it never waits on the upstream.
func Positions(d deps.Deps) http.HandlerFunc {
	retryAfter := strconv.FormatInt(int64(math.Ceil(d.RefreshInterval.Seconds())), 10)

	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Refresher.EnsureFresh(r.Context())
		staleness, updated := snap.Staleness(d.Now())
		stale := !updated || staleness > d.StaleAfter

		h := w.Header()
		h.Set("Content-Type", "application/json; charset=utf-8")
		h.Set("Cache-Control", positionsCacheControl)
		h.Set("ETag", snap.ETag)
		if updated {
			h.Set("X-Feed-Updated-At", snap.UpdatedAt.UTC().Format(updatedAtLayout))
			h.Set("X-Feed-Staleness-Ms", strconv.FormatInt(staleness.Milliseconds(), 10))
		}
		if stale || snap.LastError != nil {
			if stale {
				h.Set("X-Feed-Stale", "true")
			}
			h.Set("X-Feed-Warning", feedWarning(snap, updated, stale))
			if snap.LastError != nil {
				h.Set("X-Feed-Error", headerValue(snap.LastError.Error()))
			}
			h.Set("Retry-After", retryAfter)
		}

		if !stale && etagMatches(r.Header.Get("If-None-Match"), snap.ETag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		status := http.StatusOK
		if stale {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		if _, err := w.Write(snap.Body); err != nil {
			d.Logger.Debug("failed to write response", logger.Error(err))
		}
	}
}

func feedWarning(snap index.Snapshot, updated, stale bool) string {
	switch {
	case !updated:
		return "no vehicle data fetched yet"
	case stale:
		return "vehicle data is stale"
	default:
		return "last refresh failed, serving previous data"
	}
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// headerValue flattens s to a single printable line of bounded length.
func headerValue(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	if len(s) > maxErrorHeaderLen {
		s = strings.ToValidUTF8(s[:maxErrorHeaderLen], "")
	}
	return strings.TrimSpace(s)
}
