package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
)

// PositionsStream pushes the current snapshot and then every new one over
// a websocket.
func PositionsStream(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Refresher.EnsureFresh(r.Context())
		d.Hub.Serve(w, r, snap.Body)
	}
}
