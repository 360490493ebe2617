package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
)

func init() { Register(registerStatic) }

// registerStatic serves the map client. API routes are more specific and
// take precedence over the catch-all.
func registerStatic(r chi.Router, d deps.Deps) {
	if d.StaticDir == "" {
		return
	}
	r.Handle("/*", http.FileServer(http.Dir(d.StaticDir)))
}
