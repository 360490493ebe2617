package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/livefeed/internal/httpserver/handlers"
)

func init() { RegisterStreaming(registerStream) }

func registerStream(r chi.Router, d deps.Deps) {
	if d.Hub == nil {
		return
	}
	r.Get("/positions/stream", handlers.PositionsStream(d))
}
