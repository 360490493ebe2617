package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
	"github.com/MrSnakeDoc/livefeed/internal/httpserver/handlers"
)

func init() { Register(registerPositions) }

func registerPositions(r chi.Router, d deps.Deps) {
	r.Get("/positions", handlers.Positions(d))
}
