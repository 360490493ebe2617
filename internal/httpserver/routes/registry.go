package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/livefeed/internal/httpserver/deps"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	reg       Registrar
	mws       []Middleware
	streaming bool
}

var registry []entry

// Register a registrar with optional per-route middlewares. Its routes run
// under the per-request timeout.
func Register(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws})
}

// RegisterStreaming registers long-lived routes (websockets) that must not
// be cut by the per-request timeout.
func RegisterStreaming(reg Registrar, mws ...Middleware) {
	registry = append(registry, entry{reg: reg, mws: mws, streaming: true})
}

// Called once from server.New()
func RegisterAll(r chi.Router, d deps.Deps) {
	bounded := r
	if d.RequestTimeout > 0 {
		bounded = r.With(middleware.Timeout(d.RequestTimeout))
	}

	for _, e := range registry {
		target := bounded
		if e.streaming {
			target = r
		}
		if len(e.mws) > 0 {
			target = target.With(e.mws...)
		}
		e.reg(target, d)
	}
}
