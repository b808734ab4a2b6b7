// Package server assembles the dev server's HTTP surface: the listener,
// the chi router with its internal endpoints, and static file serving.
package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// InternalPrefix is reserved for the dev server's own endpoints and is
// never proxied.
const InternalPrefix = "/__devserver"

// Endpoints are the optional internal handlers mounted under InternalPrefix.
type Endpoints struct {
	Status  http.Handler // upstream health snapshot
	Metrics http.Handler // prometheus exposition
}

// NewRouter routes internal endpoints and hands everything else to app.
func NewRouter(app http.Handler, ep Endpoints, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(AccessLog(logger))
	r.Use(middleware.Recoverer)

	r.Route(InternalPrefix, func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
		if ep.Status != nil {
			r.Method(http.MethodGet, "/status", ep.Status)
		}
		if ep.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", ep.Metrics)
		}
	})

	r.Handle("/*", app)
	return r
}
