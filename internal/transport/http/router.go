// Package httptransport composes the HTTP surface. Handlers live with their
// services; this package only mounts them and adds the cross-cutting
// middleware, health, and metrics endpoints.
package httptransport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"anchorid/pkg/platform/httputil"
)

// Registrar mounts a set of endpoints on the router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthFunc reports per-component health; an empty error string means
// healthy. Nil means no components to check.
type HealthFunc func(ctx context.Context) map[string]string

// NewRouter wires middleware, health, metrics, and all registered endpoints.
func NewRouter(health HealthFunc, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth(health))
	r.Handle("/metrics", promhttp.Handler())

	for _, registrar := range registrars {
		registrar.Register(r)
	}
	return r
}

func handleHealth(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{}
		if health != nil {
			components = health(r.Context())
		}
		status := http.StatusOK
		for _, state := range components {
			if state != "ok" {
				status = http.StatusServiceUnavailable
				break
			}
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status":     http.StatusText(status),
			"components": components,
		})
	}
}
