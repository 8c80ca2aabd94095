package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketcore/pkg/logger"
)

const readinessTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// newOpsRouter serves liveness, readiness and Prometheus metrics.
func newOpsRouter(logg *logger.Logger, gatherer prometheus.Gatherer, deps map[string]pinger) http.Handler {
	r := chi.NewRouter()
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", func(w http.ResponseWriter, _ *http.Request) {
			writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
			ctx, cancel := context.WithTimeout(req.Context(), readinessTimeout)
			defer cancel()

			checks := make(map[string]string, len(deps))
			status := http.StatusOK
			for name, dep := range deps {
				if err := dep.Ping(ctx); err != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
					checks[name] = "down"
					status = http.StatusServiceUnavailable
					continue
				}
				checks[name] = "ok"
			}
			writeStatus(w, status, checks)
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func writeStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
