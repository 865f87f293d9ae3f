// Package metrics holds the Prometheus collectors for the turn engine and
// the handler that exposes them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coachwars_turn_duration_seconds",
			Help:    "Time to resolve one turn, from lease to commit.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	AdherenceChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachwars_adherence_checks_total",
			Help: "Adherence checks by result (pass, fail) and path (battle, loadout).",
		},
		[]string{"path", "result"},
	)
	Rebellions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachwars_rebellions_total",
			Help: "Rebellions by type. Reluctant compliance is counted as reluctant.",
		},
		[]string{"type"},
	)
	OracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachwars_oracle_requests_total",
			Help: "Oracle calls by operation, backend and status.",
		},
		[]string{"op", "backend", "status"},
	)
	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coachwars_oracle_request_duration_seconds",
			Help:    "Oracle call latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		},
		[]string{"op", "backend"},
	)
	LockConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coachwars_lock_conflicts_total",
			Help: "Battle starts rejected because a character was held elsewhere.",
		},
	)
	BattlesEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coachwars_battles_ended_total",
			Help: "Battles that left the active state, by end reason.",
		},
		[]string{"reason"},
	)
	SpectatorConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coachwars_spectator_connections",
			Help: "Open WebSocket spectator connections.",
		},
	)
)

// ObserveOracle records one oracle call started at start.
func ObserveOracle(op, backend string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	OracleRequests.WithLabelValues(op, backend, status).Inc()
	OracleDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
