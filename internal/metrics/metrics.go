package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_reservations_granted_total",
		Help: "Reservation requests granted in full.",
	})

	ReservationsClamped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_reservations_clamped_total",
		Help: "Reservation requests granted below the desired quantity.",
	})

	StaleRequestsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_stale_requests_dropped_total",
		Help: "Reservation requests rejected because an out-of-order delivery carried an older timestamp.",
	})

	HandlerLockBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_handler_lock_busy_total",
		Help: "Reservation requests dropped because another worker held the per-user handler lock.",
	})

	LockRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_lock_retries_total",
		Help: "Retries performed while waiting for a contended resource lock.",
	})

	HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockhold_handler_duration_seconds",
		Help:    "End-to-end reservation handler latency.",
		Buckets: prometheus.DefBuckets,
	})

	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_reconcile_runs_total",
		Help: "Reconciliation passes completed.",
	})

	ReconcilePurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_reconcile_purged_total",
		Help: "Abandoned reservations deleted during reconciliation.",
	})

	ReconcileExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockhold_reconcile_expired_total",
		Help: "Reservations expired during reconciliation.",
	})
)
