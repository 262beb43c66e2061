package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "rides_requested_total", Help: "Ride requests created, by class"},
		[]string{"class"},
	)
	RidesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "rides_finished_total", Help: "Rides that reached a terminal phase"},
		[]string{"phase"},
	)
	SnapshotsApplied = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "snapshots_applied_total", Help: "Ride snapshots folded into a session"})
	SnapshotsIgnored = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "snapshots_ignored_total", Help: "Stale or duplicate ride snapshots"})
	Cancellations    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "cancellations_total", Help: "Passenger cancellations by outcome"},
		[]string{"outcome"},
	)
	RatingsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "ratings_submitted_total", Help: "Ratings written, by stars"},
		[]string{"stars"},
	)
	MatchesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "matches_total", Help: "Driver assignments written by the matcher"})
	MatchLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_lifecycle", Name: "match_latency_seconds", Help: "Match latency seconds"})
	ActiveSessions  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_lifecycle", Name: "active_sessions", Help: "Passenger sessions held by the BFF"})
	RelayFailures   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "relay_failures_total", Help: "Notification relay posts that failed"})
	DriverLocations = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "driver_locations_total", Help: "Driver location samples received"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lifecycle", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_lifecycle",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
