package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OffersOpened    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "offers_opened_total", Help: "Total offers opened"})
	OffersConsumed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "offers_consumed_total", Help: "Total offers accepted by an operator"})
	OffersExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "offers_expired_total", Help: "Total offers that hit their deadline"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "accept_conflicts_total", Help: "Accept attempts that lost the race or arrived late"})

	ReviewsQueued   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "reviews_queued_total", Help: "Rides queued for manual review"})
	ReviewsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "reviews_resolved_total", Help: "Review items resolved"},
		[]string{"action"},
	)
	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "points_awarded_total", Help: "Total points credited to operators"})

	OperatorsAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "fleet_dispatch", Name: "operators_available", Help: "Number of available operators"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "fleet_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleet_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
