package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics live on a private registry so the scrape surface stays exactly
// what we declare here, without the default Go runtime collectors of a
// shared global registry.
var metricsRegistry = prometheus.NewRegistry()

var (
	rewardsIssuedTotal = promauto.With(metricsRegistry).NewCounter(prometheus.CounterOpts{
		Name: "rewards_issued_total",
		Help: "Settlements that credited a wallet.",
	})

	rewardsAmountTotal = promauto.With(metricsRegistry).NewCounter(prometheus.CounterOpts{
		Name: "rewards_amount_total",
		Help: "Total token amount credited across all settlements.",
	})

	rewardsRejectedTotal = promauto.With(metricsRegistry).NewCounterVec(prometheus.CounterOpts{
		Name: "rewards_rejected_total",
		Help: "Activity reports rejected, by reason code.",
	}, []string{"reason"})

	throttleEventsTotal = promauto.With(metricsRegistry).NewCounterVec(prometheus.CounterOpts{
		Name: "throttle_events_total",
		Help: "Requests refused by the rate controller, by request class.",
	}, []string{"class"})

	poolRemainingPercent = promauto.With(metricsRegistry).NewGauge(prometheus.GaugeOpts{
		Name: "pool_remaining_percent",
		Help: "Remaining share of the current period's pool, 0-100.",
	})

	rateLimiterDegraded = promauto.With(metricsRegistry).NewGauge(prometheus.GaugeOpts{
		Name: "rate_limiter_degraded",
		Help: "1 while the rate controller is counting in-process instead of in Redis.",
	})

	anomalyScoreGauge = promauto.With(metricsRegistry).NewGauge(prometheus.GaugeOpts{
		Name: "anomaly_score",
		Help: "Current farming anomaly score, 0-100.",
	})

	settlementDuration = promauto.With(metricsRegistry).NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_duration_seconds",
		Help:    "Wall time of the settlement transaction.",
		Buckets: prometheus.DefBuckets,
	})
)

func metricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}
