// Package observability hosts the prometheus metrics and structured logging
// used across the loyalty service.
package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records loyalty engine activity.
type EngineMetrics struct {
	pointsEarned    prometheus.Counter
	pointsRedeemed  prometheus.Counter
	tierUpgrades    prometheus.Counter
	redemptions     *prometheus.CounterVec
	conflictRetries prometheus.Counter
	opLatency       *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Metrics returns the lazily-initialised engine metrics registry.
func Metrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			pointsEarned: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "ledger",
				Name:      "points_earned_total",
				Help:      "Total points credited to accounts after multiplier adjustment.",
			}),
			pointsRedeemed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "ledger",
				Name:      "points_redeemed_total",
				Help:      "Total points debited from accounts.",
			}),
			tierUpgrades: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "tier",
				Name:      "upgrades_total",
				Help:      "Count of tier promotions.",
			}),
			redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "rewards",
				Name:      "redemptions_total",
				Help:      "Reward redemption attempts segmented by outcome.",
			}, []string{"outcome"}),
			conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "ledger",
				Name:      "conflict_retries_total",
				Help:      "Count of mutations retried after a lost concurrency race.",
			}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loyalty",
				Subsystem: "engine",
				Name:      "op_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loyalty",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests segmented by route and status.",
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			engineRegistry.pointsEarned,
			engineRegistry.pointsRedeemed,
			engineRegistry.tierUpgrades,
			engineRegistry.redemptions,
			engineRegistry.conflictRetries,
			engineRegistry.opLatency,
			engineRegistry.httpRequests,
		)
	})
	return engineRegistry
}

// AddPointsEarned records credited points.
func (m *EngineMetrics) AddPointsEarned(points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.pointsEarned.Add(float64(points))
}

// AddPointsRedeemed records debited points.
func (m *EngineMetrics) AddPointsRedeemed(points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.pointsRedeemed.Add(float64(points))
}

// IncTierUpgrade records a tier promotion.
func (m *EngineMetrics) IncTierUpgrade() {
	if m == nil {
		return
	}
	m.tierUpgrades.Inc()
}

// ObserveRedemption records one redemption attempt outcome.
func (m *EngineMetrics) ObserveRedemption(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

// IncConflictRetry records one retry after a serialization conflict.
func (m *EngineMetrics) IncConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

// ObserveOp records the latency of one engine operation.
func (m *EngineMetrics) ObserveOp(op string, duration time.Duration) {
	if m == nil || op == "" {
		return
	}
	m.opLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveHTTP records one served request.
func (m *EngineMetrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
