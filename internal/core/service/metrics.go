package service

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rl1809/dropspot/internal/core/domain"
)

var (
	claimOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropspot_claim_outcomes_total",
			Help: "Claim requests by outcome.",
		},
		[]string{"outcome"},
	)

	claimConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropspot_claim_conflicts_total",
		Help: "Claim attempts retried after losing the stock compare-and-decrement.",
	})

	laneWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dropspot_lane_wait_seconds",
		Help:    "Time a claim request waited to enter its drop's lane.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	activeLanes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dropspot_active_lanes",
		Help: "Per-drop claim lanes currently running.",
	})

	dropCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropspot_drop_cache_hits_total",
		Help: "Drop reads served from the in-process cache.",
	})
	dropCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropspot_drop_cache_misses_total",
		Help: "Drop reads that went to storage.",
	})
)

func observeClaimOutcome(err error) {
	outcome := "allocated"
	if err != nil {
		outcome = strings.ToLower(domain.Code(err))
	}
	claimOutcomesTotal.WithLabelValues(outcome).Inc()
}
