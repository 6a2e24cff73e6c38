// Package metrics exposes the engine's Prometheus instrumentation. Metrics
// register on the default registry at init; Handler serves them for the
// router's /metrics route.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"precedent/internal/types"
)

var (
	searchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "precedent",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Search requests by response status",
	}, []string{"status"})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "precedent",
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "End to end search latency",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 6, 9, 12, 20},
	})

	searchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "precedent",
		Subsystem: "search",
		Name:      "results_returned",
		Help:      "Ranked results returned per request across all tiers",
		Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 40},
	})

	schedulerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "precedent",
		Subsystem: "scheduler",
		Name:      "attempts_total",
		Help:      "Provider attempts by retrieval lane",
	}, []string{"phase"})

	schedulerStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "precedent",
		Subsystem: "scheduler",
		Name:      "stops_total",
		Help:      "Scheduler run stops by reason",
	}, []string{"reason"})

	schedulerBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "precedent",
		Subsystem: "scheduler",
		Name:      "blocked_total",
		Help:      "Runs ended by upstream blocking, by kind",
	}, []string{"kind"})

	reasonerPlans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "precedent",
		Subsystem: "reasoner",
		Name:      "plans_total",
		Help:      "Reasoner plan requests by outcome",
	}, []string{"outcome"})

	gateSaturationPrevented = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "precedent",
		Subsystem: "gate",
		Name:      "saturation_prevented_total",
		Help:      "Times a confidence cap lowered a raw calibrated score",
	})

	httpRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "precedent",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-IP rate limit",
	})
)

// ObserveSearch records one finished request.
func ObserveSearch(status string, took time.Duration, results int) {
	searchRequests.WithLabelValues(status).Inc()
	searchDuration.Observe(took.Seconds())
	searchResults.Observe(float64(results))
}

// ObserveSchedulerRun folds one run's trace into the scheduler counters.
func ObserveSchedulerRun(tr types.SchedulerTrace) {
	for _, att := range tr.Attempts {
		schedulerAttempts.WithLabelValues(string(att.Phase)).Inc()
	}
	if tr.StopReason != "" {
		schedulerStops.WithLabelValues(string(tr.StopReason)).Inc()
	}
	if tr.StopReason == types.StopBlocked && tr.BlockedKind != "" {
		schedulerBlocked.WithLabelValues(string(tr.BlockedKind)).Inc()
	}
}

// ObserveReasoner records one plan request outcome (cache_hit, generated,
// skipped, circuit_open, error).
func ObserveReasoner(outcome string) {
	reasonerPlans.WithLabelValues(outcome).Inc()
}

// AddSaturationPrevented bumps the calibration cap counter.
func AddSaturationPrevented(n int) {
	if n > 0 {
		gateSaturationPrevented.Add(float64(n))
	}
}

// ObserveRateLimited records one request rejected at the HTTP surface.
func ObserveRateLimited() { httpRateLimited.Inc() }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
