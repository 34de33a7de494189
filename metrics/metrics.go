package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_decisions_total",
			Help: "Admission decisions by result",
		},
		[]string{"result"},
	)

	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_rejections_total",
			Help: "Rejections by failing rule",
		},
		[]string{"rule"},
	)

	budgetRacesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_budget_races_total",
			Help: "Reservations denied by a concurrent proposal taking the remaining budget",
		},
	)

	dedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_dedup_hits_total",
			Help: "Redelivered proposals answered from the decision cache",
		},
	)

	publishRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_publish_retries_total",
			Help: "Decision publish attempts that had to be retried",
		},
	)

	publishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatekeeper_publish_failures_total",
			Help: "Decisions that exhausted their publish retry budget",
		},
	)

	reservationsReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatekeeper_reservations_released_total",
			Help: "Reservations released by cause",
		},
		[]string{"cause"},
	)

	heldRisk = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_risk_exposure",
			Help: "Held plus committed risk in account currency",
		},
	)

	portfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatekeeper_portfolio_value",
			Help: "Total portfolio value in account currency",
		},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatekeeper_breaker_state",
			Help: "Circuit breaker flags (1 = tripped)",
		},
		[]string{"flag"},
	)

	admitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gatekeeper_admit_duration_seconds",
			Help:    "End-to-end admission latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal)
	prometheus.MustRegister(rejectionsTotal)
	prometheus.MustRegister(budgetRacesTotal)
	prometheus.MustRegister(dedupHitsTotal)
	prometheus.MustRegister(publishRetriesTotal)
	prometheus.MustRegister(publishFailuresTotal)
	prometheus.MustRegister(reservationsReleased)
	prometheus.MustRegister(heldRisk)
	prometheus.MustRegister(portfolioValue)
	prometheus.MustRegister(breakerState)
	prometheus.MustRegister(admitDuration)
}

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }

// RecordDecision records an admission verdict.
func RecordDecision(result string) {
	decisionsTotal.WithLabelValues(result).Inc()
}

// RecordRejection records which rule rejected a proposal.
func RecordRejection(rule string) {
	rejectionsTotal.WithLabelValues(rule).Inc()
}

// RecordBudgetRace records a reservation lost to a concurrent proposal.
func RecordBudgetRace() { budgetRacesTotal.Inc() }

// RecordDedupHit records a redelivery served from the decision cache.
func RecordDedupHit() { dedupHitsTotal.Inc() }

// RecordPublishRetry records one publish retry.
func RecordPublishRetry() { publishRetriesTotal.Inc() }

// RecordPublishFailure records a decision that could not be published.
func RecordPublishFailure() { publishFailuresTotal.Inc() }

// RecordRelease records a reservation release by cause.
func RecordRelease(cause string) {
	reservationsReleased.WithLabelValues(cause).Inc()
}

// UpdatePortfolio refreshes the exposure and value gauges.
func UpdatePortfolio(exposure, total float64) {
	heldRisk.Set(exposure)
	portfolioValue.Set(total)
}

// UpdateBreaker reflects a breaker flag.
func UpdateBreaker(flag string, tripped bool) {
	v := 0.0
	if tripped {
		v = 1.0
	}
	breakerState.WithLabelValues(flag).Set(v)
}

// ObserveAdmit records one admission duration.
func ObserveAdmit(seconds float64) { admitDuration.Observe(seconds) }
