package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docconvert"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Conversion jobs by terminal status and method",
		},
		[]string{"status", "method"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of conversion jobs by method",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"method"},
	)

	recognitionReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_requests_total",
			Help:      "Remote recognition calls by result",
		},
		[]string{"result"},
	)

	recognitionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_request_duration_seconds",
			Help:      "Duration of remote recognition calls",
			Buckets:   []float64{1, 2, 5, 10, 20, 40, 80, 160, 300},
		},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Recognition retries by reason (rate_limit, transient)",
		},
		[]string{"reason"},
	)

	creditsDebited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_debited_total",
			Help:      "Credits debited for remote recognition",
		},
	)

	creditDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_denials_total",
			Help:      "Jobs refused because the ledger denied the estimate",
		},
	)

	patternsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_recorded_total",
			Help:      "Reviewer-confirmed corrections submitted to the pattern store",
		},
	)

	patternsDeactivated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_deactivated_total",
			Help:      "Patterns deactivated by cleanup, by source",
		},
		[]string{"source"},
	)

	reviewDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_decisions_total",
			Help:      "Persisted review decisions by disposition",
		},
		[]string{"decision"},
	)
)

var registerOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(jobsTotal, jobDuration, recognitionReqs, recognitionLatency, retriesTotal,
			creditsDebited, creditDenials, patternsRecorded, patternsDeactivated, reviewDecisions)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveJob(status, method string, dur time.Duration) {
	jobsTotal.WithLabelValues(status, method).Inc()
	if method != "" {
		jobDuration.WithLabelValues(method).Observe(dur.Seconds())
	}
}

func ObserveRecognition(result string, dur time.Duration) {
	recognitionReqs.WithLabelValues(result).Inc()
	recognitionLatency.Observe(dur.Seconds())
}

func IncRetry(reason string) { retriesTotal.WithLabelValues(reason).Inc() }

func AddDebited(n int) {
	if n > 0 {
		creditsDebited.Add(float64(n))
	}
}

func IncCreditDenial() { creditDenials.Inc() }

func IncPatternRecorded() { patternsRecorded.Inc() }

func AddDeactivated(source string, n int) {
	if n > 0 {
		patternsDeactivated.WithLabelValues(source).Add(float64(n))
	}
}

func IncDecision(decision string) { reviewDecisions.WithLabelValues(decision).Inc() }
