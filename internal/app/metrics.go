package app

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts attempt outcomes.
type Metrics struct {
	Started           prometheus.Counter
	Completed         *prometheus.CounterVec
	Terminated        *prometheus.CounterVec
	SubmissionFailed  prometheus.Counter
	LoadFailed        prometheus.Counter
	Score             prometheus.Histogram
	ListingCacheHits  *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
}

// NewMetrics registers the collectors with reg; a nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempts_started_total",
			Help: "Attempts that entered the active state",
		}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_attempts_completed_total",
			Help: "Completed attempts by pass/fail and trigger",
		}, []string{"passed", "timed_out"}),
		Terminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_attempts_terminated_total",
			Help: "Attempts terminated by the integrity monitor",
		}, []string{"signal"}),
		SubmissionFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempt_submission_failures_total",
			Help: "Completed attempts whose remote submission failed",
		}),
		LoadFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempt_load_failures_total",
			Help: "Sessions that could not load their quiz",
		}),
		Score: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_attempt_score_percent",
			Help:    "Percentage score of completed attempts",
			Buckets: []float64{20, 40, 60, 80, 100},
		}),
		ListingCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_listing_cache_total",
			Help: "Available-quiz listing lookups by cache result",
		}, []string{"result"}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_attempt_sessions_open",
			Help: "Attempt sessions currently open",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Started, m.Completed, m.Terminated, m.SubmissionFailed,
			m.LoadFailed, m.Score, m.ListingCacheHits, m.ActiveConnections)
	}
	return m
}

func boolLabel(b bool) string { return strconv.FormatBool(b) }
