package triage

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks the Service and Sweeper fire for instrumentation.
// Nil fields are skipped.
type Hooks struct {
	OnAssessment func(domain, outcome string)
	OnCaseClosed func(status, tier string, ageSeconds float64)
	OnSweep      func(durationSeconds float64, expired, failed int)
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	AssessmentsTotal *prometheus.CounterVec
	CasesClosedTotal *prometheus.CounterVec
	CaseAge          *prometheus.HistogramVec
	SweepDuration    prometheus.Histogram
	SweepExpired     prometheus.Counter
	SweepFailures    prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AssessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_assessments_total",
			Help: "Total assessments submitted by domain and outcome.",
		}, []string{"domain", "outcome"}),
		CasesClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_cases_closed_total",
			Help: "Total cases leaving the open state by resulting status and tier.",
		}, []string{"status", "tier"}),
		CaseAge: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wardwatch_case_age_seconds",
			Help:    "Age of a case when it was acknowledged, resolved, or expired.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 14), // 30s .. ~68h
		}, []string{"status"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wardwatch_sweep_duration_seconds",
			Help:    "Duration of SLA sweep ticks in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}),
		SweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardwatch_sweep_expired_total",
			Help: "Total cases expired by the SLA sweeper.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wardwatch_sweep_failures_total",
			Help: "Total per-case sweep failures (retried next tick).",
		}),
	}

	reg.MustRegister(
		m.AssessmentsTotal,
		m.CasesClosedTotal,
		m.CaseAge,
		m.SweepDuration,
		m.SweepExpired,
		m.SweepFailures,
	)

	return m
}

// Hooks returns Hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAssessment: func(domain, outcome string) {
			m.AssessmentsTotal.WithLabelValues(domain, outcome).Inc()
		},
		OnCaseClosed: func(status, tier string, ageSeconds float64) {
			m.CasesClosedTotal.WithLabelValues(status, tier).Inc()
			m.CaseAge.WithLabelValues(status).Observe(ageSeconds)
		},
		OnSweep: func(durationSeconds float64, expired, failed int) {
			m.SweepDuration.Observe(durationSeconds)
			m.SweepExpired.Add(float64(expired))
			m.SweepFailures.Add(float64(failed))
		},
	}
}
