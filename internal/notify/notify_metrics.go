package notify

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks the Dispatcher fires for instrumentation.
// Nil fields are skipped.
type Hooks struct {
	OnDispatch  func(channel, outcome string)
	OnAttempt   func(channel, result string, durationSeconds float64)
	OnExhausted func(rec Record)
}

// Metrics holds Prometheus metrics for notification delivery.
type Metrics struct {
	DispatchTotal  *prometheus.CounterVec
	AttemptsTotal  *prometheus.CounterVec
	SendDuration   *prometheus.HistogramVec
	ExhaustedTotal *prometheus.CounterVec
}

// NewMetrics registers and returns notification metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_notify_dispatch_total",
			Help: "Notification requests by channel and outcome (queued or suppressed).",
		}, []string{"channel", "outcome"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_notify_attempts_total",
			Help: "Notification send attempts by channel and result.",
		}, []string{"channel", "result"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wardwatch_notify_send_duration_seconds",
			Help:    "Duration of a single channel send.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms .. ~10s
		}, []string{"channel"}),
		ExhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_notify_exhausted_total",
			Help: "Notifications that failed every attempt. Each one is an unalerted case.",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.DispatchTotal,
		m.AttemptsTotal,
		m.SendDuration,
		m.ExhaustedTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDispatch: func(channel, outcome string) {
			m.DispatchTotal.WithLabelValues(channel, outcome).Inc()
		},
		OnAttempt: func(channel, result string, durationSeconds float64) {
			m.AttemptsTotal.WithLabelValues(channel, result).Inc()
			m.SendDuration.WithLabelValues(channel).Observe(durationSeconds)
		},
		OnExhausted: func(rec Record) {
			m.ExhaustedTotal.WithLabelValues(rec.Channel).Inc()
		},
	}
}
