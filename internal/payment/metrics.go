package payment

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts gateway outcomes.
type Metrics struct {
	authorizations *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	swept          prometheus.Counter
}

// NewMetrics creates the gateway metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		authorizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meterhub_payment_authorizations_total",
				Help: "Total number of payment authorizations by strategy, outcome and reason",
			},
			[]string{"strategy", "outcome", "reason"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meterhub_payment_authorization_duration_seconds",
				Help:    "Time spent verifying payment claims in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meterhub_payment_claims_swept_total",
			Help: "Total number of expired used-claim entries removed from the ledger",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.authorizations, m.latency, m.swept)
	}
	return m
}

func (m *Metrics) observe(strategy, outcome, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(strategy, outcome, reason).Inc()
	m.latency.WithLabelValues(strategy).Observe(seconds)
}

func (m *Metrics) addSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
