package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Issuance outcome label values.
const (
	OutcomeActive  = "active"
	OutcomeRevoked = "revoked"
	OutcomeError   = "error"
)

// Metrics holds Prometheus collectors for key issuance.
type Metrics struct {
	Issuance       *prometheus.CounterVec
	IssueDuration  prometheus.Histogram
	VerifyFailures prometheus.Counter
}

// NewMetrics registers issuance collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Issuance: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keyissuer_issuance_total",
			Help: "Issue-or-fetch requests by outcome",
		}, []string{"outcome"}),
		IssueDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "keyissuer_issue_duration_seconds",
			Help:    "Duration of issue-or-fetch store calls",
			Buckets: prometheus.DefBuckets,
		}),
		VerifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "keyissuer_identity_verify_failures_total",
			Help: "Sign-in callbacks where no verified identity could be resolved",
		}),
	}
}
