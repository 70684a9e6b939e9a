package auth

import (
	"github.com/prometheus/client_golang/prometheus"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// Outcomes recorded by [Metrics].
const (
	OutcomeAllowed       = "allowed"
	OutcomeAnonymous     = "anonymous"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeForbidden     = "forbidden"
	OutcomeMappingFailed = "mapping_failed"
	OutcomeSuperseded    = "session_superseded"
)

// Metrics counts authentication decisions. It implements
// prometheus.Collector; register it once per registry. A nil *Metrics
// records nothing.
type Metrics struct {
	decisions     *prometheus.CounterVec
	verifyFailure *prometheus.CounterVec
}

// NewMetrics creates the collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messaged_auth_decisions_total",
				Help: "Authentication decisions by path requirement and outcome",
			},
			[]string{"requirement", "outcome"},
		),
		verifyFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "messaged_auth_verification_failures_total",
				Help: "Rejected bearer tokens by error code",
			},
			[]string{"code"},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.decisions.Describe(ch)
	m.verifyFailure.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.decisions.Collect(ch)
	m.verifyFailure.Collect(ch)
}

// RecordDecision counts one request outcome.
func (m *Metrics) RecordDecision(req Requirement, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(req), outcome).Inc()
}

// RecordVerificationFailure counts a rejected token by its error code.
func (m *Metrics) RecordVerificationFailure(err error) {
	if m == nil {
		return
	}
	code := sserr.GetCode(err)
	if code == "" {
		code = sserr.CodeInternal
	}
	m.verifyFailure.WithLabelValues(string(code)).Inc()
}
