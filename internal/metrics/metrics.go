// Package metrics holds the prometheus counters of the classifier. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters shared by the classifier components
type Metrics struct {
	Classified       *prometheus.CounterVec
	DomainLookups    *prometheus.CounterVec
	DegradedEnsemble prometheus.Counter
	Feedback         *prometheus.CounterVec
}

// New creates the counters and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_triage_classified_total",
			Help: "Messages classified, by deciding tier and category",
		}, []string{"tier", "category"}),
		DomainLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_triage_domain_lookups_total",
			Help: "Domain trust lookups, by source",
		}, []string{"source"}),
		DegradedEnsemble: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mail_triage_ensemble_degraded_total",
			Help: "Ensemble predictions made with at least one slot unavailable",
		}),
		Feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_triage_feedback_total",
			Help: "Feedback events, by action",
		}, []string{"action"}),
	}
	if reg != nil {
		reg.MustRegister(m.Classified, m.DomainLookups, m.DegradedEnsemble, m.Feedback)
	}
	return m
}

// TierResolved counts a classification
func (m *Metrics) TierResolved(tier, category string) {
	if m == nil {
		return
	}
	m.Classified.WithLabelValues(tier, category).Inc()
}

// DomainLookup counts a trust lookup answered from source
func (m *Metrics) DomainLookup(source string) {
	if m == nil {
		return
	}
	m.DomainLookups.WithLabelValues(source).Inc()
}

// EnsembleDegraded counts a degraded ensemble prediction
func (m *Metrics) EnsembleDegraded() {
	if m == nil {
		return
	}
	m.DegradedEnsemble.Inc()
}

// FeedbackEvent counts a reject or accept
func (m *Metrics) FeedbackEvent(action string) {
	if m == nil {
		return
	}
	m.Feedback.WithLabelValues(action).Inc()
}
