// Package metrics exposes pamflow counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pamflow"

// Transition outcomes
const (
	TransitionAllowed  = "allowed"
	TransitionRejected = "rejected"
	TransitionRelaxed  = "relaxed"
)

// Metrics holds the service counters on a private registry. It satisfies
// the identifier and scenario Metrics interfaces.
type Metrics struct {
	registry *prometheus.Registry

	identifiersIssued    *prometheus.CounterVec // By type and mode
	identifiersExhausted *prometheus.CounterVec // By type
	validatedMessages    *prometheus.CounterVec // By validator and result
	validationIssues     *prometheus.CounterVec // By validator and severity
	transitions          *prometheus.CounterVec // By outcome
	messagesShifted      prometheus.Counter
	replaySteps          *prometheus.CounterVec // By status
}

// New creates and registers the metrics. Go runtime and process collectors
// are registered alongside.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		identifiersIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identifier",
			Name:      "issued_total",
			Help:      "Total number of identifiers issued",
		}, []string{"type", "mode"}),

		identifiersExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identifier",
			Name:      "exhausted_total",
			Help:      "Total number of issuance attempts that found no free value",
		}, []string{"type"}),

		validatedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "messages_total",
			Help:      "Total number of messages validated",
		}, []string{"validator", "result"}), // result: valid, invalid

		validationIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "issues_total",
			Help:      "Total number of validation issues reported",
		}, []string{"validator", "severity"}),

		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transition",
			Name:      "checks_total",
			Help:      "Total number of transition checks",
		}, []string{"outcome"}),

		messagesShifted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "messages_shifted_total",
			Help:      "Total number of messages passed through the time shift",
		}),

		replaySteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scenario",
			Name:      "replay_steps_total",
			Help:      "Total number of replayed messages",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.identifiersIssued,
		m.identifiersExhausted,
		m.validatedMessages,
		m.validationIssues,
		m.transitions,
		m.messagesShifted,
		m.replaySteps,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) IdentifierIssued(idType, mode string) {
	m.identifiersIssued.WithLabelValues(idType, mode).Inc()
}

func (m *Metrics) IdentifierExhausted(idType string) {
	m.identifiersExhausted.WithLabelValues(idType).Inc()
}

// ValidationResult records one validated message.
func (m *Metrics) ValidationResult(validator string, valid bool, errors, warnings int) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.validatedMessages.WithLabelValues(validator, result).Inc()
	m.validationIssues.WithLabelValues(validator, "error").Add(float64(errors))
	m.validationIssues.WithLabelValues(validator, "warning").Add(float64(warnings))
}

// Transition records the outcome of one transition check.
func (m *Metrics) Transition(outcome string) {
	m.transitions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MessagesShifted(n int) {
	m.messagesShifted.Add(float64(n))
}

func (m *Metrics) ReplayStep(status string) {
	m.replaySteps.WithLabelValues(status).Inc()
}
