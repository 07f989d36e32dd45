package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/crmarques/portsync/reconciler"
)

// Metrics counts reconciliation outcomes for long batch runs. A nil
// *Metrics is a valid no-op receiver.
type Metrics struct {
	outcomes *prometheus.CounterVec
	plans    *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portsync",
			Name:      "reconcile_outcomes_total",
			Help:      "Reconciliation outcomes by resource kind and result.",
		}, []string{"kind", "outcome"}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portsync",
			Name:      "reconcile_plans_total",
			Help:      "Plans built by resource kind and action.",
		}, []string{"kind", "action"}),
	}
	registerer.MustRegister(metrics.outcomes, metrics.plans)
	return metrics
}

func (m *Metrics) observeOutcome(outcome Outcome) {
	if m == nil {
		return
	}

	kind := string(outcome.Ref.Kind)
	if outcome.Plan != nil {
		m.plans.WithLabelValues(kind, string(outcome.Plan.Action)).Inc()
	}

	switch {
	case outcome.Err != nil:
		m.outcomes.WithLabelValues(kind, "error").Inc()
	case outcome.Apply != nil:
		m.outcomes.WithLabelValues(kind, string(outcome.Apply.Outcome)).Inc()
	default:
		m.outcomes.WithLabelValues(kind, string(reconciler.OutcomeSkipped)).Inc()
	}
}
