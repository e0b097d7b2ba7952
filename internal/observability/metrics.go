package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine-level counters exposed on /metrics.
type Metrics struct {
	UsageIngested    prometheus.Counter
	PaymentOutcomes  *prometheus.CounterVec
	EventsReconciled *prometheus.CounterVec
	DunningEscalated prometheus.Counter
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		UsageIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tideway_usage_records_total",
			Help: "Usage records ingested.",
		}),
		PaymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tideway_payment_attempts_total",
			Help: "Payment attempts by outcome.",
		}, []string{"outcome"}),
		EventsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tideway_processor_events_total",
			Help: "Processor events applied by type.",
		}, []string{"type", "result"}),
		DunningEscalated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tideway_dunning_exhaustions_total",
			Help: "Subscriptions canceled after dunning exhaustion.",
		}),
	}

	reg.MustRegister(m.UsageIngested, m.PaymentOutcomes, m.EventsReconciled, m.DunningEscalated)
	return m
}
