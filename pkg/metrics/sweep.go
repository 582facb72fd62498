package metrics

import "github.com/prometheus/client_golang/prometheus"

// SweepMetrics counts per-item renewal sweep outcomes.
type SweepMetrics struct {
	items *prometheus.CounterVec
}

// NewSweepMetrics registers renewal sweep counters on the provided registerer.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		return &SweepMetrics{}
	}
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "renewal_sweep_items_total",
		Help: "Renewal sweep items by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(items)
	return &SweepMetrics{items: items}
}

// IncItem records one processed sweep item with the given outcome.
func (s *SweepMetrics) IncItem(outcome string) {
	if s == nil || s.items == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	s.items.WithLabelValues(outcome).Inc()
}
