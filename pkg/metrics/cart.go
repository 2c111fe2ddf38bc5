package metrics

import "github.com/prometheus/client_golang/prometheus"

// CartMetrics tracks cart mutation outcomes and optimistic-lock churn.
type CartMetrics struct {
	mutations *prometheus.CounterVec
	conflicts *prometheus.CounterVec
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart mutations by operation and outcome.",
	}, []string{"op", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_tx_conflicts_total",
		Help: "Optimistic transaction conflicts that triggered a retry.",
	}, []string{"op"})
	reg.MustRegister(mutations, conflicts)
	return &CartMetrics{mutations: mutations, conflicts: conflicts}
}

// IncMutation counts one finished mutation attempt for op with the outcome label.
func (c *CartMetrics) IncMutation(op, outcome string) {
	if c == nil || c.mutations == nil {
		return
	}
	c.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

// IncConflict counts one lost WATCH that will be retried.
func (c *CartMetrics) IncConflict(op string) {
	if c == nil || c.conflicts == nil {
		return
	}
	c.conflicts.WithLabelValues(normalizeLabel(op)).Inc()
}
