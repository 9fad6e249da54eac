package vnode

import "github.com/prometheus/client_golang/prometheus"

// Stats is the set of per-vnode Prometheus counters (C11). One Stats is
// shared by every vnode in a process; partition is a label so /metrics
// breaks activity down per partition. The exchange counter is registered
// but no code in this module increments it, so it always reads zero.
type Stats struct {
	reads    *prometheus.CounterVec
	writes   *prometheus.CounterVec
	repairs  *prometheus.CounterVec
	errors   *prometheus.CounterVec
	exchange *prometheus.CounterVec
}

// NewStats registers the vnode counters against reg. Call once per
// process and pass the result to every Vnode.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvring_vnode_reads_total",
			Help: "Reads served by a vnode.",
		}, []string{"partition"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvring_vnode_writes_total",
			Help: "Writes served by a vnode.",
		}, []string{"partition"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvring_vnode_repairs_total",
			Help: "Repair writes applied by a vnode.",
		}, []string{"partition"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvring_vnode_errors_total",
			Help: "Storage errors surfaced by a vnode.",
		}, []string{"partition", "kind"}),
		exchange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvring_vnode_exchanges_total",
			Help: "Anti-entropy exchanges a vnode participated in.",
		}, []string{"partition"}),
	}
	reg.MustRegister(s.reads, s.writes, s.repairs, s.errors, s.exchange)
	return s
}

// NewNoopStats returns a Stats registered against a private registry, for
// tests and standalone vnode construction that don't care about metrics.
func NewNoopStats() *Stats {
	return NewStats(prometheus.NewRegistry())
}
