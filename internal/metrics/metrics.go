// Package metrics exposes kegdb's internal counters as prometheus
// collectors. A Registry is self-contained (its own prometheus.Registry,
// not the global DefaultRegisterer) so tests and multiple store instances
// in one process don't collide. The `stats` command does not read these
// collectors: it counts the memtable's live entries itself, the same
// figure CurrItems tracks for scraping. The wire protocol has no HTTP
// surface of its own.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the gauges and counters kegdb updates as it runs.
type Registry struct {
	reg *prometheus.Registry

	CurrItems     prometheus.Gauge
	CommandsTotal *prometheus.CounterVec
	FlushTotal    prometheus.Counter
}

// New builds a Registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		CurrItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kegdb",
			Name:      "curr_items",
			Help:      "Number of live (non-tombstone) entries in the memtable.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kegdb",
			Name:      "commands_total",
			Help:      "Commands executed, by verb.",
		}, []string{"verb"}),
		FlushTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kegdb",
			Name:      "flush_total",
			Help:      "Memtable flushes to a new segment.",
		}),
	}

	reg.MustRegister(r.CurrItems, r.CommandsTotal, r.FlushTotal)
	return r
}

// Registerer exposes the underlying prometheus.Registerer so an embedder
// can additionally serve /metrics over HTTP if it wants to; kegdb's own
// wire protocol never does.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the underlying prometheus.Gatherer for the same reason.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
