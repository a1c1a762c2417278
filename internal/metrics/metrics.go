// Package metrics exposes spec §6's stats() surface to Prometheus.
// Message and error tallies are kept in a counter.Counter (materially
// adapted to be concurrency-safe, see DESIGN.md), registered here behind
// a prometheus.Collector the way marmos91/dittofs's pkg/metrics/prometheus
// package registers its own per-subsystem collectors with promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routed-project/routed/counter"
)

// taggedCounter pairs a counter.Counter with the label values that
// identify it on scrape, so one Describe/Collect pair can back an
// entire CounterVec-shaped metric without prometheus.CounterVec's own
// bookkeeping (counter.Counter already does the increment/value part;
// this only adds the label identity prometheus needs).
type taggedCounter struct {
	c      *counter.Counter
	desc   *prometheus.Desc
	labels []string
}

func (t *taggedCounter) Describe(ch chan<- *prometheus.Desc) { ch <- t.desc }

func (t *taggedCounter) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(t.desc, prometheus.CounterValue, float64(t.c.Value()), t.labels...)
}

// Registry owns every collector this daemon registers, and the message
// and error counters each protocol engine increments directly (spec §6
// stats(): "message counters per protocol").
type Registry struct {
	reg *prometheus.Registry

	messageCounters map[string]*counter.Counter // keyed "proto|pdu_type"
	errorCounters   map[string]*counter.Counter // keyed "proto|kind"

	neighborState *prometheus.GaugeVec
}

// New builds a Registry on a fresh prometheus registry holding only the
// routing-specific collectors below; the Go runtime and process
// collectors are not registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg:             reg,
		messageCounters: make(map[string]*counter.Counter),
		errorCounters:   make(map[string]*counter.Counter),
		neighborState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "routed_neighbor_state",
			Help: "Current FSM/adjacency state per neighbor, 1 for the active state and 0 for all others.",
		}, []string{"protocol", "interface", "neighbor", "state"}),
	}
	return r
}

// MessageCounter returns the shared counter.Counter for (protocol,
// pduType), creating and registering it on first use. Engines call
// Increment() on the returned counter directly from their receive/send
// paths, the same call site shape as counter.Counter.Increment() elsewhere
// in this tree.
func (r *Registry) MessageCounter(protocol, pduType string) *counter.Counter {
	return r.counterFor(r.messageCounters, "routed_messages_total", "Total PDUs sent or received, by protocol and type.", protocol, pduType, "protocol", "pdu_type")
}

// ErrorCounter returns the shared counter.Counter for (protocol, kind),
// one per internal/errs.Kind value observed for that protocol.
func (r *Registry) ErrorCounter(protocol, kind string) *counter.Counter {
	return r.counterFor(r.errorCounters, "routed_errors_total", "Total errors observed, by protocol and kind.", protocol, kind, "protocol", "kind")
}

func (r *Registry) counterFor(table map[string]*counter.Counter, name, help, a, b, labelA, labelB string) *counter.Counter {
	key := a + "|" + b
	if c, ok := table[key]; ok {
		return c
	}
	c := counter.New()
	table[key] = c
	r.reg.MustRegister(&taggedCounter{
		c:      c,
		desc:   prometheus.NewDesc(name, help, []string{labelA, labelB}, nil),
		labels: []string{a, b},
	})
	return c
}

// SetNeighborState records a neighbor/adjacency/peer's current textual
// state (spec §6 "ospf.neighbors()"/"isis.*"/"bgp.*"), clearing any
// previously reported state for the same identity first so stale gauge
// series don't linger after a transition.
func (r *Registry) SetNeighborState(protocol, iface, neighbor, state string, allStates []string) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.neighborState.WithLabelValues(protocol, iface, neighbor, s).Set(v)
	}
}

// Handler serves the Prometheus text exposition format (spec §6 stats(),
// scraped rather than polled).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Snapshot is the in-process equivalent of spec §6's stats() call, for
// callers that want counter values without an HTTP round trip (e.g. the
// manager's own observation surface).
type Snapshot struct {
	Messages map[string]uint64 // "proto|pdu_type" -> count
	Errors   map[string]uint64 // "proto|kind" -> count
}

func (r *Registry) Snapshot() Snapshot {
	snap := Snapshot{
		Messages: make(map[string]uint64, len(r.messageCounters)),
		Errors:   make(map[string]uint64, len(r.errorCounters)),
	}
	for k, c := range r.messageCounters {
		snap.Messages[k] = c.Value()
	}
	for k, c := range r.errorCounters {
		snap.Errors[k] = c.Value()
	}
	return snap
}
