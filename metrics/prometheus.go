// Package metrics implements core.Metrics with Prometheus collectors.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/najoast/netsim/core"
	"github.com/najoast/netsim/topology"
)

// simMetrics implements core.Metrics using Prometheus.
type simMetrics struct {
	packetsForwarded *prometheus.CounterVec
	packetsDropped   *prometheus.CounterVec
	mailboxDepth     *prometheus.GaugeVec
	actorsSpawned    *prometheus.CounterVec
	phase            *prometheus.GaugeVec
	eventsTotal      *prometheus.CounterVec
}

// phases lists the bootstrap phases in order. The phase gauge is 1 for the
// latest phase reached and 0 for the others.
var phases = []string{"configured", "wire_built", "relays_launched", "endpoints_launched", "supervisor_launched"}

// New creates a Prometheus implementation of core.Metrics and registers its
// collectors with reg.
func New(reg prometheus.Registerer) core.Metrics {
	m := &simMetrics{
		packetsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netsim_packets_forwarded_total",
			Help: "Total number of packets handed to a neighbor",
		}, []string{"node", "kind"}),

		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netsim_packets_dropped_total",
			Help: "Total number of fragments dropped by relays",
		}, []string{"node"}),

		mailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netsim_mailbox_depth",
			Help: "Current data mailbox queue depth",
		}, []string{"node"}),

		actorsSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netsim_actors_spawned_total",
			Help: "Total number of actors started",
		}, []string{"role", "kind"}),

		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netsim_bootstrap_phase",
			Help: "Latest bootstrap phase reached",
		}, []string{"phase"}),

		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netsim_supervisor_events_total",
			Help: "Total number of events observed by the supervisor",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.packetsForwarded,
		m.packetsDropped,
		m.mailboxDepth,
		m.actorsSpawned,
		m.phase,
		m.eventsTotal,
	)

	for _, p := range phases {
		m.phase.WithLabelValues(p).Set(0)
	}
	return m
}

func (m *simMetrics) PacketForwarded(node topology.NodeID, kind core.PacketKind) {
	m.packetsForwarded.WithLabelValues(nodeLabel(node), kind.String()).Inc()
}

func (m *simMetrics) PacketDropped(node topology.NodeID) {
	m.packetsDropped.WithLabelValues(nodeLabel(node)).Inc()
}

func (m *simMetrics) MailboxDepth(node topology.NodeID, depth int) {
	m.mailboxDepth.WithLabelValues(nodeLabel(node)).Set(float64(depth))
}

func (m *simMetrics) ActorSpawned(role topology.Role, kind string) {
	m.actorsSpawned.WithLabelValues(role.String(), kind).Inc()
}

func (m *simMetrics) PhaseReached(phase string) {
	for _, p := range phases {
		m.phase.WithLabelValues(p).Set(0)
	}
	m.phase.WithLabelValues(phase).Set(1)
}

func (m *simMetrics) EventObserved(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

func nodeLabel(id topology.NodeID) string {
	return strconv.Itoa(int(id))
}

var _ core.Metrics = (*simMetrics)(nil)
