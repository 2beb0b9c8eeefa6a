// Package mptcpdmetrics exposes Prometheus metrics for the mptcpd path
// manager: subflow/address counters, plugin dispatch counts, and netlink
// family readiness.
package mptcpdmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "mptcpd"
	subsystem = "pm"
)

// Label names for path-manager metrics.
const (
	labelDialect = "dialect"
	labelClass   = "class"
	labelPlugin  = "plugin"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Path Manager Metrics
// -------------------------------------------------------------------------

// Collector holds all mptcpd Prometheus metrics.
//
//   - Connections/Subflows/Addresses gauges track live path-manager state.
//   - EventsReceived counts decoded netlink events per class.
//   - PluginDispatches counts ops invocations routed to each loaded plugin.
//   - FamilyReady reports whether the active netlink family is attached.
type Collector struct {
	// Connections tracks the number of currently tracked MPTCP connections
	// (tokens). Incremented on "created", decremented on "closed".
	Connections prometheus.Gauge

	// Subflows tracks the number of currently established subflows across
	// all connections.
	Subflows prometheus.Gauge

	// Addresses tracks the number of locally announced addresses currently
	// held in the address-ID manager.
	Addresses prometheus.Gauge

	// EventsReceived counts decoded netlink path-manager events, labeled by
	// event class (created, established, closed, ...).
	EventsReceived *prometheus.CounterVec

	// EventsDropped counts netlink messages that failed required-attribute
	// validation and were discarded.
	EventsDropped *prometheus.CounterVec

	// PluginDispatches counts ops callbacks invoked on a loaded plugin.
	PluginDispatches *prometheus.CounterVec

	// FamilyReady reports 1 if the generic netlink family for the selected
	// dialect is currently attached, 0 otherwise.
	FamilyReady *prometheus.GaugeVec
}

// NewCollector creates a Collector with all mptcpd metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
//
// All metrics are created with the "mptcpd_pm_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Connections,
		c.Subflows,
		c.Addresses,
		c.EventsReceived,
		c.EventsDropped,
		c.PluginDispatches,
		c.FamilyReady,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	return &Collector{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connections",
			Help:      "Number of currently tracked MPTCP connections.",
		}),

		Subflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subflows",
			Help:      "Number of currently established MPTCP subflows.",
		}),

		Addresses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "addresses",
			Help:      "Number of locally announced addresses held by the address-ID manager.",
		}),

		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_received_total",
			Help:      "Total decoded netlink path-manager events, by class.",
		}, []string{labelClass}),

		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_dropped_total",
			Help:      "Total netlink messages dropped for missing required attributes.",
		}, []string{labelClass}),

		PluginDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "plugin_dispatches_total",
			Help:      "Total ops callbacks dispatched to a loaded plugin.",
		}, []string{labelPlugin}),

		FamilyReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "family_ready",
			Help:      "1 if the generic netlink family for the dialect is attached, 0 otherwise.",
		}, []string{labelDialect}),
	}
}

// -------------------------------------------------------------------------
// Connection / Subflow / Address Gauges
// -------------------------------------------------------------------------

// IncConnections increments the tracked-connections gauge.
// Called when the path manager observes a "created" event.
func (c *Collector) IncConnections() {
	c.Connections.Inc()
}

// DecConnections decrements the tracked-connections gauge.
// Called when the path manager observes a "closed" event.
func (c *Collector) DecConnections() {
	c.Connections.Dec()
}

// IncSubflows increments the established-subflows gauge.
func (c *Collector) IncSubflows() {
	c.Subflows.Inc()
}

// DecSubflows decrements the established-subflows gauge.
func (c *Collector) DecSubflows() {
	c.Subflows.Dec()
}

// SetAddresses sets the address-ID manager's current address count.
func (c *Collector) SetAddresses(n int) {
	c.Addresses.Set(float64(n))
}

// -------------------------------------------------------------------------
// Event Counters
// -------------------------------------------------------------------------

// IncEventsReceived increments the decoded-events counter for the given
// event class.
func (c *Collector) IncEventsReceived(class string) {
	c.EventsReceived.WithLabelValues(class).Inc()
}

// IncEventsDropped increments the dropped-events counter for the given
// event class.
func (c *Collector) IncEventsDropped(class string) {
	c.EventsDropped.WithLabelValues(class).Inc()
}

// -------------------------------------------------------------------------
// Plugin Dispatch
// -------------------------------------------------------------------------

// IncPluginDispatches increments the dispatch counter for the named
// plugin's ops handler set.
func (c *Collector) IncPluginDispatches(plugin string) {
	c.PluginDispatches.WithLabelValues(plugin).Inc()
}

// -------------------------------------------------------------------------
// Family Readiness
// -------------------------------------------------------------------------

// SetFamilyReady records the attach state of the named dialect's netlink
// family (1 = attached, 0 = detached).
func (c *Collector) SetFamilyReady(dialect string, ready bool) {
	v := 0.0
	if ready {
		v = 1.0
	}
	c.FamilyReady.WithLabelValues(dialect).Set(v)
}
