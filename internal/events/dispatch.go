// Package events implements the dispatch half of spec.md §4.E: given a
// decoded kernel event and the plugin registry, resolve the bound plugin
// (or bind one, for CREATED) and invoke exactly one of its handlers.
// Attribute decoding itself lives in internal/netlinkpm; this package is
// the token→plugin routing layer spec.md calls "the decoder" in its
// dispatch description.
package events

import (
	"log/slog"

	mptcpdmetrics "github.com/mptcpd/mptcpd/internal/metrics"
	"github.com/mptcpd/mptcpd/internal/netlinkpm"
	"github.com/mptcpd/mptcpd/internal/plugin"
)

// Dispatcher routes decoded netlinkpm.Event values to the plugin bound to
// their token, per spec.md §4.E "Dispatch".
type Dispatcher struct {
	log      *slog.Logger
	registry *plugin.Registry
	metrics  *mptcpdmetrics.Collector
}

// New creates a dispatcher over registry. metrics may be nil, in which
// case dispatch counters are not recorded.
func New(log *slog.Logger, registry *plugin.Registry, metrics *mptcpdmetrics.Collector) *Dispatcher {
	return &Dispatcher{log: log, registry: registry, metrics: metrics}
}

// Dispatch routes one decoded event. For CREATED it resolves and binds a
// plugin; for every other class it looks the binding up by token and, on a
// miss, logs and drops the event (spec.md §8 scenario S4: "Unable to match
// token to plugin.").
func (d *Dispatcher) Dispatch(ev *netlinkpm.Event) {
	if d.metrics != nil {
		d.metrics.IncEventsReceived(ev.Class.String())
	}

	if ev.Class == netlinkpm.Created {
		d.dispatchCreated(ev)
		return
	}

	ops, ok := d.registry.Lookup(ev.Token)
	if !ok {
		if d.log != nil {
			d.log.Warn("Unable to match token to plugin.", "token", ev.Token, "event", ev.Class)
		}
		return
	}

	d.invoke(ops, ev)
}

func (d *Dispatcher) dispatchCreated(ev *netlinkpm.Event) {
	ops, name, ok := d.registry.OpsForStrategy(ev.Strategy)
	if !ok {
		if d.log != nil {
			d.log.Warn("no plugin available to bind new connection", "token", ev.Token, "strategy", ev.Strategy)
		}
		return
	}

	// Binding happens before the handler runs, per spec.md §4.E "The
	// token→ops binding is created before the plugin's handler is invoked."
	d.registry.Bind(ev.Token, ops, name)

	d.invoke(ops, ev)
}

func (d *Dispatcher) invoke(ops plugin.Ops, ev *netlinkpm.Event) {
	if d.metrics != nil {
		if name, ok := d.registry.NameForToken(ev.Token); ok {
			d.metrics.IncPluginDispatches(name)
		}
	}

	switch ev.Class {
	case netlinkpm.Created:
		if d.metrics != nil {
			d.metrics.IncConnections()
		}
		if ops.NewConnection != nil {
			ops.NewConnection(ev.Token, ev.LocalAddr, ev.RemoteAddr, ev.ServerSide)
		}
	case netlinkpm.Established:
		if ops.ConnectionEstablished != nil {
			ops.ConnectionEstablished(ev.Token, ev.LocalAddr, ev.RemoteAddr, ev.ServerSide)
		}
	case netlinkpm.Closed:
		if d.metrics != nil {
			d.metrics.DecConnections()
		}
		if ops.ConnectionClosed != nil {
			ops.ConnectionClosed(ev.Token)
		}
		d.registry.Unbind(ev.Token)
	case netlinkpm.Announced:
		if ops.NewAddress != nil {
			ops.NewAddress(ev.Token, ev.RemoteID, ev.RemoteAddr)
		}
	case netlinkpm.Removed:
		if ops.AddressRemoved != nil {
			ops.AddressRemoved(ev.Token, ev.RemoteID)
		}
	case netlinkpm.SubEstablished:
		if d.metrics != nil {
			d.metrics.IncSubflows()
		}
		if ops.NewSubflow != nil {
			ops.NewSubflow(ev.Token, ev.LocalAddr, ev.RemoteAddr, ev.Backup)
		}
	case netlinkpm.SubClosed:
		if d.metrics != nil {
			d.metrics.DecSubflows()
		}
		if ops.SubflowClosed != nil {
			ops.SubflowClosed(ev.Token, ev.LocalAddr, ev.RemoteAddr)
		}
	case netlinkpm.SubPriority:
		if ops.SubflowPriority != nil {
			ops.SubflowPriority(ev.Token, ev.LocalAddr, ev.RemoteAddr, ev.Backup)
		}
	}
}
