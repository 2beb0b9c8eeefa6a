// Package ndiffports implements the ndiffports sample policy of spec.md
// §4.H: a fixed N subflows per connection, port-multiplexed on the same
// interface pair.
package ndiffports

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
	"github.com/mptcpd/mptcpd/internal/plugin"
)

// subflowTarget is the compile-time subflow count spec.md §4.H fixes at 2
// for this source ("N is a compile-time constant (2 in this source)").
const subflowTarget = 2

// rejectWindow is the "closed within 10s of opening" window spec.md §4.H
// attributes to peer_rejected_consecutive.
const rejectWindow = 10 * time.Second

// Commander is the subset of the path manager's command surface this
// policy calls back into.
type Commander interface {
	AddSubflow(ctx context.Context, token uint32, localID, remoteID uint8, local, remote mptcpaddr.Addr, backup bool) error
	RemoveSubflow(ctx context.Context, token uint32, local, remote mptcpaddr.Addr) error
}

type subflow struct {
	local, remote mptcpaddr.Addr
	lastChange    time.Time
}

type connection struct {
	laddr, raddr mptcpaddr.Addr
	serverSide   bool
	active       int
	max          int
	subflows     []subflow

	// peerRejectedConsecutive is incremented but never read, matching
	// spec.md §9 open question 2: preserved for observation only, no
	// action is taken on it.
	peerRejectedConsecutive int
}

// Policy is the ndiffports plugin state: one connection record per live
// token.
type Policy struct {
	log *slog.Logger
	cmd Commander

	mu    sync.Mutex
	conns map[uint32]*connection
}

// New creates an ndiffports policy. cmd is bound later, at Init time, from
// the Host the plugin loader passes in (spec.md §9: "pass the
// path-manager handle explicitly to init").
func New(log *slog.Logger) *Policy {
	return &Policy{log: log, conns: make(map[uint32]*connection)}
}

// Descriptor returns the plugin descriptor to register with a plugin
// registry (used directly by in-process callers; the plugins/ndiffports
// shared-object wrapper exports an equivalent descriptor for dlopen use).
func (p *Policy) Descriptor(priority int) plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "ndiffports",
		Description: "fixed N additional subflows per connection, port-multiplexed",
		Priority:    priority,
		Init: func(r plugin.Registrar, host plugin.Host) error {
			p.cmd = host
			r.RegisterOps("ndiffports", p.Ops())
			return nil
		},
	}
}

// Ops returns the plugin handler set for this policy.
func (p *Policy) Ops() plugin.Ops {
	return plugin.Ops{
		NewConnection:         p.newConnection,
		ConnectionEstablished: p.connectionEstablished,
		ConnectionClosed:      p.connectionClosed,
		NewSubflow:            p.newSubflow,
		SubflowClosed:         p.subflowClosed,
	}
}

func (p *Policy) newConnection(token uint32, local, remote mptcpaddr.Addr, serverSide bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[token] = &connection{laddr: local, raddr: remote, serverSide: serverSide, max: subflowTarget}
}

func (p *Policy) connectionEstablished(token uint32, local, remote mptcpaddr.Addr, serverSide bool) {
	p.mu.Lock()
	c, ok := p.conns[token]
	if !ok {
		c = &connection{laddr: local, raddr: remote, serverSide: serverSide, max: subflowTarget}
		p.conns[token] = c
	}
	needMore := !c.serverSide && c.active < c.max
	laddr := c.laddr
	raddr := c.raddr
	p.mu.Unlock()

	if needMore {
		p.requestSubflow(token, laddr, raddr)
	}
}

func (p *Policy) requestSubflow(token uint32, laddr, raddr mptcpaddr.Addr) {
	// Port cleared so the kernel assigns a fresh ephemeral port, per
	// spec.md §4.H.
	local := laddr.WithPort(0)
	if err := p.cmd.AddSubflow(context.Background(), token, 1, 0, local, raddr, false); err != nil {
		if p.log != nil {
			p.log.Warn("ndiffports: add_subflow failed", "token", token, "error", err)
		}
	}
}

func (p *Policy) newSubflow(token uint32, local, remote mptcpaddr.Addr, backup bool) {
	p.mu.Lock()
	c, ok := p.conns[token]
	if !ok {
		p.mu.Unlock()
		return
	}

	matches := local.EqualIgnoringPort(c.laddr) && remote.EqualIgnoringPort(c.raddr)
	if !matches || c.active >= c.max {
		p.mu.Unlock()
		if p.cmd != nil {
			_ = p.cmd.RemoveSubflow(context.Background(), token, local, remote)
		}
		return
	}

	c.active++
	c.subflows = append(c.subflows, subflow{local: local, remote: remote, lastChange: time.Now()})
	p.mu.Unlock()
}

func (p *Policy) subflowClosed(token uint32, local, remote mptcpaddr.Addr) {
	p.mu.Lock()
	c, ok := p.conns[token]
	if !ok {
		p.mu.Unlock()
		return
	}

	for i, sf := range c.subflows {
		if sf.local.EqualIgnoringPort(local) && sf.remote.EqualIgnoringPort(remote) {
			if time.Since(sf.lastChange) < rejectWindow {
				c.peerRejectedConsecutive++
			}
			c.subflows = append(c.subflows[:i], c.subflows[i+1:]...)
			break
		}
	}
	if c.active > 0 {
		c.active--
	}
	needMore := !c.serverSide && c.active < c.max
	laddr, raddr := c.laddr, c.raddr
	p.mu.Unlock()

	if needMore {
		p.requestSubflow(token, laddr, raddr)
	}
}

func (p *Policy) connectionClosed(token uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, token)
}
