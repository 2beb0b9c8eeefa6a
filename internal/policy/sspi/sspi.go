// Package sspi implements the sspi ("single subflow per interface") sample
// policy of spec.md §4.H.
package sspi

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
	"github.com/mptcpd/mptcpd/internal/plugin"
)

// Commander is the subset of the path manager's command surface this
// policy calls back into.
type Commander interface {
	AddAddr(ctx context.Context, addr mptcpaddr.Addr, id uint8, token uint32) error
	RemoveSubflow(ctx context.Context, token uint32, local, remote mptcpaddr.Addr) error
	GetAddrID(addr mptcpaddr.Addr) uint8
}

// InterfaceLookup resolves which interface owns a local address, and lets
// the policy iterate every other known interface. Satisfied by plugin.Host
// in production; narrowed to this interface so the policy does not depend
// on the rest of Host's command surface.
type InterfaceLookup interface {
	ForEachInterface(visitor func(plugin.Interface))
}

type ifaceRecord struct {
	index  int
	tokens map[uint32]bool
}

// Policy is the sspi plugin state: one record per network-interface index
// on which a connection has been seen. A record is kept after its last
// token is removed.
type Policy struct {
	log *slog.Logger
	cmd Commander
	nm  InterfaceLookup

	mu    sync.Mutex
	byIdx map[int]*ifaceRecord
}

// New creates an sspi policy. cmd and nm are bound later, at Init time,
// from the Host the plugin loader passes in.
func New(log *slog.Logger) *Policy {
	return &Policy{log: log, byIdx: make(map[int]*ifaceRecord)}
}

// Descriptor returns the plugin descriptor to register with a registry.
func (p *Policy) Descriptor(priority int) plugin.Descriptor {
	return plugin.Descriptor{
		Name:        "sspi",
		Description: "single subflow per network interface",
		Priority:    priority,
		Init: func(r plugin.Registrar, host plugin.Host) error {
			p.cmd = host
			p.nm = host
			r.RegisterOps("sspi", p.Ops())
			return nil
		},
	}
}

// Ops returns the plugin handler set for this policy.
func (p *Policy) Ops() plugin.Ops {
	return plugin.Ops{
		NewConnection:    p.newConnection,
		NewSubflow:       p.newSubflow,
		ConnectionClosed: p.connectionClosed,
	}
}

// newConnection reverse-looks-up the interface owning local, records the
// token against it, then advertises every other interface's addresses
// (spec.md §4.H "sspi").
func (p *Policy) newConnection(token uint32, local, remote mptcpaddr.Addr, serverSide bool) {
	var owner *plugin.Interface
	var others []plugin.Interface

	p.nm.ForEachInterface(func(ifi plugin.Interface) {
		for _, a := range ifi.Addresses {
			if a.EqualIgnoringPort(local) {
				ifiCopy := ifi
				owner = &ifiCopy
				return
			}
		}
		others = append(others, ifi)
	})

	if owner == nil {
		if p.log != nil {
			p.log.Warn("sspi: no interface owns local address", "addr", local)
		}
		return
	}

	p.mu.Lock()
	rec, ok := p.byIdx[owner.Index]
	if !ok {
		rec = &ifaceRecord{index: owner.Index, tokens: make(map[uint32]bool)}
		p.byIdx[owner.Index] = rec
	}
	rec.tokens[token] = true
	p.mu.Unlock()

	for _, other := range others {
		if other.Index == owner.Index {
			continue
		}
		for _, addr := range other.Addresses {
			id := p.cmd.GetAddrID(addr)
			if err := p.cmd.AddAddr(context.Background(), addr, id, token); err != nil {
				if p.log != nil {
					p.log.Warn("sspi: add_addr failed", "token", token, "addr", addr, "error", err)
				}
			}
		}
	}
}

// newSubflow rejects a second subflow on an interface that already has one
// for the same token (spec.md §4.H "sspi").
func (p *Policy) newSubflow(token uint32, local, remote mptcpaddr.Addr, backup bool) {
	var owner *plugin.Interface
	p.nm.ForEachInterface(func(ifi plugin.Interface) {
		for _, a := range ifi.Addresses {
			if a.EqualIgnoringPort(local) {
				ifiCopy := ifi
				owner = &ifiCopy
				return
			}
		}
	})
	if owner == nil {
		return
	}

	p.mu.Lock()
	rec, ok := p.byIdx[owner.Index]
	alreadyHasOther := ok && len(rec.tokens) > 0 && !rec.tokens[token]
	p.mu.Unlock()

	if alreadyHasOther {
		_ = p.cmd.RemoveSubflow(context.Background(), token, local, remote)
	}
}

// connectionClosed removes token from every interface record (spec.md
// §4.H "sspi").
func (p *Policy) connectionClosed(token uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.byIdx {
		delete(rec.tokens, token)
	}
}
