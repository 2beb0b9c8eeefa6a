package sspi_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
	"github.com/mptcpd/mptcpd/internal/plugin"
	"github.com/mptcpd/mptcpd/internal/policy/sspi"
)

func addr(ip string, port uint16) mptcpaddr.Addr {
	return mptcpaddr.New(netip.MustParseAddr(ip), port)
}

type addAddrCall struct {
	addr  mptcpaddr.Addr
	id    uint8
	token uint32
}

type fakeHost struct {
	mu         sync.Mutex
	added      []addAddrCall
	removedSub int
	interfaces []plugin.Interface

	nextID uint8 // fakes idm.Manager's minimum-unused allocation, starting at 1
	ids    map[mptcpaddr.Addr]uint8
}

func (h *fakeHost) AddAddr(_ context.Context, a mptcpaddr.Addr, id uint8, token uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.added = append(h.added, addAddrCall{addr: a, id: id, token: token})
	return nil
}

func (h *fakeHost) GetAddrID(a mptcpaddr.Addr) uint8 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ids == nil {
		h.ids = make(map[mptcpaddr.Addr]uint8)
	}
	if id, ok := h.ids[a]; ok {
		return id
	}
	h.nextID++
	h.ids[a] = h.nextID
	return h.nextID
}
func (h *fakeHost) RemoveAddr(context.Context, uint8, uint32) error { return nil }
func (h *fakeHost) AddSubflow(context.Context, uint32, uint8, uint8, mptcpaddr.Addr, mptcpaddr.Addr, bool) error {
	return nil
}
func (h *fakeHost) RemoveSubflow(context.Context, uint32, mptcpaddr.Addr, mptcpaddr.Addr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removedSub++
	return nil
}
func (h *fakeHost) SetBackup(context.Context, uint32, mptcpaddr.Addr, mptcpaddr.Addr, bool) error {
	return nil
}
func (h *fakeHost) ForEachInterface(visitor func(plugin.Interface)) {
	for _, ifi := range h.interfaces {
		visitor(ifi)
	}
}

type fakeRegistrar struct {
	name string
	ops  plugin.Ops
}

func (r *fakeRegistrar) RegisterOps(name string, ops plugin.Ops) {
	r.name = name
	r.ops = ops
}

func newPolicy(t *testing.T, ifaces []plugin.Interface) (*sspi.Policy, *fakeHost) {
	t.Helper()
	p := sspi.New(nil)
	host := &fakeHost{interfaces: ifaces}
	var reg fakeRegistrar

	if err := p.Descriptor(10).Init(&reg, host); err != nil {
		t.Fatalf("Init() = %v, want nil", err)
	}
	if reg.name != "sspi" {
		t.Fatalf("RegisterOps name = %q, want %q", reg.name, "sspi")
	}
	return p, host
}

func TestNewConnectionAdvertisesOtherInterfaces(t *testing.T) {
	t.Parallel()

	eth0 := plugin.Interface{Index: 1, Name: "eth0", Addresses: []mptcpaddr.Addr{addr("10.0.0.1", 0)}}
	eth1 := plugin.Interface{Index: 2, Name: "eth1", Addresses: []mptcpaddr.Addr{addr("10.0.1.1", 0)}}

	p, host := newPolicy(t, []plugin.Interface{eth0, eth1})
	ops := p.Ops()

	ops.NewConnection(1, addr("10.0.0.1", 0), addr("192.0.2.1", 0), false)

	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.added) != 1 {
		t.Fatalf("AddAddr called %d times, want 1 (only eth1's address)", len(host.added))
	}
	if !host.added[0].addr.Equal(addr("10.0.1.1", 0)) {
		t.Errorf("AddAddr addr = %v, want %v", host.added[0].addr, addr("10.0.1.1", 0))
	}
	if host.added[0].id == 0 {
		t.Errorf("AddAddr id = 0, want a real allocated id (0 is reserved as invalid)")
	}
}

func TestNewConnectionNoOwningInterfaceIsNoop(t *testing.T) {
	t.Parallel()

	eth0 := plugin.Interface{Index: 1, Name: "eth0", Addresses: []mptcpaddr.Addr{addr("10.0.0.1", 0)}}

	p, host := newPolicy(t, []plugin.Interface{eth0})
	ops := p.Ops()

	// Local address not owned by any known interface.
	ops.NewConnection(1, addr("10.9.9.9", 0), addr("192.0.2.1", 0), false)

	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.added) != 0 {
		t.Errorf("AddAddr called %d times, want 0", len(host.added))
	}
}

func TestNewSubflowRejectsOtherTokenOnClaimedInterface(t *testing.T) {
	t.Parallel()

	eth0 := plugin.Interface{Index: 1, Name: "eth0", Addresses: []mptcpaddr.Addr{addr("10.0.0.1", 0)}}
	eth1 := plugin.Interface{Index: 2, Name: "eth1", Addresses: []mptcpaddr.Addr{addr("10.0.1.1", 0)}}

	p, host := newPolicy(t, []plugin.Interface{eth0, eth1})
	ops := p.Ops()

	ops.NewConnection(1, addr("10.0.0.1", 0), addr("192.0.2.1", 0), false)
	ops.NewSubflow(1, addr("10.0.0.1", 100), addr("192.0.2.1", 200), false)

	// A second connection's subflow routed over the same interface (eth0),
	// already claimed by token 1, must be rejected.
	ops.NewConnection(2, addr("10.0.0.1", 0), addr("198.51.100.1", 0), false)
	ops.NewSubflow(2, addr("10.0.0.1", 110), addr("198.51.100.1", 210), false)

	host.mu.Lock()
	defer host.mu.Unlock()
	if host.removedSub != 1 {
		t.Errorf("RemoveSubflow called %d times, want 1", host.removedSub)
	}
}

func TestNewSubflowAllowsSameTokenOnClaimedInterface(t *testing.T) {
	t.Parallel()

	eth0 := plugin.Interface{Index: 1, Name: "eth0", Addresses: []mptcpaddr.Addr{addr("10.0.0.1", 0)}}

	p, host := newPolicy(t, []plugin.Interface{eth0})
	ops := p.Ops()

	ops.NewConnection(1, addr("10.0.0.1", 0), addr("192.0.2.1", 0), false)
	ops.NewSubflow(1, addr("10.0.0.1", 100), addr("192.0.2.1", 200), false)

	// A second subflow for the SAME token on the same interface is not
	// rejected; only a different token competing for the interface is.
	ops.NewSubflow(1, addr("10.0.0.1", 101), addr("192.0.2.1", 201), false)

	host.mu.Lock()
	defer host.mu.Unlock()
	if host.removedSub != 0 {
		t.Errorf("RemoveSubflow called %d times, want 0", host.removedSub)
	}
}

func TestConnectionClosedForgetsTokens(t *testing.T) {
	t.Parallel()

	eth0 := plugin.Interface{Index: 1, Name: "eth0", Addresses: []mptcpaddr.Addr{addr("10.0.0.1", 0)}}

	p, host := newPolicy(t, []plugin.Interface{eth0})
	ops := p.Ops()

	ops.NewConnection(1, addr("10.0.0.1", 0), addr("192.0.2.1", 0), false)
	ops.NewSubflow(1, addr("10.0.0.1", 100), addr("192.0.2.1", 200), false)
	ops.ConnectionClosed(1)

	// After closing, a fresh subflow for the same token on the same
	// interface must be accepted again (no stale record rejecting it).
	ops.NewSubflow(1, addr("10.0.0.1", 101), addr("192.0.2.1", 201), false)

	host.mu.Lock()
	defer host.mu.Unlock()
	if host.removedSub != 0 {
		t.Errorf("RemoveSubflow called %d times, want 0", host.removedSub)
	}
}
