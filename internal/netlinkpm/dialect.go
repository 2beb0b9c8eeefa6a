// Package netlinkpm implements the two MPTCP kernel command dialects of
// spec.md §4.D ("upstream" and "multipath-tcp.org") behind one
// dialect-neutral capability set, plus the sysctl-driven dialect selection
// of spec.md §6 and the attribute catalogue of spec.md §6.
//
// Following spec.md §9's design note, the two dialects are modeled as a
// capability set of optional function fields rather than as an interface
// hierarchy: a nil field means the active dialect does not implement that
// command, and callers translate that directly into ErrUnsupported.
package netlinkpm

import (
	"context"
	"errors"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// ErrNotReady indicates the kernel MPTCP generic-netlink family is not
// currently attached (spec.md §3 "Command dispatch").
var ErrNotReady = errors.New("netlinkpm: mptcp family not ready")

// ErrUnsupported indicates the active dialect does not implement the
// requested command (spec.md §3 "Command dispatch").
var ErrUnsupported = errors.New("netlinkpm: command not supported by active dialect")

// Flags is the address-flags bitmask of spec.md §6.
type Flags uint32

// Address flag bits (spec.md §6). SIGNAL and FULLMESH are mutually
// exclusive; callers are responsible for not setting both.
const (
	FlagSubflow  Flags = 1 << iota // SUBFLOW
	FlagSignal                     // SIGNAL
	FlagBackup                     // BACKUP
	FlagFullMesh                   // FULLMESH
)

// LimitKind distinguishes the two resource-limit kinds of spec.md §3.
type LimitKind uint8

const (
	// LimitRcvAddAddrs bounds the number of ADD_ADDR advertisements a peer
	// may send before they are ignored.
	LimitRcvAddAddrs LimitKind = iota
	// LimitSubflows bounds the number of additional subflows per connection.
	LimitSubflows
)

// Limit pairs a resource-limit kind with its configured value (spec.md §3
// "Resource limits").
type Limit struct {
	Kind  LimitKind
	Value uint32
}

// AddrInfo is the reply shape of spec.md §3 "Address info (reply shape)".
// IfIndex is -1 when unset.
type AddrInfo struct {
	Addr    mptcpaddr.Addr
	ID      uint8
	Flags   Flags
	IfIndex int
}

// DumpCallback is invoked once per record during a dump (spec.md §4.D
// "Async replies"). CompletionCallback fires exactly once after the last
// record, even when zero records arrived.
type DumpCallback func(AddrInfo)
type CompletionCallback func(error)
type LimitsCallback func([]Limit, error)

// Dialect is the dialect-neutral command surface spec.md §4.D requires.
// Every field is optional; a nil field means the active dialect does not
// implement that command and callers must return ErrUnsupported.
//
// AddAddr/RemoveAddr exist in two incompatible shapes (client-oriented,
// which is per-connection and carries a token, vs kernel-oriented, which
// is process-wide and carries flags/if-index) so they are named
// distinctly rather than overloaded.
type Dialect struct {
	// Name identifies the dialect for logging ("upstream" or "multipath-tcp.org").
	Name string

	// FamilyName is the generic-netlink family name this dialect resolved
	// at startup (spec.md §6 "Kernel capability probe").
	FamilyName string

	// --- client-oriented (policy-initiated) command set ---

	AddAddrClient    func(ctx context.Context, addr mptcpaddr.Addr, id uint8, token uint32) error
	RemoveAddrClient func(ctx context.Context, id uint8, token uint32) error
	AddSubflow       func(ctx context.Context, token uint32, localID, remoteID uint8, local, remote mptcpaddr.Addr, backup bool) error
	RemoveSubflow    func(ctx context.Context, token uint32, local, remote mptcpaddr.Addr) error
	SetBackup        func(ctx context.Context, token uint32, local, remote mptcpaddr.Addr, backup bool) error

	// --- kernel-oriented (in-kernel PM management) command set ---

	AddAddrKernel    func(ctx context.Context, addr mptcpaddr.Addr, id uint8, flags Flags, ifIndex int) error
	RemoveAddrKernel func(ctx context.Context, id uint8) error
	GetAddr          func(ctx context.Context, id uint8, cb DumpCallback, complete CompletionCallback) error
	DumpAddrs        func(ctx context.Context, cb DumpCallback, complete CompletionCallback) error
	FlushAddrs       func(ctx context.Context) error
	SetLimits        func(ctx context.Context, limits []Limit) error
	GetLimits        func(ctx context.Context, cb LimitsCallback) error
	SetFlags         func(ctx context.Context, addr mptcpaddr.Addr, flags Flags) error

	// close releases the underlying genetlink connection.
	close func() error
}

// Close releases the dialect's underlying netlink connection, if any.
func (d *Dialect) Close() error {
	if d == nil || d.close == nil {
		return nil
	}
	return d.close()
}
