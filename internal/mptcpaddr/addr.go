// Package mptcpaddr defines the address value type shared across the path
// manager: an IPv4 or IPv6 endpoint with an optional port, plus the
// family-first ordering the address-ID manager and listener manager rely on.
package mptcpaddr

import (
	"bytes"
	"fmt"
	"net/netip"
)

// Addr is an MPTCP endpoint: an IP address plus an optional UDP/TCP port.
// Port zero means "unspecified" (spec.md §3): it is excluded from equality
// and hashing wherever the port-optional contract applies, and included
// otherwise (listener keys, hashed endpoint keys).
type Addr struct {
	IP   netip.Addr
	Port uint16
}

// New builds an Addr from an IP and a port. A 4-in-6 IP is unmapped to
// plain IPv4.
func New(ip netip.Addr, port uint16) Addr {
	return Addr{IP: ip.Unmap(), Port: port}
}

// IsValid reports whether the address carries a valid IPv4 or IPv6 payload.
func (a Addr) IsValid() bool {
	return a.IP.Is4() || a.IP.Is6()
}

// Is4 reports whether the address family is IPv4.
func (a Addr) Is4() bool { return a.IP.Is4() }

// Is6 reports whether the address family is IPv6 (and not 4-in-6).
func (a Addr) Is6() bool { return a.IP.Is6() && !a.IP.Is4In6() }

// bytes returns the raw address bytes (4 for IPv4, 16 for IPv6).
func (a Addr) bytes() []byte {
	b := a.IP.As16()
	if a.Is4() {
		b4 := a.IP.As4()
		return b4[:]
	}
	return b[:]
}

// Compare implements the total order required by spec.md §3: family is
// primary (IPv4 < IPv6), then address bytes compare lexicographically.
// Port never participates in Compare — callers needing port-sensitivity
// use addrkey.Key instead.
func (a Addr) Compare(b Addr) int {
	af, bf := familyRank(a), familyRank(b)
	if af != bf {
		if af < bf {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.bytes(), b.bytes())
}

// Equal reports whether two addresses carry the same family and bytes,
// ignoring port (spec.md §3: "port is ignored for IDM equality ... when
// zero, otherwise included").
func (a Addr) Equal(b Addr) bool {
	return a.Compare(b) == 0
}

// EqualIgnoringPort reports whether a and b carry the same IP regardless of
// port, used by ndiffports to validate a subflow against its stored pair.
func (a Addr) EqualIgnoringPort(b Addr) bool {
	return a.Equal(b)
}

// WithPort returns a copy of a with the port replaced.
func (a Addr) WithPort(port uint16) Addr {
	a.Port = port
	return a
}

func familyRank(a Addr) int {
	if a.Is4() {
		return 0
	}
	return 1
}

// String renders the address as "ip:port", or as the bare IP when the port
// is zero. IPv6 addresses are not bracketed.
func (a Addr) String() string {
	if a.Port == 0 {
		return a.IP.String()
	}
	return fmt.Sprintf("%s:%d", a.IP.String(), a.Port)
}
