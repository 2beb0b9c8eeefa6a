package netlinkpm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// Attribute type numbers for the MPTCP generic-netlink attribute catalogue
// (spec.md §6). These mirror the layout of the upstream kernel's
// mptcp_pm genetlink ABI (uapi/linux/mptcp_pm.h / mptcp.h): a flat,
// strongly-typed attribute space keyed by small integers, decoded with
// netlink.AttributeDecoder and declared-length validation.
const (
	attrToken        uint16 = 1 // u32, host order
	attrFamily       uint16 = 2 // u8
	attrLocalAddr4   uint16 = 3 // 4 bytes, network order
	attrLocalAddr6   uint16 = 4 // 16 bytes, network order
	attrRemoteAddr4  uint16 = 5 // 4 bytes, network order
	attrRemoteAddr6  uint16 = 6 // 16 bytes, network order
	attrLocalPort    uint16 = 7 // u16, network order
	attrRemotePort   uint16 = 8 // u16, network order
	attrBackup       uint16 = 9 // u8 (0 or 1)
	attrIfIndex      uint16 = 10 // s32
	attrAddrID       uint16 = 11 // u8
	attrFlags        uint16 = 12 // u32
	attrStrategyName uint16 = 13 // string
	attrRemoteID     uint16 = 14 // u8
	attrRcvAddAddrs  uint16 = 15 // u32, part of a resource-limit pair
	attrSubflows     uint16 = 16 // u32, part of a resource-limit pair
	attrServerSide   uint16 = 17 // u8 (0 or 1), CREATED/ESTABLISHED only
)

// declaredLength reports the expected wire length of attr, or -1 for
// variable-length attributes (currently only the strategy name string).
// spec.md §4.E: "received length must equal the declared length or the
// attribute is rejected."
func declaredLength(attr uint16) int {
	switch attr {
	case attrToken, attrLocalAddr4, attrRemoteAddr4, attrIfIndex, attrFlags, attrRcvAddAddrs, attrSubflows:
		return 4
	case attrLocalAddr6, attrRemoteAddr6:
		return 16
	case attrLocalPort, attrRemotePort:
		return 2
	case attrFamily, attrBackup, attrAddrID, attrRemoteID, attrServerSide:
		return 1
	case attrStrategyName:
		return -1
	default:
		return -1
	}
}

// ErrAttrLengthMismatch indicates an attribute's wire length did not match
// its declared length (spec.md §4.E).
var ErrAttrLengthMismatch = errors.New("netlinkpm: attribute length mismatch")

// family is the wire encoding of an address family, matching AF_INET /
// AF_INET6 so it can be compared directly against syscall constants if
// ever needed, without importing golang.org/x/sys/unix into this package.
type family uint8

const (
	familyV4 family = 2  // AF_INET
	familyV6 family = 10 // AF_INET6
)

func familyOf(a mptcpaddr.Addr) family {
	if a.Is6() {
		return familyV6
	}
	return familyV4
}

// encodeAddrAttrs writes the family-appropriate address attributes (and
// port, if nonzero) for a local or remote address, using the attribute
// types passed in addr4/addr6/port.
func encodeAddrAttrs(enc *netlink.AttributeEncoder, a mptcpaddr.Addr, addr4, addr6, port uint16) {
	if a.Is6() {
		b := a.IP.As16()
		enc.Bytes(addr6, b[:])
	} else {
		b := a.IP.As4()
		enc.Bytes(addr4, b[:])
	}
	if a.Port != 0 && port != 0 {
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], a.Port)
		enc.Bytes(port, buf[:])
	}
}

// Class identifies which MPTCP event a decoded message carries.
type Class uint8

const (
	Created Class = iota
	Established
	Closed
	Announced
	Removed
	SubEstablished
	SubClosed
	SubPriority
)

func (c Class) String() string {
	switch c {
	case Created:
		return "CREATED"
	case Established:
		return "ESTABLISHED"
	case Closed:
		return "CLOSED"
	case Announced:
		return "ANNOUNCED"
	case Removed:
		return "REMOVED"
	case SubEstablished:
		return "SUB_ESTABLISHED"
	case SubClosed:
		return "SUB_CLOSED"
	case SubPriority:
		return "SUB_PRIORITY"
	default:
		return "UNKNOWN"
	}
}

// Event accumulates attributes seen while decoding one kernel-published
// MPTCP event message, plus bookkeeping for which required attributes were
// present (spec.md §4.E "Event classes and required attributes").
type Event struct {
	Class Class

	Token          uint32
	HaveToken      bool
	LocalAddr      mptcpaddr.Addr
	HaveLocal      bool
	RemoteAddr     mptcpaddr.Addr
	HaveRemote     bool
	Backup         bool
	HaveBackup     bool
	RemoteID       uint8
	HaveRemoteID   bool
	ServerSide     bool // valid only for Created/Established; see HaveServerSide
	HaveServerSide bool
	Strategy       string
}

// requiredAttrsPresent reports whether ev carries every attribute its
// Class requires (spec.md §8 invariant 9).
func (ev *Event) requiredAttrsPresent() bool {
	switch ev.Class {
	case Created, Established:
		return ev.HaveToken && ev.HaveLocal && ev.HaveRemote
	case Closed:
		return ev.HaveToken
	case Announced:
		return ev.HaveToken && ev.HaveRemoteID && ev.HaveRemote
	case Removed:
		return ev.HaveToken && ev.HaveRemoteID
	case SubEstablished, SubClosed, SubPriority:
		return ev.HaveToken && ev.HaveLocal && ev.HaveRemote && ev.HaveBackup
	default:
		return false
	}
}

// ErrMissingRequiredAttr indicates an event payload was missing an
// attribute its class requires (spec.md §8 invariant 9).
var ErrMissingRequiredAttr = errors.New("netlinkpm: event missing required attribute for its class")

// decodeAttrs walks the netlink attribute TLV stream in data, populating an
// Event of the given class. It validates declared lengths (spec.md §4.E)
// and silently skips attributes it does not recognize, per spec.md:
// "unknown attributes are ignored."
func decodeAttrs(class Class, data []byte) (*Event, error) {
	ad, err := netlink.NewAttributeDecoder(data)
	if err != nil {
		return nil, fmt.Errorf("new attribute decoder: %w", err)
	}

	ev := &Event{Class: class}

	var (
		local4, local6   []byte
		remote4, remote6 []byte
		localPort        uint16
		remotePort       uint16
	)

	for ad.Next() {
		t := ad.Type()
		want := declaredLength(t)
		got := len(ad.Bytes())

		if want >= 0 && got != want {
			return nil, fmt.Errorf("%w: attr %d wants %d bytes, got %d", ErrAttrLengthMismatch, t, want, got)
		}

		switch t {
		case attrToken:
			ev.Token = ad.Uint32()
			ev.HaveToken = true
		case attrLocalAddr4:
			local4 = append([]byte(nil), ad.Bytes()...)
		case attrLocalAddr6:
			local6 = append([]byte(nil), ad.Bytes()...)
		case attrRemoteAddr4:
			remote4 = append([]byte(nil), ad.Bytes()...)
		case attrRemoteAddr6:
			remote6 = append([]byte(nil), ad.Bytes()...)
		case attrLocalPort:
			localPort = binary.BigEndian.Uint16(ad.Bytes())
		case attrRemotePort:
			remotePort = binary.BigEndian.Uint16(ad.Bytes())
		case attrBackup:
			ev.Backup = ad.Uint8() != 0
			ev.HaveBackup = true
		case attrRemoteID:
			ev.RemoteID = ad.Uint8()
			ev.HaveRemoteID = true
		case attrServerSide:
			ev.ServerSide = ad.Uint8() != 0
			ev.HaveServerSide = true
		case attrStrategyName:
			ev.Strategy = ad.String()
		default:
			// unknown attribute: ignored, per spec.md §4.E.
		}
	}

	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	if a, ok := addrFromBytes(local4, local6, localPort); ok {
		ev.LocalAddr = a
		ev.HaveLocal = true
	}
	if a, ok := addrFromBytes(remote4, remote6, remotePort); ok {
		ev.RemoteAddr = a
		ev.HaveRemote = true
	}

	if !ev.requiredAttrsPresent() {
		return nil, fmt.Errorf("%w: class %s", ErrMissingRequiredAttr, class)
	}

	return ev, nil
}

func addrFromBytes(v4, v6 []byte, port uint16) (mptcpaddr.Addr, bool) {
	switch {
	case len(v6) == 16:
		var b [16]byte
		copy(b[:], v6)
		return mptcpaddr.Addr{IP: addrFrom16(b), Port: port}, true
	case len(v4) == 4:
		var b [4]byte
		copy(b[:], v4)
		return mptcpaddr.Addr{IP: addrFrom4(b), Port: port}, true
	default:
		return mptcpaddr.Addr{}, false
	}
}
