package netlinkpm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// Legacy (multipath-tcp.org) generic-netlink command identifiers
// (spec.md §4.D kernel-oriented command set), matching the out-of-tree
// "mptcp" genetlink family's command enum. Unlike upstream, this path
// manager keeps no address state of its own: mptcpd owns the full address
// table and pushes it down with these commands.
const (
	cmdLegacyAddAddr    uint8 = 1
	cmdLegacyDelAddr    uint8 = 2
	cmdLegacyGetAddr    uint8 = 3 // also used, dump-flagged, for DumpAddrs
	cmdLegacyFlushAddrs uint8 = 4
	cmdLegacySetLimits  uint8 = 5
	cmdLegacyGetLimits  uint8 = 6
	cmdLegacySetFlags   uint8 = 7
)

const legacyEventGroup = "mptcp"

// Legacy multicast event command identifiers, matching the out-of-tree
// mptcp genetlink family's notification enum.
const (
	eventLegacyCreated        uint8 = 11
	eventLegacyEstablished    uint8 = 12
	eventLegacyClosed         uint8 = 13
	eventLegacyAnnounced      uint8 = 14
	eventLegacyRemoved        uint8 = 15
	eventLegacySubEstablished uint8 = 16
	eventLegacySubClosed      uint8 = 17
	eventLegacySubPriority    uint8 = 18
)

func legacyEventClass(cmd uint8) (Class, bool) {
	switch cmd {
	case eventLegacyCreated:
		return Created, true
	case eventLegacyEstablished:
		return Established, true
	case eventLegacyClosed:
		return Closed, true
	case eventLegacyAnnounced:
		return Announced, true
	case eventLegacyRemoved:
		return Removed, true
	case eventLegacySubEstablished:
		return SubEstablished, true
	case eventLegacySubClosed:
		return SubClosed, true
	case eventLegacySubPriority:
		return SubPriority, true
	default:
		return 0, false
	}
}

// newKernel dials the legacy family and returns a Dialect wired to the
// kernel-oriented command set: address add/remove/dump/flush, resource
// limits, and per-address flag updates (spec.md §4.D "kernel-oriented").
func newKernel(log *slog.Logger) (*Dialect, *conn, error) {
	c, err := dial(log, familyNameLegacy, legacyEventGroup)
	if err != nil {
		return nil, nil, err
	}

	d := &Dialect{
		Name:       "multipath-tcp.org",
		FamilyName: familyNameLegacy,
		close:      c.close,
	}

	d.AddAddrKernel = func(ctx context.Context, addr mptcpaddr.Addr, id uint8, flags Flags, ifIndex int) error {
		_, err := c.execute(ctx, cmdLegacyAddAddr, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint8(attrAddrID, id)
			ae.Uint32(attrFlags, uint32(flags))
			if ifIndex >= 0 {
				ae.Int32(attrIfIndex, int32(ifIndex))
			}
			encodeAddrAttrs(ae, addr, attrLocalAddr4, attrLocalAddr6, attrLocalPort)
		})
		return err
	}

	d.RemoveAddrKernel = func(ctx context.Context, id uint8) error {
		_, err := c.execute(ctx, cmdLegacyDelAddr, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint8(attrAddrID, id)
		})
		return err
	}

	d.GetAddr = func(ctx context.Context, id uint8, cb DumpCallback, complete CompletionCallback) error {
		return c.executeDump(ctx, cmdLegacyGetAddr, func(ae *netlink.AttributeEncoder) {
			ae.Uint8(attrAddrID, id)
		}, decodeAddrInfo, cb, complete)
	}

	d.DumpAddrs = func(ctx context.Context, cb DumpCallback, complete CompletionCallback) error {
		return c.executeDump(ctx, cmdLegacyGetAddr, nil, decodeAddrInfo, cb, complete)
	}

	d.FlushAddrs = func(ctx context.Context) error {
		_, err := c.execute(ctx, cmdLegacyFlushAddrs, 0, nil)
		return err
	}

	d.SetLimits = func(ctx context.Context, limits []Limit) error {
		_, err := c.execute(ctx, cmdLegacySetLimits, 0, func(ae *netlink.AttributeEncoder) {
			for _, l := range limits {
				switch l.Kind {
				case LimitRcvAddAddrs:
					ae.Uint32(attrRcvAddAddrs, l.Value)
				case LimitSubflows:
					ae.Uint32(attrSubflows, l.Value)
				}
			}
		})
		return err
	}

	d.GetLimits = func(ctx context.Context, cb LimitsCallback) error {
		msgs, err := c.execute(ctx, cmdLegacyGetLimits, 0, nil)
		if err != nil {
			if cb != nil {
				cb(nil, err)
			}
			return err
		}
		if len(msgs) == 0 {
			if cb != nil {
				cb(nil, nil)
			}
			return nil
		}

		limits, err := decodeLimits(msgs[0])
		if cb != nil {
			cb(limits, err)
		}
		return err
	}

	d.SetFlags = func(ctx context.Context, addr mptcpaddr.Addr, flags Flags) error {
		_, err := c.execute(ctx, cmdLegacySetFlags, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(attrFlags, uint32(flags))
			encodeAddrAttrs(ae, addr, attrLocalAddr4, attrLocalAddr6, attrLocalPort)
		})
		return err
	}

	return d, c, nil
}

// decodeAddrInfo decodes one GET_ADDR/dump reply record into an AddrInfo.
func decodeAddrInfo(m genetlink.Message) (AddrInfo, error) {
	ad, err := netlink.NewAttributeDecoder(m.Data)
	if err != nil {
		return AddrInfo{}, fmt.Errorf("netlinkpm: decode addr-info attributes: %w", err)
	}

	info := AddrInfo{IfIndex: -1}
	var v4, v6 []byte
	var port uint16

	for ad.Next() {
		switch ad.Type() {
		case attrAddrID:
			info.ID = ad.Uint8()
		case attrFlags:
			info.Flags = Flags(ad.Uint32())
		case attrIfIndex:
			info.IfIndex = int(int32(ad.Uint32()))
		case attrLocalAddr4:
			v4 = append([]byte(nil), ad.Bytes()...)
		case attrLocalAddr6:
			v6 = append([]byte(nil), ad.Bytes()...)
		case attrLocalPort:
			if b := ad.Bytes(); len(b) == 2 {
				port = uint16(b[0])<<8 | uint16(b[1])
			}
		}
	}
	if err := ad.Err(); err != nil {
		return AddrInfo{}, fmt.Errorf("netlinkpm: decode addr-info attributes: %w", err)
	}

	addr, ok := addrFromBytes(v4, v6, port)
	if !ok {
		return AddrInfo{}, fmt.Errorf("netlinkpm: addr-info record has no address")
	}
	info.Addr = addr

	return info, nil
}

// decodeLimits decodes one GET_LIMITS reply record into the two resource
// limits spec.md §3 defines.
func decodeLimits(m genetlink.Message) ([]Limit, error) {
	ad, err := netlink.NewAttributeDecoder(m.Data)
	if err != nil {
		return nil, fmt.Errorf("netlinkpm: decode limits attributes: %w", err)
	}

	var limits []Limit
	for ad.Next() {
		switch ad.Type() {
		case attrRcvAddAddrs:
			limits = append(limits, Limit{Kind: LimitRcvAddAddrs, Value: ad.Uint32()})
		case attrSubflows:
			limits = append(limits, Limit{Kind: LimitSubflows, Value: ad.Uint32()})
		}
	}
	if err := ad.Err(); err != nil {
		return nil, fmt.Errorf("netlinkpm: decode limits attributes: %w", err)
	}

	return limits, nil
}
