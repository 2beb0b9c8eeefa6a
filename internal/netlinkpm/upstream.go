package netlinkpm

import (
	"context"
	"log/slog"

	"github.com/mdlayher/netlink"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// Upstream generic-netlink command identifiers (spec.md §4.D
// client-oriented command set), matching the mptcp_pm genetlink family's
// command enum.
const (
	cmdUpstreamAnnounce      uint8 = 1 // ADD_ADDR equivalent: announce a local address to the peer
	cmdUpstreamRemove        uint8 = 2 // withdraw a previously announced address
	cmdUpstreamSubflowCreate uint8 = 3
	cmdUpstreamSubflowDestroy uint8 = 4
	cmdUpstreamSetBackup     uint8 = 5
)

// upstreamEventGroup is the multicast group carrying connection/subflow
// events on the upstream family (spec.md §4.E).
const upstreamEventGroup = "mptcp_events"

// Upstream multicast event command identifiers, matching the
// mptcp_event_type enum the mptcp_pm family publishes on the
// "mptcp_events" group.
const (
	eventUpstreamCreated        uint8 = 1
	eventUpstreamEstablished    uint8 = 2
	eventUpstreamClosed         uint8 = 3
	eventUpstreamAnnounced      uint8 = 4
	eventUpstreamRemoved        uint8 = 5
	eventUpstreamSubEstablished uint8 = 6
	eventUpstreamSubClosed      uint8 = 7
	eventUpstreamSubPriority    uint8 = 8
)

func upstreamEventClass(cmd uint8) (Class, bool) {
	switch cmd {
	case eventUpstreamCreated:
		return Created, true
	case eventUpstreamEstablished:
		return Established, true
	case eventUpstreamClosed:
		return Closed, true
	case eventUpstreamAnnounced:
		return Announced, true
	case eventUpstreamRemoved:
		return Removed, true
	case eventUpstreamSubEstablished:
		return SubEstablished, true
	case eventUpstreamSubClosed:
		return SubClosed, true
	case eventUpstreamSubPriority:
		return SubPriority, true
	default:
		return 0, false
	}
}

// newUpstream dials the upstream family and returns a Dialect wired to the
// client-oriented command set only: the upstream in-kernel path manager
// owns address bookkeeping itself, so mptcpd acts purely as a policy
// client issuing per-connection announce/subflow/backup requests (spec.md
// §4.D "client-oriented").
func newUpstream(log *slog.Logger) (*Dialect, *conn, error) {
	c, err := dial(log, familyNameUpstream, upstreamEventGroup)
	if err != nil {
		return nil, nil, err
	}

	d := &Dialect{
		Name:       "upstream",
		FamilyName: familyNameUpstream,
		close:      c.close,
	}

	d.AddAddrClient = func(ctx context.Context, addr mptcpaddr.Addr, id uint8, token uint32) error {
		_, err := c.execute(ctx, cmdUpstreamAnnounce, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(attrToken, token)
			ae.Uint8(attrAddrID, id)
			encodeAddrAttrs(ae, addr, attrLocalAddr4, attrLocalAddr6, attrLocalPort)
		})
		return err
	}

	d.RemoveAddrClient = func(ctx context.Context, id uint8, token uint32) error {
		_, err := c.execute(ctx, cmdUpstreamRemove, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(attrToken, token)
			ae.Uint8(attrAddrID, id)
		})
		return err
	}

	d.AddSubflow = func(ctx context.Context, token uint32, localID, remoteID uint8, local, remote mptcpaddr.Addr, backup bool) error {
		_, err := c.execute(ctx, cmdUpstreamSubflowCreate, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(attrToken, token)
			ae.Uint8(attrAddrID, localID)
			ae.Uint8(attrRemoteID, remoteID)
			encodeAddrAttrs(ae, local, attrLocalAddr4, attrLocalAddr6, attrLocalPort)
			encodeAddrAttrs(ae, remote, attrRemoteAddr4, attrRemoteAddr6, attrRemotePort)
			ae.Uint8(attrBackup, boolToUint8(backup))
		})
		return err
	}

	d.RemoveSubflow = func(ctx context.Context, token uint32, local, remote mptcpaddr.Addr) error {
		_, err := c.execute(ctx, cmdUpstreamSubflowDestroy, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(attrToken, token)
			encodeAddrAttrs(ae, local, attrLocalAddr4, attrLocalAddr6, attrLocalPort)
			encodeAddrAttrs(ae, remote, attrRemoteAddr4, attrRemoteAddr6, attrRemotePort)
		})
		return err
	}

	d.SetBackup = func(ctx context.Context, token uint32, local, remote mptcpaddr.Addr, backup bool) error {
		_, err := c.execute(ctx, cmdUpstreamSetBackup, 0, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(attrToken, token)
			encodeAddrAttrs(ae, local, attrLocalAddr4, attrLocalAddr6, attrLocalPort)
			encodeAddrAttrs(ae, remote, attrRemoteAddr4, attrRemoteAddr6, attrRemotePort)
			ae.Uint8(attrBackup, boolToUint8(backup))
		})
		return err
	}

	return d, c, nil
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
