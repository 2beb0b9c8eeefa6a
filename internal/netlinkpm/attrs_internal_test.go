package netlinkpm

// This file tests unexported wire-decode helpers directly (white-box),
// since the family/conn/dialect layer they feed requires a live kernel
// generic-netlink socket that this test suite cannot open. Grounded on
// the corpus's own use of internal test packages for low-level codec
// helpers (e.g. canonical-snapd/helpers, gravwell-gravwell/ipexist).

import (
	"net/netip"
	"testing"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

func encodeForTest(t *testing.T, fn func(*netlink.AttributeEncoder)) []byte {
	t.Helper()
	ae := netlink.NewAttributeEncoder()
	fn(ae)
	b, err := ae.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestDecodeAttrsCreatedRequiresTokenAndAddrs(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 42)
		ae.Bytes(attrLocalAddr4, []byte{10, 0, 0, 1})
		ae.Bytes(attrRemoteAddr4, []byte{10, 0, 0, 2})
	})

	ev, err := decodeAttrs(Created, data)
	if err != nil {
		t.Fatalf("decodeAttrs() = %v, want nil error", err)
	}
	if ev.Token != 42 || !ev.HaveToken {
		t.Errorf("Token = %d HaveToken = %v, want 42 true", ev.Token, ev.HaveToken)
	}
	wantLocal := mptcpaddr.New(netip.MustParseAddr("10.0.0.1"), 0)
	if !ev.HaveLocal || !ev.LocalAddr.Equal(wantLocal) {
		t.Errorf("LocalAddr = %v HaveLocal = %v, want %v true", ev.LocalAddr, ev.HaveLocal, wantLocal)
	}
}

func TestDecodeAttrsCreatedServerSide(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 42)
		ae.Bytes(attrLocalAddr4, []byte{10, 0, 0, 1})
		ae.Bytes(attrRemoteAddr4, []byte{10, 0, 0, 2})
		ae.Uint8(attrServerSide, 1)
	})

	ev, err := decodeAttrs(Created, data)
	if err != nil {
		t.Fatalf("decodeAttrs() = %v, want nil error", err)
	}
	if !ev.HaveServerSide || !ev.ServerSide {
		t.Errorf("ServerSide = %v HaveServerSide = %v, want true true", ev.ServerSide, ev.HaveServerSide)
	}
}

func TestDecodeAttrsCreatedWithoutServerSideLeavesHaveFalse(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 42)
		ae.Bytes(attrLocalAddr4, []byte{10, 0, 0, 1})
		ae.Bytes(attrRemoteAddr4, []byte{10, 0, 0, 2})
	})

	ev, err := decodeAttrs(Created, data)
	if err != nil {
		t.Fatalf("decodeAttrs() = %v, want nil error", err)
	}
	if ev.HaveServerSide || ev.ServerSide {
		t.Errorf("ServerSide = %v HaveServerSide = %v, want false false when attribute absent", ev.ServerSide, ev.HaveServerSide)
	}
}

func TestDecodeAttrsCreatedMissingRemoteAddrFails(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 42)
		ae.Bytes(attrLocalAddr4, []byte{10, 0, 0, 1})
	})

	_, err := decodeAttrs(Created, data)
	if err == nil {
		t.Fatalf("decodeAttrs() = nil error, want ErrMissingRequiredAttr")
	}
}

func TestDecodeAttrsClosedOnlyRequiresToken(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 7)
	})

	ev, err := decodeAttrs(Closed, data)
	if err != nil {
		t.Fatalf("decodeAttrs() = %v, want nil error", err)
	}
	if ev.Token != 7 {
		t.Errorf("Token = %d, want 7", ev.Token)
	}
}

func TestDecodeAttrsSubEstablishedRequiresBackup(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 1)
		ae.Bytes(attrLocalAddr4, []byte{10, 0, 0, 1})
		ae.Bytes(attrRemoteAddr4, []byte{10, 0, 0, 2})
	})

	if _, err := decodeAttrs(SubEstablished, data); err == nil {
		t.Fatalf("decodeAttrs() = nil error, want ErrMissingRequiredAttr (no backup attr)")
	}
}

func TestDecodeAttrsUnknownAttributeIgnored(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 1)
		ae.Bytes(attrLocalAddr4, []byte{10, 0, 0, 1})
		ae.Bytes(attrRemoteAddr4, []byte{10, 0, 0, 2})
		ae.Uint32(999, 0xdeadbeef) // unrecognized attribute type
	})

	if _, err := decodeAttrs(Created, data); err != nil {
		t.Errorf("decodeAttrs() = %v, want nil (unknown attrs must be ignored)", err)
	}
}

func TestDecodeAttrsLengthMismatch(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Bytes(attrToken, []byte{1, 2}) // declared length 4, only 2 given
	})

	_, err := decodeAttrs(Closed, data)
	if err == nil {
		t.Fatalf("decodeAttrs() = nil error, want ErrAttrLengthMismatch")
	}
}

func TestDecodeAttrsIPv6Address(t *testing.T) {
	t.Parallel()

	v6 := netip.MustParseAddr("2001:db8::1")
	b := v6.As16()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrToken, 1)
		ae.Bytes(attrLocalAddr6, b[:])
		ae.Bytes(attrRemoteAddr6, b[:])
	})

	ev, err := decodeAttrs(Created, data)
	if err != nil {
		t.Fatalf("decodeAttrs() = %v, want nil error", err)
	}
	if !ev.LocalAddr.Is6() {
		t.Errorf("LocalAddr.Is6() = false, want true")
	}
}

func TestClassString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		class Class
		want  string
	}{
		{Created, "CREATED"},
		{Established, "ESTABLISHED"},
		{Closed, "CLOSED"},
		{Announced, "ANNOUNCED"},
		{Removed, "REMOVED"},
		{SubEstablished, "SUB_ESTABLISHED"},
		{SubClosed, "SUB_CLOSED"},
		{SubPriority, "SUB_PRIORITY"},
		{Class(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := tt.class.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeAddrInfoDefaultsIfIndexToNegativeOne(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint8(attrAddrID, 3)
		ae.Bytes(attrLocalAddr4, []byte{192, 168, 1, 1})
	})

	info, err := decodeAddrInfo(genetlink.Message{Data: data})
	if err != nil {
		t.Fatalf("decodeAddrInfo() = %v, want nil error", err)
	}
	if info.IfIndex != -1 {
		t.Errorf("IfIndex = %d, want -1 (unset)", info.IfIndex)
	}
	if info.ID != 3 {
		t.Errorf("ID = %d, want 3", info.ID)
	}
}

func TestDecodeAddrInfoNoAddressFails(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint8(attrAddrID, 1)
	})

	if _, err := decodeAddrInfo(genetlink.Message{Data: data}); err == nil {
		t.Fatalf("decodeAddrInfo() = nil error, want error for missing address")
	}
}

func TestDecodeLimitsBothKinds(t *testing.T) {
	t.Parallel()

	data := encodeForTest(t, func(ae *netlink.AttributeEncoder) {
		ae.Uint32(attrRcvAddAddrs, 4)
		ae.Uint32(attrSubflows, 2)
	})

	limits, err := decodeLimits(genetlink.Message{Data: data})
	if err != nil {
		t.Fatalf("decodeLimits() = %v, want nil error", err)
	}
	if len(limits) != 2 {
		t.Fatalf("len(limits) = %d, want 2", len(limits))
	}

	var gotRcv, gotSub bool
	for _, l := range limits {
		switch l.Kind {
		case LimitRcvAddAddrs:
			gotRcv = l.Value == 4
		case LimitSubflows:
			gotSub = l.Value == 2
		}
	}
	if !gotRcv || !gotSub {
		t.Errorf("limits = %+v, want rcv_add_addrs=4 and subflows=2", limits)
	}
}

func TestFamilyOf(t *testing.T) {
	t.Parallel()

	v4 := mptcpaddr.New(netip.MustParseAddr("10.0.0.1"), 0)
	v6 := mptcpaddr.New(netip.MustParseAddr("2001:db8::1"), 0)

	if familyOf(v4) != familyV4 {
		t.Errorf("familyOf(v4) = %d, want %d", familyOf(v4), familyV4)
	}
	if familyOf(v6) != familyV6 {
		t.Errorf("familyOf(v6) = %d, want %d", familyOf(v6), familyV6)
	}
}
