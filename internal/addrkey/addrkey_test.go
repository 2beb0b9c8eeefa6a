package addrkey_test

import (
	"net/netip"
	"testing"

	"github.com/mptcpd/mptcpd/internal/addrkey"
	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

func TestMain(m *testing.M) {
	addrkey.SetSeedForTest(0xdeadbeef)
	m.Run()
}

func addr(ip string, port uint16) mptcpaddr.Addr {
	return mptcpaddr.New(netip.MustParseAddr(ip), port)
}

func TestNewIgnorePortExcludesPort(t *testing.T) {
	t.Parallel()

	withPort := addrkey.New(addr("10.0.0.1", 80))
	noPort := addrkey.NewIgnorePort(addr("10.0.0.1", 80))
	zeroPort := addrkey.New(addr("10.0.0.1", 0))

	if withPort.Equal(noPort) {
		t.Errorf("key with port should differ from the ignore-port key")
	}
	if !noPort.Equal(zeroPort) {
		t.Errorf("NewIgnorePort should equal New() on a zero-port address")
	}
}

func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	a := addrkey.New(addr("10.0.0.1", 80))
	b := addrkey.New(addr("10.0.0.1", 80))

	if a.Hash() != b.Hash() {
		t.Errorf("Hash() not deterministic for identical keys")
	}
}

func TestHashDiffersAcrossAddresses(t *testing.T) {
	t.Parallel()

	a := addrkey.New(addr("10.0.0.1", 0))
	b := addrkey.New(addr("10.0.0.2", 0))

	if a.Hash() == b.Hash() {
		t.Errorf("Hash() collided for distinct addresses (possible but suspicious for this fixed test vector)")
	}
}

func TestCompareFamilyFirst(t *testing.T) {
	t.Parallel()

	k4 := addrkey.New(addr("255.255.255.255", 0))
	k6 := addrkey.New(addr("::1", 0))

	if k4.Compare(k6) >= 0 {
		t.Errorf("IPv4 key should sort before IPv6 key")
	}
}

func TestComparePortOrdering(t *testing.T) {
	t.Parallel()

	noPort := addrkey.New(addr("10.0.0.1", 0))
	withPort := addrkey.New(addr("10.0.0.1", 80))

	if noPort.Compare(withPort) >= 0 {
		t.Errorf("port-less key should sort before a key carrying a port")
	}
	if withPort.Compare(noPort) <= 0 {
		t.Errorf("keyed-port key should sort after a port-less key")
	}
}

func TestCompareByPortValue(t *testing.T) {
	t.Parallel()

	low := addrkey.New(addr("10.0.0.1", 80))
	high := addrkey.New(addr("10.0.0.1", 443))

	if low.Compare(high) >= 0 {
		t.Errorf("lower port should sort first")
	}
}

func TestEqual(t *testing.T) {
	t.Parallel()

	a := addrkey.New(addr("10.0.0.1", 80))
	b := addrkey.New(addr("10.0.0.1", 80))
	c := addrkey.New(addr("10.0.0.2", 80))

	if !a.Equal(b) {
		t.Errorf("Equal() = false for identical keys")
	}
	if a.Equal(c) {
		t.Errorf("Equal() = true for distinct addresses")
	}
}
