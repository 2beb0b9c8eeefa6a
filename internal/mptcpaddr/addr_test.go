package mptcpaddr_test

import (
	"net/netip"
	"testing"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

func v4(s string) netip.Addr { return netip.MustParseAddr(s) }
func v6(s string) netip.Addr { return netip.MustParseAddr(s) }

func TestIsValid(t *testing.T) {
	t.Parallel()

	a := mptcpaddr.New(v4("10.0.0.1"), 0)
	if !a.IsValid() {
		t.Errorf("IsValid() = false, want true")
	}

	var zero mptcpaddr.Addr
	if zero.IsValid() {
		t.Errorf("zero value IsValid() = true, want false")
	}
}

func TestIs4Is6(t *testing.T) {
	t.Parallel()

	a4 := mptcpaddr.New(v4("10.0.0.1"), 0)
	if !a4.Is4() {
		t.Errorf("Is4() = false, want true")
	}
	if a4.Is6() {
		t.Errorf("Is6() = true, want false")
	}

	a6 := mptcpaddr.New(v6("2001:db8::1"), 0)
	if a6.Is4() {
		t.Errorf("Is4() = true, want false")
	}
	if !a6.Is6() {
		t.Errorf("Is6() = false, want true")
	}
}

func TestCompareFamilyFirst(t *testing.T) {
	t.Parallel()

	a4 := mptcpaddr.New(v4("255.255.255.255"), 0)
	a6 := mptcpaddr.New(v6("::1"), 0)

	if a4.Compare(a6) >= 0 {
		t.Errorf("IPv4 should sort before IPv6 regardless of byte value")
	}
	if a6.Compare(a4) <= 0 {
		t.Errorf("IPv6 should sort after IPv4")
	}
}

func TestCompareLexicographic(t *testing.T) {
	t.Parallel()

	a := mptcpaddr.New(v4("10.0.0.1"), 0)
	b := mptcpaddr.New(v4("10.0.0.2"), 0)

	if a.Compare(b) >= 0 {
		t.Errorf("a.Compare(b) >= 0, want < 0")
	}
	if b.Compare(a) <= 0 {
		t.Errorf("b.Compare(a) <= 0, want > 0")
	}
	if a.Compare(a) != 0 {
		t.Errorf("a.Compare(a) != 0")
	}
}

func TestEqualIgnoresPort(t *testing.T) {
	t.Parallel()

	a := mptcpaddr.New(v4("10.0.0.1"), 80)
	b := mptcpaddr.New(v4("10.0.0.1"), 443)

	if !a.Equal(b) {
		t.Errorf("Equal() = false, want true (port must not participate in Compare)")
	}
	if !a.EqualIgnoringPort(b) {
		t.Errorf("EqualIgnoringPort() = false, want true")
	}
}

func TestWithPort(t *testing.T) {
	t.Parallel()

	a := mptcpaddr.New(v4("10.0.0.1"), 0)
	b := a.WithPort(4242)

	if a.Port != 0 {
		t.Errorf("WithPort mutated receiver: a.Port = %d, want 0", a.Port)
	}
	if b.Port != 4242 {
		t.Errorf("b.Port = %d, want 4242", b.Port)
	}
}

func TestStringOmitsZeroPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		addr mptcpaddr.Addr
		want string
	}{
		{"no port", mptcpaddr.New(v4("10.0.0.1"), 0), "10.0.0.1"},
		{"with port", mptcpaddr.New(v4("10.0.0.1"), 80), "10.0.0.1:80"},
		{"ipv6 with port", mptcpaddr.New(v6("2001:db8::1"), 80), "2001:db8::1:80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.addr.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewUnmaps4in6(t *testing.T) {
	t.Parallel()

	mapped := netip.MustParseAddr("::ffff:10.0.0.1")
	a := mptcpaddr.New(mapped, 0)

	if !a.Is4() {
		t.Errorf("New() did not unmap 4-in-6 address: Is4() = false")
	}
}
