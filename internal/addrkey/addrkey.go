// Package addrkey provides the seeded hash and total order over MPTCP
// addresses shared by the address-ID manager (spec.md §4.A) and the
// address-id map's internal bucketing. Hashing uses MurmurHash3 (spec.md
// §4.A: "seeded 32-bit MurmurHash3 over the address bytes") seeded once per
// process and shared across every idm.Manager instance — spec.md §9 notes
// this sharing is intentional and should not be tightened.
package addrkey

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/twmb/murmur3"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// processSeed is generated once and shared by every Key, mirroring spec.md
// §4.A's "seed is shared among IDM instances; this is acceptable because
// each instance owns its own map."
var processSeed = newProcessSeed()

func newProcessSeed() uint32 {
	var buf [4]byte
	now := uint64(time.Now().UnixNano()) //nolint:gosmopolitan // process-local seed, not a protocol timestamp

	if _, err := rand.Read(buf[:]); err == nil {
		rnd := binary.BigEndian.Uint32(buf[:])
		return uint32(now) ^ rnd
	}

	// rand unavailable: fall back to the monotonic clock alone. Still
	// unique enough per-process for a debugging aid, never a security
	// boundary.
	return uint32(now)
}

// seedMu lets tests pin a deterministic seed without a data race.
var seedMu sync.Mutex

// SetSeedForTest overrides the process-wide seed; tests only.
func SetSeedForTest(seed uint32) {
	seedMu.Lock()
	defer seedMu.Unlock()
	processSeed = seed
}

// Key is a hashable, comparable, deep-copyable representation of an address
// plus an optional port, per spec.md §4.C: "when port is zero, the key
// excludes the port — otherwise the key is (addr_bytes || port)."
//
// Key intentionally stores a fixed-size array rather than a slice so that
// Key is comparable (usable as a map key) and so that the zero-padding
// required by spec.md §4.C ("padding bytes in union-style buffers must be
// zeroed") is automatic: Go zero-initializes array elements.
type Key struct {
	family   uint8 // 0 = IPv4, 1 = IPv6
	withPort bool
	bytes    [18]byte // 16 address bytes + 2 port bytes, zero-padded
	n        uint8    // number of significant bytes in `bytes`
}

// New builds a Key from an address. If a.Port is zero the port is excluded
// from the key, matching the IDM's port-insensitive contract; otherwise the
// port is appended, matching the listener/hashed-endpoint contract.
func New(a mptcpaddr.Addr) Key {
	var k Key

	if a.Is6() {
		k.family = 1
	}

	raw := a.IP.As16()
	n := 16
	if a.Is4() {
		raw4 := a.IP.As4()
		copy(k.bytes[:4], raw4[:])
		n = 4
	} else {
		copy(k.bytes[:16], raw[:])
	}

	if a.Port != 0 {
		k.withPort = true
		binary.BigEndian.PutUint16(k.bytes[n:n+2], a.Port)
		n += 2
	}

	k.n = uint8(n)
	return k
}

// NewIgnorePort builds a Key that always excludes the port, regardless of
// whether a.Port is zero. Used by the IDM, whose map key is address-only.
func NewIgnorePort(a mptcpaddr.Addr) Key {
	return New(a.WithPort(0))
}

// Hash returns the seeded 32-bit MurmurHash3 digest of the key's bytes.
func (k Key) Hash() uint32 {
	h := murmur3.SeedNew32(processSeed)
	_, _ = h.Write(k.bytes[:k.n])
	return h.Sum32()
}

// Compare implements the family-first total order of spec.md §3/§4.C:
// IPv4 < IPv6, then lexicographic byte comparison. Port is compared last
// and only when both keys carry one.
func (k Key) Compare(other Key) int {
	if k.family != other.family {
		if k.family < other.family {
			return -1
		}
		return 1
	}

	addrLen := 4
	if k.family == 1 {
		addrLen = 16
	}

	for i := range addrLen {
		if k.bytes[i] != other.bytes[i] {
			if k.bytes[i] < other.bytes[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case k.withPort && other.withPort:
		kp := binary.BigEndian.Uint16(k.bytes[addrLen : addrLen+2])
		op := binary.BigEndian.Uint16(other.bytes[addrLen : addrLen+2])
		switch {
		case kp < op:
			return -1
		case kp > op:
			return 1
		default:
			return 0
		}
	case k.withPort:
		return 1
	case other.withPort:
		return -1
	default:
		return 0
	}
}

// Equal reports whether two keys are identical under Compare.
func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0
}
