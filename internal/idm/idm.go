// Package idm implements the MPTCP address-ID manager (spec.md §4.A): a
// bidirectional mapping between local addresses and 8-bit MPTCP address
// identifiers, with monotonic-minimum allocation and external-id injection
// for reconciling with state the kernel already holds.
package idm

import (
	"errors"
	"sync"

	"github.com/mptcpd/mptcpd/internal/addrkey"
	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// minID and maxID bound the MPTCP address-id space (spec.md §3: "An 8-bit
// value in [1, 255]; 0 is reserved as invalid/absent").
const (
	minID uint8 = 1
	maxID uint8 = 255
)

// ErrInvalidAddr indicates addr is neither a valid IPv4 nor IPv6 address.
var ErrInvalidAddr = errors.New("idm: address is not a valid IPv4 or IPv6 address")

// ErrIDOutOfRange indicates a caller-supplied id is outside [1, 255].
var ErrIDOutOfRange = errors.New("idm: id must be in [1, 255]")

// Manager is the address-ID manager of spec.md §4.A. The zero value is not
// usable; construct with New. Manager is safe for concurrent use, though
// the path manager's single-threaded event loop (spec.md §5) means that in
// practice only one goroutine ever calls into a given Manager.
type Manager struct {
	mu      sync.Mutex
	byAddr  map[addrkey.Key]uint8
	byID    map[uint8]mptcpaddr.Addr
	used    [256]bool // used[0] is always false; ids live in [1,255]
	nextMin uint8     // smallest id not yet known to be free; a hint, re-scanned lazily
}

// New creates an empty address-ID manager (spec.md §4.A "create()").
func New() *Manager {
	return &Manager{
		byAddr:  make(map[addrkey.Key]uint8),
		byID:    make(map[uint8]mptcpaddr.Addr),
		nextMin: minID,
	}
}

// Close releases the manager's internal maps (spec.md §4.A "destroy()").
// Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byAddr = nil
	m.byID = nil
	m.used = [256]bool{}
}

// GetID returns the id mapped to addr, allocating the minimum unused id if
// none exists yet. Returns 0 if the pool is exhausted or addr is not a
// valid IPv4/IPv6 address (spec.md §4.A "get_id"). GetID is idempotent for
// the same address (spec.md §8 property 2).
func (m *Manager) GetID(addr mptcpaddr.Addr) uint8 {
	if !addr.IsValid() {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := addrkey.NewIgnorePort(addr)
	if id, ok := m.byAddr[key]; ok {
		return id
	}

	id := m.allocateLocked()
	if id == 0 {
		return 0
	}

	m.byAddr[key] = id
	m.byID[id] = addr
	return id
}

// allocateLocked finds and marks used the minimum free id, or returns 0 if
// the pool [1,255] is exhausted. Callers must hold m.mu.
func (m *Manager) allocateLocked() uint8 {
	start := m.nextMin
	if start < minID {
		start = minID
	}
	for id := start; ; id++ {
		if !m.used[id] {
			m.used[id] = true
			m.nextMin = id + 1 // hint only; wraps harmlessly at 255->0
			return id
		}
		if id == maxID {
			break
		}
	}
	return 0
}

// MapID inserts or replaces the mapping for addr with the caller-supplied
// id (spec.md §4.A "map_id"), used to reconcile with ids the kernel
// already established (spec.md §4.G post-attach reconciliation). If id was
// already mapped to a different address, that mapping is removed first.
// Returns false (with no mutation) if id is out of range.
func (m *Manager) MapID(addr mptcpaddr.Addr, id uint8) bool {
	if id < minID {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if other, ok := m.byID[id]; ok {
		delete(m.byAddr, addrkey.NewIgnorePort(other))
	}

	wasUsed := m.used[id]
	m.used[id] = true

	key := addrkey.NewIgnorePort(addr)
	if oldID, ok := m.byAddr[key]; ok && oldID != id {
		delete(m.byID, oldID)
		m.used[oldID] = false
		if oldID < m.nextMin {
			m.nextMin = oldID
		}
	}

	m.byAddr[key] = id
	m.byID[id] = addr

	// Rollback note: nothing past this point can fail, so there is no
	// partial-insert case to unwind; wasUsed is kept only to document the
	// invariant spec.md §4.A requires ("on failure to insert, the used-id
	// set must be rolled back") — there is no failure path once id is in
	// range, since map_id always succeeds for id in [1,255].
	_ = wasUsed

	return true
}

// RemoveID drops the mapping for addr if present, releasing its id back to
// the pool, and returns the released id (or 0 if addr was not mapped).
func (m *Manager) RemoveID(addr mptcpaddr.Addr) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := addrkey.NewIgnorePort(addr)
	id, ok := m.byAddr[key]
	if !ok {
		return 0
	}

	delete(m.byAddr, key)
	delete(m.byID, id)
	m.used[id] = false

	if id < m.nextMin {
		m.nextMin = id
	}

	return id
}

// Lookup returns the address mapped to id, if any.
func (m *Manager) Lookup(id uint8) (mptcpaddr.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	return a, ok
}

// Len reports the number of live address-id mappings.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAddr)
}
