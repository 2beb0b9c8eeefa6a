// Package lm implements the MPTCP listener manager (spec.md §4.B): a map
// from address-id to an owned, listening MPTCP socket. The socket stored
// under an id is exclusively owned by the Manager; it is closed exactly
// once, whether by an explicit Close(id) or by Manager.Close() at shutdown.
package lm

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// ipprotoMPTCP is IPPROTO_MPTCP (262), defined locally because older
// golang.org/x/sys releases do not export it as a named constant.
const ipprotoMPTCP = 262

// ErrInvalidID indicates id is zero, which spec.md §4.B reserves as invalid.
var ErrInvalidID = errors.New("lm: id must be nonzero")

// ErrUnsupportedFamily indicates addr is neither IPv4 nor IPv6.
var ErrUnsupportedFamily = errors.New("lm: address family must be IPv4 or IPv6")

// ErrNoSuchID indicates no listener is registered under the given id.
var ErrNoSuchID = errors.New("lm: no listener registered for id")

// Manager owns a set of listening MPTCP sockets keyed by MPTCP address id.
// The zero value is not usable; construct with New.
type Manager struct {
	mu        sync.Mutex
	listeners map[uint8]net.Listener
}

// New creates an empty listener manager (spec.md §4.B "create()").
func New() *Manager {
	return &Manager{listeners: make(map[uint8]net.Listener)}
}

// Listen opens a stream socket with the MPTCP protocol, binds it to addr,
// starts listening with a zero backlog, and stores it under id (spec.md
// §4.B "listen()"). Requires id != 0 and addr.Family in {v4, v6}. On any
// failure the socket is closed and the error is returned; no partial state
// is left behind.
func (m *Manager) Listen(id uint8, addr mptcpaddr.Addr) error {
	if id == 0 {
		return ErrInvalidID
	}
	if !addr.IsValid() {
		return ErrUnsupportedFamily
	}

	ln, err := listenMPTCP(addr)
	if err != nil {
		return fmt.Errorf("lm: listen id=%d addr=%s: %w", id, addr, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.listeners[id]; ok {
		_ = old.Close()
	}
	m.listeners[id] = ln

	return nil
}

// Close removes and closes the listener stored under id, if any. Returns
// ErrNoSuchID if no listener is registered (spec.md §8 scenario S6).
func (m *Manager) Close(id uint8) error {
	m.mu.Lock()
	ln, ok := m.listeners[id]
	if ok {
		delete(m.listeners, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrNoSuchID
	}

	if err := ln.Close(); err != nil {
		return fmt.Errorf("lm: close id=%d: %w", id, err)
	}
	return nil
}

// CloseAll closes every stored socket exactly once and empties the
// manager (spec.md §4.B "destroy()"). CloseAll is idempotent.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	listeners := m.listeners
	m.listeners = make(map[uint8]net.Listener)
	m.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
}

// Len reports the number of live listeners.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// listenMPTCP creates a listening socket with IPPROTO_MPTCP bound to addr,
// then wraps the raw file descriptor as a net.Listener. This mirrors the
// raw-socket-option pattern of opening a socket with a non-default
// protocol and handing it to the net package via a *os.File, the same
// shape used for non-standard socket configuration elsewhere in this
// lineage of daemons.
func listenMPTCP(addr mptcpaddr.Addr) (net.Listener, error) {
	domain := unix.AF_INET
	if addr.Is6() {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, ipprotoMPTCP)
	if err != nil {
		return nil, fmt.Errorf("socket(AF, SOCK_STREAM, IPPROTO_MPTCP): %w", err)
	}

	if sockErr := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set SO_REUSEADDR: %w", sockErr)
	}

	sa, err := sockaddr(addr)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if bindErr := unix.Bind(fd, sa); bindErr != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, bindErr)
	}

	// spec.md §4.B: "listen(backlog=0)".
	if listenErr := unix.Listen(fd, 0); listenErr != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", listenErr)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("mptcp-listener-%s", addr))
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("wrap listener fd: %w", err)
	}

	return ln, nil
}

func sockaddr(addr mptcpaddr.Addr) (unix.Sockaddr, error) {
	if addr.Is4() {
		sa := &unix.SockaddrInet4{Port: int(addr.Port)}
		sa.Addr = addr.IP.As4()
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: int(addr.Port)}
	sa.Addr = addr.IP.As16()
	return sa, nil
}
