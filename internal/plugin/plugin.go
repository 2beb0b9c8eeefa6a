// Package plugin implements the policy plugin framework of spec.md §4.F:
// discovery and priority-ordered loading of shared objects, registration
// of per-plugin handler sets, per-connection-token binding, and fan-out of
// network-monitor events to every loaded plugin.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
)

// soSuffix is the shared-object filename suffix enumerated when loading a
// plugin directory (spec.md §4.F "Loading").
const soSuffix = ".so"

// descriptorSymbol is the well-known exported symbol every plugin shared
// object must provide (spec.md §4.F "resolve a well-known descriptor
// symbol"). It must have type *Descriptor.
const descriptorSymbol = "MptcpdPlugin"

// Ops is the record of plugin handlers spec.md §3 "Plugin operations"
// defines: eight per-connection handlers plus five network-monitor
// handlers. Every field is optional.
type Ops struct {
	NewConnection          func(token uint32, local, remote mptcpaddr.Addr, serverSide bool)
	ConnectionEstablished  func(token uint32, local, remote mptcpaddr.Addr, serverSide bool)
	ConnectionClosed       func(token uint32)
	NewAddress             func(token uint32, remoteID uint8, remote mptcpaddr.Addr)
	AddressRemoved         func(token uint32, remoteID uint8)
	NewSubflow             func(token uint32, local, remote mptcpaddr.Addr, backup bool)
	SubflowClosed          func(token uint32, local, remote mptcpaddr.Addr)
	SubflowPriority        func(token uint32, local, remote mptcpaddr.Addr, backup bool)

	NewInterface       func(ifi Interface)
	UpdateInterface    func(ifi Interface)
	DeleteInterface    func(ifi Interface)
	NewLocalAddress    func(ifIndex int, addr mptcpaddr.Addr)
	DeleteLocalAddress func(ifIndex int, addr mptcpaddr.Addr)
}

// Interface is the network-interface snapshot spec.md §3 "Network
// interface" defines, re-exported here so plugin handlers need not import
// the network-monitor package directly.
type Interface struct {
	Family    int
	Type      int
	Index     int
	Flags     uint32
	Name      string
	Addresses []mptcpaddr.Addr
}

// nonEmpty reports whether at least one handler is set (spec.md §4.F
// "Registration": "If at least one handler is non-null, the record is
// accepted.").
func (o Ops) nonEmpty() bool {
	switch {
	case o.NewConnection != nil, o.ConnectionEstablished != nil, o.ConnectionClosed != nil,
		o.NewAddress != nil, o.AddressRemoved != nil,
		o.NewSubflow != nil, o.SubflowClosed != nil, o.SubflowPriority != nil,
		o.NewInterface != nil, o.UpdateInterface != nil, o.DeleteInterface != nil,
		o.NewLocalAddress != nil, o.DeleteLocalAddress != nil:
		return true
	default:
		return false
	}
}

// Descriptor is the symbol every plugin shared object exports under
// descriptorSymbol (spec.md §3 "Plugin descriptor").
type Descriptor struct {
	Name        string
	Description string
	Priority    int

	// Init is called once, in priority order, after loading. It receives a
	// Registrar the plugin uses to call RegisterOps, and a Host bound to
	// the running path manager. Passing the handle explicitly here (rather
	// than through module-level globals) is the re-implementation spec.md
	// §9 calls for: "pass the path-manager handle explicitly to init,
	// store maps as members, and eliminate module-level mutable state."
	Init func(r Registrar, host Host) error

	// Exit is called once, in reverse initialisation order, at unload.
	Exit func()
}

// Registrar is the narrow interface a plugin's Init receives, matching
// spec.md §4.F "Each plugin's init calls register_ops(name, ops)".
type Registrar interface {
	RegisterOps(name string, ops Ops)
}

// Host is the path manager's command surface, handed to every plugin's
// Init so policies can issue commands and query interface state without
// importing the path manager package directly.
type Host interface {
	AddAddr(ctx context.Context, addr mptcpaddr.Addr, id uint8, token uint32) error
	RemoveAddr(ctx context.Context, id uint8, token uint32) error
	AddSubflow(ctx context.Context, token uint32, localID, remoteID uint8, local, remote mptcpaddr.Addr, backup bool) error
	RemoveSubflow(ctx context.Context, token uint32, local, remote mptcpaddr.Addr) error
	SetBackup(ctx context.Context, token uint32, local, remote mptcpaddr.Addr, backup bool) error
	ForEachInterface(visitor func(Interface))

	// GetAddrID returns the address-ID manager's id for addr, allocating
	// the minimum unused one if addr is not yet known (spec.md §4.A
	// "get_id"), so a policy can announce an address with a real id
	// instead of the reserved-invalid 0 (spec.md §3).
	GetAddrID(addr mptcpaddr.Addr) uint8
}

var (
	// ErrUnsafeDir indicates the plugin directory does not exist, is not a
	// directory, or is world-writable (spec.md §4.F "Loading").
	ErrUnsafeDir = errors.New("plugin: directory missing, not a directory, or world-writable")

	// ErrMissingDescriptor indicates a shared object had no descriptorSymbol
	// symbol, a descriptor of the wrong type, or an empty Name.
	ErrMissingDescriptor = errors.New("plugin: shared object missing a usable descriptor")
)

type entry struct {
	desc    Descriptor
	handle  *plugin.Plugin
	ops     Ops
	name    string // name passed to RegisterOps; empty until registered
	initErr error
}

// Registry is the loaded, priority-ordered plugin set plus its token
// binding table (spec.md §4.F). The zero value is not usable; construct
// with New.
type Registry struct {
	mu sync.Mutex

	log *slog.Logger

	entries     []*entry // priority-ordered, stable
	byName      map[string]*entry
	byToken     map[uint32]Ops
	nameOfToken map[uint32]string

	defaultName    string
	defaultOps     Ops
	defaultOpsName string
	haveDefault    bool
}

// New creates an empty registry. defaultName is the configured default
// plugin name (spec.md §4.F "Default selection"); it may be empty.
func New(log *slog.Logger, defaultName string) *Registry {
	return &Registry{
		log:         log,
		byName:      make(map[string]*entry),
		byToken:     make(map[uint32]Ops),
		nameOfToken: make(map[uint32]string),
		defaultName: defaultName,
	}
}

// Load enumerates shared objects in dir (or, if only is non-empty, just
// those filenames), validates dir's safety, resolves each descriptor, and
// inserts them into priority order (spec.md §4.F "Loading"). It does not
// call Init; call InitAll afterward.
func (r *Registry) Load(dir string, only []string) error {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() || fi.Mode().Perm()&0o002 != 0 {
		return fmt.Errorf("%w: %s", ErrUnsafeDir, dir)
	}

	var names []string
	if len(only) > 0 {
		names = only
	} else {
		ents, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("plugin: read dir %s: %w", dir, err)
		}
		for _, e := range ents {
			if !e.IsDir() && strings.HasSuffix(e.Name(), soSuffix) {
				names = append(names, e.Name())
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := r.loadOneLocked(path); err != nil {
			if r.log != nil {
				r.log.Warn("skipping plugin", "path", path, "error", err)
			}
			continue
		}
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].desc.Priority < r.entries[j].desc.Priority
	})

	return nil
}

func (r *Registry) loadOneLocked(path string) error {
	h, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	sym, err := h.Lookup(descriptorSymbol)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissingDescriptor, path, err)
	}

	descPtr, ok := sym.(*Descriptor)
	if !ok || descPtr == nil || descPtr.Name == "" {
		return fmt.Errorf("%w: %s", ErrMissingDescriptor, path)
	}

	e := &entry{desc: *descPtr, handle: h}
	r.entries = append(r.entries, e)
	r.byName[e.desc.Name] = e // duplicate names: last wins, per spec.md §4.F

	return nil
}

// registerOps records ops and the registered name on one plugin's entry;
// registrarFor exposes it as Registrar.RegisterOps to that plugin's Init.
// An Ops with no handler set is ignored. Duplicate descriptor names are
// resolved at Load, where the later-loaded plugin replaces the earlier one
// in the by-name lookup (spec.md §4.F "Registration"). Default-plugin
// selection is resolved later,
// by resolveDefault, once every plugin's Init has had a chance to run:
// resolving it here, as soon as one plugin registers, would let an
// earlier-priority plugin claim the default before a later, configured
// one even gets a chance to match.
func (r *Registry) registerOps(e *entry, name string, ops Ops) {
	if !ops.nonEmpty() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e.ops = ops
	e.name = name
}

// registrarFor binds RegisterOps calls from a specific plugin's Init to
// its entry.
type registrarFor struct {
	r *Registry
	e *entry
}

func (rf registrarFor) RegisterOps(name string, ops Ops) {
	rf.r.registerOps(rf.e, name, ops)
}

// InitAll calls Init on every loaded plugin in priority order. A failing
// Init is logged and that plugin is skipped for the remainder of its
// lifetime (spec.md §4.F "Loading"). InitAll also finalizes the default
// selection once every plugin has had a chance to register: if a
// configured default name matched a registration, that plugin wins
// regardless of priority; otherwise the first (lowest-priority)
// registration becomes the default (spec.md §4.F "Default selection").
func (r *Registry) InitAll(host Host) {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		if e.desc.Init == nil {
			continue
		}
		if err := e.desc.Init(registrarFor{r: r, e: e}, host); err != nil {
			e.initErr = err
			if r.log != nil {
				r.log.Warn("plugin init failed, skipping", "plugin", e.desc.Name, "error", err)
			}
			continue
		}
	}

	r.resolveDefault()
}

// resolveDefault picks the default plugin after every Init call has run:
// the configured default name if some plugin registered ops under it, else
// the first (lowest-priority) registration. Called with r.mu unlocked.
func (r *Registry) resolveDefault() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.haveDefault {
		return
	}

	if r.defaultName != "" {
		for _, e := range r.entries {
			if e.initErr == nil && e.ops.nonEmpty() && e.name == r.defaultName {
				r.defaultOps = e.ops
				r.defaultOpsName = e.name
				r.haveDefault = true
				return
			}
		}
	}

	for _, e := range r.entries {
		if e.initErr == nil && e.ops.nonEmpty() {
			r.defaultOps = e.ops
			r.defaultOpsName = e.name
			r.haveDefault = true
			return
		}
	}
}

// UnloadAll calls Exit on every successfully-initialised plugin in reverse
// order (spec.md §4.F "Unload"), then drops all registry state.
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.initErr != nil || e.desc.Exit == nil {
			continue
		}
		e.desc.Exit()
	}

	r.mu.Lock()
	r.entries = nil
	r.byName = make(map[string]*entry)
	r.byToken = make(map[uint32]Ops)
	r.nameOfToken = make(map[uint32]string)
	r.haveDefault = false
	r.defaultOpsName = ""
	r.mu.Unlock()
}

// OpsForStrategy resolves the plugin ops to bind for a CREATED event
// (spec.md §4.E "Dispatch"): the named strategy if registered, else the
// default, else false. The resolved plugin name is returned alongside the
// ops for token→name bookkeeping.
func (r *Registry) OpsForStrategy(strategy string) (Ops, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strategy != "" {
		if e, ok := r.byName[strategy]; ok && e.ops.nonEmpty() {
			return e.ops, e.desc.Name, true
		}
	}
	if r.haveDefault {
		return r.defaultOps, r.defaultOpsName, true
	}
	return Ops{}, "", false
}

// Bind associates token with ops, established on the first new_connection
// for that token (spec.md §3 invariant, §4.F "Token binding"). name
// records which plugin the token is bound to, for metrics/introspection.
func (r *Registry) Bind(token uint32, ops Ops, name string) {
	if token == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[token] = ops
	r.nameOfToken[token] = name
}

// NameForToken returns the name of the plugin bound to token, if any.
func (r *Registry) NameForToken(token uint32) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.nameOfToken[token]
	return name, ok
}

// Lookup returns the ops bound to token, if any (spec.md §4.E "For
// subsequent events, the decoder looks up ops by token").
func (r *Registry) Lookup(token uint32) (Ops, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops, ok := r.byToken[token]
	return ops, ok
}

// Unbind removes the binding for token, at connection_closed (spec.md §4.F
// "Token binding": "Cleared at connection_closed and on unload").
func (r *Registry) Unbind(token uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byToken, token)
	delete(r.nameOfToken, token)
}

// Info is a read-only snapshot of one loaded plugin, for admin
// introspection.
type Info struct {
	Name        string
	Description string
	Priority    int
	Loaded      bool // Init succeeded and at least one handler is registered
}

// List returns a snapshot of every loaded plugin in priority order, for
// admin introspection (spec.md §6 "mptcpctl plugins").
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			Priority:    e.desc.Priority,
			Loaded:      e.initErr == nil && e.ops.nonEmpty(),
		})
	}
	return out
}

// ForEach invokes fn once per loaded plugin's Ops, in registration order,
// for network-monitor fan-out (spec.md §4.F "Network-monitor fan-out").
func (r *Registry) ForEach(fn func(Ops)) {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		if e.initErr != nil {
			continue
		}
		fn(e.ops)
	}
}
