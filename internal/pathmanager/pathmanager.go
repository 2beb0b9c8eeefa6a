// Package pathmanager assembles the Address-ID Manager, Listener Manager,
// netlink dialect, plugin registry, and network monitor into the single
// object spec.md §4.G calls the path manager, and owns the family
// appearance/disappearance watch.
package pathmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mptcpd/mptcpd/internal/events"
	"github.com/mptcpd/mptcpd/internal/idm"
	"github.com/mptcpd/mptcpd/internal/lm"
	mptcpdmetrics "github.com/mptcpd/mptcpd/internal/metrics"
	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
	"github.com/mptcpd/mptcpd/internal/netlinkpm"
	"github.com/mptcpd/mptcpd/internal/netmon"
	"github.com/mptcpd/mptcpd/internal/plugin"
)

// appearanceWarning is the startup grace period before a warning is logged
// if the kernel family never appears (spec.md §4.E "a startup timer (10s)
// logs a warning if the family never appears").
const appearanceWarning = 10 * time.Second

// retryInterval governs how often PathManager retries opening the kernel
// family after a failed or withdrawn attach.
const retryInterval = 5 * time.Second

var (
	// ErrNotReady indicates the kernel MPTCP family is not currently
	// attached (spec.md §7 "Not ready").
	ErrNotReady = netlinkpm.ErrNotReady
	// ErrUnsupported indicates the active dialect does not implement the
	// requested command (spec.md §7 "Unsupported").
	ErrUnsupported = netlinkpm.ErrUnsupported
)

// Config carries the subset of the daemon's configuration the path manager
// needs to assemble itself.
type Config struct {
	PluginDir     string
	LoadPlugins   []string // empty means "load everything in PluginDir"
	DefaultPlugin string

	Notify netmon.Options

	// Metrics receives path-manager telemetry. May be nil, in which case
	// no metrics are recorded.
	Metrics *mptcpdmetrics.Collector
}

// PathManager is the assembly of spec.md §4.G.
type PathManager struct {
	log *slog.Logger
	cfg Config

	idm  *idm.Manager
	lm   *lm.Manager
	reg  *plugin.Registry
	nm   netmon.Monitor
	disp *events.Dispatcher

	mu     sync.Mutex
	family *netlinkpm.Family // nil when NotReady

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Create allocates all sub-resources, loads and initialises plugins,
// starts the network monitor, and starts the family watch (spec.md §4.G
// "Lifetime"). Plugin load/init failures are logged and skipped rather
// than fatal; the only fatal condition left to the caller is an unsafe
// plugin directory, which Create surfaces as a returned error.
func Create(ctx context.Context, log *slog.Logger, cfg Config) (*PathManager, error) {
	reg := plugin.New(log, cfg.DefaultPlugin)

	pm := &PathManager{
		log:  log,
		cfg:  cfg,
		idm:  idm.New(),
		lm:   lm.New(),
		reg:  reg,
		nm:   netmon.New(log, cfg.Notify),
		disp: events.New(log, reg, cfg.Metrics),
	}

	if cfg.PluginDir != "" {
		if err := reg.Load(cfg.PluginDir, cfg.LoadPlugins); err != nil {
			return nil, err
		}
		reg.InitAll(pm)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pm.cancel = cancel

	pm.wg.Add(2)
	go func() {
		defer pm.wg.Done()
		pm.runNetworkMonitor(runCtx)
	}()
	go func() {
		defer pm.wg.Done()
		pm.runFamilyWatch(runCtx)
	}()

	return pm, nil
}

// Destroy unloads plugins, destroys IDM/LM/NM, cancels the family watch,
// and releases the netlink handle (spec.md §4.G "Lifetime"). Idempotent.
func (pm *PathManager) Destroy() {
	pm.closeOnce.Do(func() {
		pm.cancel()
		pm.wg.Wait()

		pm.mu.Lock()
		fam := pm.family
		pm.family = nil
		pm.mu.Unlock()
		if fam != nil {
			_ = fam.Close()
		}

		pm.reg.UnloadAll()
		pm.idm.Close()
		pm.lm.CloseAll()
		_ = pm.nm.Close()
	})
}

// IsReady reports whether the kernel family handle is currently attached
// (spec.md §4.G "is_ready()").
func (pm *PathManager) IsReady() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.family != nil
}

// runFamilyWatch implements the NotReady→Ready→… state machine of spec.md
// §4.E, retrying Open until it succeeds, arming the 10s appearance-warning
// timer, and re-arming it whenever the family is lost.
func (pm *PathManager) runFamilyWatch(ctx context.Context) {
	for {
		pm.attachOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryInterval):
		}
	}
}

// attachOnce opens the family, runs reconciliation, and pumps events until
// the connection drops or ctx is cancelled. It logs the 10s appearance
// warning if Open itself never succeeds within the grace period.
func (pm *PathManager) attachOnce(ctx context.Context) {
	type openResult struct {
		fam *netlinkpm.Family
		err error
	}
	done := make(chan openResult, 1)
	go func() {
		fam, err := netlinkpm.Open(pm.log)
		done <- openResult{fam, err}
	}()

	timer := time.NewTimer(appearanceWarning)
	defer timer.Stop()

	var res openResult
	select {
	case res = <-done:
	case <-timer.C:
		if pm.log != nil {
			pm.log.Warn("MPTCP kernel family has not appeared after startup grace period", "grace", appearanceWarning)
		}
		select {
		case res = <-done:
		case <-ctx.Done():
			return
		}
	case <-ctx.Done():
		return
	}

	if res.err != nil {
		if pm.log != nil {
			pm.log.Debug("kernel family not available yet", "error", res.err)
		}
		return
	}

	pm.mu.Lock()
	pm.family = res.fam
	pm.mu.Unlock()

	if pm.log != nil {
		pm.log.Info("MPTCP kernel family attached", "dialect", res.fam.Dialect.Name)
	}
	if pm.cfg.Metrics != nil {
		pm.cfg.Metrics.SetFamilyReady(res.fam.Dialect.Name, true)
	}

	pm.reconcile(ctx, res.fam)

	for ev := range res.fam.Events(ctx, pm.log) {
		pm.disp.Dispatch(ev)
	}

	pm.mu.Lock()
	pm.family = nil
	pm.mu.Unlock()

	if pm.cfg.Metrics != nil {
		pm.cfg.Metrics.SetFamilyReady(res.fam.Dialect.Name, false)
	}
	if pm.log != nil {
		pm.log.Warn("MPTCP kernel family withdrawn")
	}
}

// reconcile implements spec.md §4.G "Post-attach reconciliation": when the
// kernel-oriented dialect is active, dump existing addresses and inject
// map_id for each into the IDM.
func (pm *PathManager) reconcile(ctx context.Context, fam *netlinkpm.Family) {
	if fam.Dialect.DumpAddrs == nil {
		return
	}

	err := fam.Dialect.DumpAddrs(ctx, func(info netlinkpm.AddrInfo) {
		ok := pm.idm.MapID(info.Addr, info.ID)
		if pm.log != nil {
			pm.log.Debug("post-attach reconciliation", "addr", info.Addr, "id", info.ID, "synced", ok)
		}
	}, func(err error) {
		if err != nil && pm.log != nil {
			pm.log.Warn("post-attach reconciliation dump failed", "error", err)
		}
		if pm.cfg.Metrics != nil {
			pm.cfg.Metrics.SetAddresses(pm.idm.Len())
		}
	})
	if err != nil && pm.log != nil {
		pm.log.Warn("post-attach reconciliation failed to start", "error", err)
	}
}

// runNetworkMonitor runs the network monitor and fans its events out to
// every loaded plugin (spec.md §4.F "Network-monitor fan-out").
func (pm *PathManager) runNetworkMonitor(ctx context.Context) {
	go func() {
		for ev := range pm.nm.Events() {
			pm.fanOut(ev)
		}
	}()

	if err := pm.nm.Run(ctx); err != nil && pm.log != nil {
		pm.log.Warn("network monitor stopped", "error", err)
	}
}

func (pm *PathManager) fanOut(ev netmon.Event) {
	ifi := toPluginInterface(ev.Interface)

	pm.reg.ForEach(func(ops plugin.Ops) {
		switch ev.Kind {
		case netmon.NewInterface:
			if ops.NewInterface != nil {
				ops.NewInterface(ifi)
			}
		case netmon.UpdateInterface:
			if ops.UpdateInterface != nil {
				ops.UpdateInterface(ifi)
			}
		case netmon.DeleteInterface:
			if ops.DeleteInterface != nil {
				ops.DeleteInterface(ifi)
			}
		case netmon.NewAddress:
			if ops.NewLocalAddress != nil {
				ops.NewLocalAddress(ev.Interface.Index, ev.Addr)
			}
		case netmon.DeleteAddress:
			if ops.DeleteLocalAddress != nil {
				ops.DeleteLocalAddress(ev.Interface.Index, ev.Addr)
			}
		}
	})
}

func toPluginInterface(ifi netmon.Interface) plugin.Interface {
	return plugin.Interface{
		Index:     ifi.Index,
		Name:      ifi.Name,
		Flags:     uint32(ifi.Flags),
		Addresses: ifi.Addresses,
	}
}

// --- outward command surface: every call checks readiness and dialect
// support first, per spec.md §4.G "Every outward command call first checks
// readiness and active-dialect support; violations surface as NOT_READY or
// UNSUPPORTED." ---

func (pm *PathManager) dialect() (*netlinkpm.Dialect, error) {
	pm.mu.Lock()
	fam := pm.family
	pm.mu.Unlock()

	if fam == nil {
		return nil, ErrNotReady
	}
	return fam.Dialect, nil
}

// AddAddr announces addr under id on the given connection token, via the
// client-oriented dialect command if active.
func (pm *PathManager) AddAddr(ctx context.Context, addr mptcpaddr.Addr, id uint8, token uint32) error {
	d, err := pm.dialect()
	if err != nil {
		return err
	}
	if d.AddAddrClient == nil {
		return ErrUnsupported
	}
	return d.AddAddrClient(ctx, addr, id, token)
}

// RemoveAddr withdraws a previously announced address.
func (pm *PathManager) RemoveAddr(ctx context.Context, id uint8, token uint32) error {
	d, err := pm.dialect()
	if err != nil {
		return err
	}
	if d.RemoveAddrClient == nil {
		return ErrUnsupported
	}
	return d.RemoveAddrClient(ctx, id, token)
}

// AddSubflow requests a new subflow for token.
func (pm *PathManager) AddSubflow(ctx context.Context, token uint32, localID, remoteID uint8, local, remote mptcpaddr.Addr, backup bool) error {
	d, err := pm.dialect()
	if err != nil {
		return err
	}
	if d.AddSubflow == nil {
		return ErrUnsupported
	}
	return d.AddSubflow(ctx, token, localID, remoteID, local, remote, backup)
}

// RemoveSubflow tears down a subflow.
func (pm *PathManager) RemoveSubflow(ctx context.Context, token uint32, local, remote mptcpaddr.Addr) error {
	d, err := pm.dialect()
	if err != nil {
		return err
	}
	if d.RemoveSubflow == nil {
		return ErrUnsupported
	}
	return d.RemoveSubflow(ctx, token, local, remote)
}

// SetBackup toggles the backup flag on a subflow.
func (pm *PathManager) SetBackup(ctx context.Context, token uint32, local, remote mptcpaddr.Addr, backup bool) error {
	d, err := pm.dialect()
	if err != nil {
		return err
	}
	if d.SetBackup == nil {
		return ErrUnsupported
	}
	return d.SetBackup(ctx, token, local, remote, backup)
}

// ForEachInterface synchronously visits every interface known to the
// network monitor (spec.md §6 "foreach_interface(visitor)"), satisfying
// plugin.Host for policies that need to reverse-look-up an address's
// owning interface (e.g. sspi).
func (pm *PathManager) ForEachInterface(visitor func(plugin.Interface)) {
	pm.nm.ForEachInterface(func(ifi netmon.Interface) {
		visitor(toPluginInterface(ifi))
	})
}

// IDM exposes the address-ID manager for the listener manager / admin
// introspection paths that need read access to it.
func (pm *PathManager) IDM() *idm.Manager { return pm.idm }

// GetAddrID implements plugin.Host by delegating to the address-ID manager,
// so a policy announcing an address it did not itself learn an id for (e.g.
// sspi advertising a peer interface's address) gets a real, allocated id
// rather than the reserved-invalid 0.
func (pm *PathManager) GetAddrID(addr mptcpaddr.Addr) uint8 {
	return pm.idm.GetID(addr)
}

// LM exposes the listener manager.
func (pm *PathManager) LM() *lm.Manager { return pm.lm }

// Snapshot is a read-only view of path manager state, for the admin
// introspection listener (spec.md §6 "mptcpctl status / plugins").
type Snapshot struct {
	Ready      bool
	Dialect    string
	FamilyName string
	Addresses  int
	Plugins    []plugin.Info
}

// Snapshot assembles the current path manager state for admin introspection.
func (pm *PathManager) Snapshot() Snapshot {
	pm.mu.Lock()
	fam := pm.family
	pm.mu.Unlock()

	s := Snapshot{
		Ready:     fam != nil,
		Addresses: pm.idm.Len(),
		Plugins:   pm.reg.List(),
	}
	if fam != nil {
		s.Dialect = fam.Dialect.Name
		s.FamilyName = fam.Dialect.FamilyName
	}
	return s
}
