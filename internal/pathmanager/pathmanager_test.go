package pathmanager_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/mptcpd/mptcpd/internal/mptcpaddr"
	"github.com/mptcpd/mptcpd/internal/netmon"
	"github.com/mptcpd/mptcpd/internal/pathmanager"
	"github.com/mptcpd/mptcpd/internal/plugin"
)

// newTestManager creates a PathManager with no plugin directory configured,
// so no real plugin .so is ever loaded, and a disabled network monitor poll
// loop isn't needed for these assertions to hold: the kernel family will
// never attach in this sandbox (no MPTCP sysctl), so PathManager stays
// NotReady for the lifetime of the test, which is exactly the state these
// tests exercise.
func newTestManager(t *testing.T) *pathmanager.PathManager {
	t.Helper()

	pm, err := pathmanager.Create(context.Background(), nil, pathmanager.Config{
		Notify: netmon.Options{PollInterval: time.Hour, ReplayExisting: true},
	})
	if err != nil {
		t.Fatalf("Create() = %v, want nil error", err)
	}
	t.Cleanup(pm.Destroy)
	return pm
}

func TestCreateStartsNotReady(t *testing.T) {
	t.Parallel()

	pm := newTestManager(t)
	if pm.IsReady() {
		t.Errorf("IsReady() = true immediately after Create(), want false (no kernel family in this environment)")
	}
}

func TestSnapshotReflectsNotReadyState(t *testing.T) {
	t.Parallel()

	pm := newTestManager(t)
	snap := pm.Snapshot()
	if snap.Ready {
		t.Errorf("Snapshot().Ready = true, want false")
	}
	if snap.Dialect != "" {
		t.Errorf("Snapshot().Dialect = %q, want empty", snap.Dialect)
	}
	if len(snap.Plugins) != 0 {
		t.Errorf("Snapshot().Plugins = %v, want empty", snap.Plugins)
	}
}

func TestOutwardCommandsReturnNotReady(t *testing.T) {
	t.Parallel()

	pm := newTestManager(t)
	ctx := context.Background()
	local := mptcpaddr.New(netip.MustParseAddr("10.0.0.1"), 0)
	remote := mptcpaddr.New(netip.MustParseAddr("10.0.0.2"), 0)

	if err := pm.AddAddr(ctx, local, 1, 1); !errors.Is(err, pathmanager.ErrNotReady) {
		t.Errorf("AddAddr() = %v, want ErrNotReady", err)
	}
	if err := pm.RemoveAddr(ctx, 1, 1); !errors.Is(err, pathmanager.ErrNotReady) {
		t.Errorf("RemoveAddr() = %v, want ErrNotReady", err)
	}
	if err := pm.AddSubflow(ctx, 1, 1, 1, local, remote, false); !errors.Is(err, pathmanager.ErrNotReady) {
		t.Errorf("AddSubflow() = %v, want ErrNotReady", err)
	}
	if err := pm.RemoveSubflow(ctx, 1, local, remote); !errors.Is(err, pathmanager.ErrNotReady) {
		t.Errorf("RemoveSubflow() = %v, want ErrNotReady", err)
	}
	if err := pm.SetBackup(ctx, 1, local, remote, true); !errors.Is(err, pathmanager.ErrNotReady) {
		t.Errorf("SetBackup() = %v, want ErrNotReady", err)
	}
}

func TestForEachInterfaceVisitsAtLeastLoopback(t *testing.T) {
	t.Parallel()

	pm := newTestManager(t)

	deadline := time.Now().Add(time.Second)
	var count int
	for time.Now().Before(deadline) {
		count = 0
		pm.ForEachInterface(func(plugin.Interface) { count++ })
		if count > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if count == 0 {
		t.Errorf("ForEachInterface visited 0 interfaces after 1s, want at least 1 (loopback always exists)")
	}
}

func TestIDMAndLMAccessorsAreUsable(t *testing.T) {
	t.Parallel()

	pm := newTestManager(t)
	if pm.IDM() == nil {
		t.Errorf("IDM() = nil, want non-nil manager")
	}
	if pm.LM() == nil {
		t.Errorf("LM() = nil, want non-nil manager")
	}
	if pm.IDM().Len() != 0 {
		t.Errorf("IDM().Len() = %d, want 0 on a freshly created path manager", pm.IDM().Len())
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	t.Parallel()

	pm, err := pathmanager.Create(context.Background(), nil, pathmanager.Config{
		Notify: netmon.Options{PollInterval: time.Hour},
	})
	if err != nil {
		t.Fatalf("Create() = %v, want nil error", err)
	}

	pm.Destroy()
	pm.Destroy() // must not panic or double-close
}
