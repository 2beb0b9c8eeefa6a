package plugin_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mptcpd/mptcpd/internal/plugin"
)

// Loading real plugin shared objects requires a built .so, which this test
// suite cannot produce without invoking the Go toolchain; these tests cover
// the registry's token-binding, default-selection, and directory-safety
// logic that does not require an actually-loaded plugin.

func TestLookupUnboundToken(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	if _, ok := r.Lookup(42); ok {
		t.Errorf("Lookup(unbound) = true, want false")
	}
}

func TestBindAndLookup(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	ops := plugin.Ops{}
	r.Bind(7, ops, "alpha")

	if _, ok := r.Lookup(7); !ok {
		t.Fatalf("Lookup(7) = false after Bind, want true")
	}

	name, ok := r.NameForToken(7)
	if !ok || name != "alpha" {
		t.Errorf("NameForToken(7) = %q, %v, want %q, true", name, ok, "alpha")
	}
}

func TestBindIgnoresZeroToken(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	r.Bind(0, plugin.Ops{}, "alpha")

	if _, ok := r.Lookup(0); ok {
		t.Errorf("Lookup(0) = true, want false (token 0 must never bind)")
	}
}

func TestUnbindRemovesTokenAndName(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	r.Bind(3, plugin.Ops{}, "alpha")
	r.Unbind(3)

	if _, ok := r.Lookup(3); ok {
		t.Errorf("Lookup(3) = true after Unbind, want false")
	}
	if _, ok := r.NameForToken(3); ok {
		t.Errorf("NameForToken(3) = true after Unbind, want false")
	}
}

func TestOpsForStrategyNoPluginsLoaded(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	if _, _, ok := r.OpsForStrategy("anything"); ok {
		t.Errorf("OpsForStrategy() = true with no plugins loaded, want false")
	}
}

func TestListEmptyRegistry(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	if got := r.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
}

func TestForEachEmptyRegistry(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	calls := 0
	r.ForEach(func(plugin.Ops) { calls++ })

	if calls != 0 {
		t.Errorf("ForEach called fn %d times on empty registry, want 0", calls)
	}
}

func TestUnloadAllOnEmptyRegistry(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	r.UnloadAll() // must not panic
	if got := r.List(); len(got) != 0 {
		t.Errorf("List() after UnloadAll = %v, want empty", got)
	}
}

func TestLoadRejectsMissingDirectory(t *testing.T) {
	t.Parallel()

	r := plugin.New(nil, "")
	err := r.Load(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	if !errors.Is(err, plugin.ErrUnsafeDir) {
		t.Errorf("Load(missing dir) error = %v, want %v", err, plugin.ErrUnsafeDir)
	}
}

func TestLoadRejectsWorldWritableDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o777); err != nil {
		t.Fatalf("chmod temp dir: %v", err)
	}

	r := plugin.New(nil, "")
	err := r.Load(dir, nil)
	if !errors.Is(err, plugin.ErrUnsafeDir) {
		t.Errorf("Load(world-writable dir) error = %v, want %v", err, plugin.ErrUnsafeDir)
	}
}

func TestLoadEmptyDirectorySucceeds(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatalf("chmod temp dir: %v", err)
	}

	r := plugin.New(nil, "")
	if err := r.Load(dir, nil); err != nil {
		t.Errorf("Load(empty dir) = %v, want nil", err)
	}
	if got := r.List(); len(got) != 0 {
		t.Errorf("List() after loading empty dir = %v, want empty", got)
	}
}

func TestLoadSkipsNonSharedObjectFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatalf("chmod temp dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a plugin"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	r := plugin.New(nil, "")
	if err := r.Load(dir, nil); err != nil {
		t.Errorf("Load() = %v, want nil", err)
	}
	if got := r.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty (non-.so file must be ignored)", got)
	}
}

func TestLoadSkipsUnopenableSharedObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatalf("chmod temp dir: %v", err)
	}
	// A file with a .so suffix that is not a valid ELF plugin image; Load
	// must skip it (logging a warning) rather than failing outright.
	if err := os.WriteFile(filepath.Join(dir, "bogus.so"), []byte("not an elf"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	r := plugin.New(nil, "")
	if err := r.Load(dir, nil); err != nil {
		t.Errorf("Load() = %v, want nil (bad plugins are skipped, not fatal)", err)
	}
	if got := r.List(); len(got) != 0 {
		t.Errorf("List() = %v, want empty", got)
	}
}
