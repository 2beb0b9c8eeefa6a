package netmon_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mptcpd/mptcpd/internal/netmon"
)

func TestReplayExistingEmitsInitialSnapshot(t *testing.T) {
	t.Parallel()

	m := netmon.New(nil, netmon.Options{ReplayExisting: true})
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// PollInterval is zero, so Run blocks on ctx after the initial scan;
	// give it a moment to emit NewInterface/NewAddress events before
	// cancelling.
	var sawNewInterface bool
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				break loop
			}
			if ev.Kind == netmon.NewInterface {
				sawNewInterface = true
			}
		case <-timeout:
			break loop
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
	if !sawNewInterface {
		t.Errorf("expected at least one NewInterface event from the initial replay")
	}
}

func TestForEachInterfaceAfterScan(t *testing.T) {
	t.Parallel()

	m := netmon.New(nil, netmon.Options{ReplayExisting: true})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	<-done

	seen := 0
	m.ForEachInterface(func(netmon.Interface) {
		seen++
	})

	// Every host has at least a loopback interface.
	if seen == 0 {
		t.Errorf("ForEachInterface visited 0 interfaces, want at least 1 (loopback)")
	}
}

func TestSkipLoopbackExcludesLoopback(t *testing.T) {
	t.Parallel()

	m := netmon.New(nil, netmon.Options{ReplayExisting: true, SkipLoopback: true})
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	<-done

	m.ForEachInterface(func(ifi netmon.Interface) {
		if ifi.Flags&net.FlagLoopback != 0 {
			t.Errorf("ForEachInterface visited loopback interface %q with SkipLoopback enabled", ifi.Name)
		}
	})
}

func TestCloseStopsRunWithoutContextCancel(t *testing.T) {
	t.Parallel()

	m := netmon.New(nil, netmon.Options{PollInterval: time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	time.Sleep(5 * time.Millisecond)
	if err := m.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after Close()")
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	m := netmon.New(nil, netmon.Options{})
	if err := m.Close(); err != nil {
		t.Errorf("first Close() = %v, want nil", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}
