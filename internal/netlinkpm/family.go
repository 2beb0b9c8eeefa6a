package netlinkpm

import (
	"context"
	"log/slog"

	"github.com/mdlayher/genetlink"
)

// Family bundles a resolved dialect with its live multicast event stream,
// the unit the path manager (spec.md §4.G) attaches and detaches as the
// kernel family appears and disappears.
type Family struct {
	Dialect *Dialect
	conn    *conn
	classOf func(cmd uint8) (Class, bool)
}

// Open probes the kernel sysctls (spec.md §6 "Selection"), dials the
// winning dialect's generic-netlink family, and joins its multicast event
// group. Returns ErrNoMPTCPSupport if neither sysctl indicates an enabled
// kernel path manager.
func Open(log *slog.Logger) (*Family, error) {
	probe, err := probeDialect()
	if err != nil {
		return nil, err
	}

	var (
		d       *Dialect
		c       *conn
		classOf func(uint8) (Class, bool)
	)
	switch probe.dialectName {
	case "upstream":
		d, c, err = newUpstream(log)
		classOf = upstreamEventClass
	default:
		d, c, err = newKernel(log)
		classOf = legacyEventClass
	}
	if err != nil {
		return nil, err
	}

	return &Family{Dialect: d, conn: c, classOf: classOf}, nil
}

// Close releases the family's netlink connection. Idempotent.
func (f *Family) Close() error {
	if f == nil || f.Dialect == nil {
		return nil
	}
	return f.Dialect.Close()
}

// Events starts delivering decoded multicast notifications to out until
// ctx is cancelled. Malformed or unrecognized messages are dropped with a
// log warning rather than stopping the stream (spec.md §4.E "unknown
// attributes are ignored" generalizes to unknown event messages too).
//
// Events is a thin decode-and-forward layer; the NotReady/Ready state
// machine and the 10s appearance timer of spec.md §4.G live in the path
// manager, which is the component that knows when a Family exists at all.
func (f *Family) Events(ctx context.Context, log *slog.Logger) <-chan *Event {
	out := make(chan *Event)

	go func() {
		defer close(out)
		for {
			msgs, err := f.receiveRaw(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if log != nil {
					log.Warn("netlink receive failed", "error", err)
				}
				return
			}
			for _, m := range msgs {
				class, ok := f.classOf(m.Header.Command)
				if !ok {
					continue // message on an unrecognized command: not an event we model
				}
				ev, err := decodeAttrs(class, m.Data)
				if err != nil {
					if log != nil {
						log.Warn("dropping malformed event", "error", err)
					}
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// receiveRaw blocks for the next batch of multicast messages, honoring ctx
// cancellation the same way execute does.
func (f *Family) receiveRaw(ctx context.Context) ([]genetlink.Message, error) {
	type result struct {
		msgs []genetlink.Message
		err  error
	}
	done := make(chan result, 1)

	go func() {
		msgs, err := f.conn.gc.Receive()
		done <- result{msgs, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.msgs, r.err
	}
}
