package netlinkpm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
)

// conn wraps a *genetlink.Conn with the bookkeeping every dialect needs:
// the resolved family id/name, the joined multicast group (if any), and a
// ready flag flipped by the family watch (spec.md §4.G "States of the
// kernel-family handle").
//
// conn.Execute already assembles multi-part dump replies internally (the
// mdlayher/genetlink client loops on Receive until NLM_F_MULTI ends), so
// the DumpCallback/CompletionCallback shape on Dialect is satisfied
// synchronously here even though callers see it as a callback API.
type conn struct {
	mu     sync.Mutex
	gc     *genetlink.Conn
	family genetlink.Family
	ready  atomic.Bool

	log *slog.Logger
}

// dial resolves familyName and joins groupName (if non-empty), returning a
// ready conn. spec.md §6 "Protocol encoding".
func dial(log *slog.Logger, familyName, groupName string) (*conn, error) {
	gc, err := genetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("netlinkpm: dial generic netlink: %w", err)
	}

	fam, err := gc.GetFamily(familyName)
	if err != nil {
		_ = gc.Close()
		return nil, fmt.Errorf("netlinkpm: resolve family %q: %w", familyName, err)
	}

	c := &conn{gc: gc, family: fam, log: log}

	if groupName != "" {
		groupID, ok := findGroup(fam, groupName)
		if !ok {
			_ = gc.Close()
			return nil, fmt.Errorf("netlinkpm: family %q has no multicast group %q", familyName, groupName)
		}
		if err := gc.JoinGroup(groupID); err != nil {
			_ = gc.Close()
			return nil, fmt.Errorf("netlinkpm: join group %q: %w", groupName, err)
		}
	}

	c.ready.Store(true)
	return c, nil
}

func findGroup(fam genetlink.Family, name string) (uint32, bool) {
	for _, g := range fam.Groups {
		if g.Name == name {
			return g.ID, true
		}
	}
	return 0, false
}

func (c *conn) close() error {
	c.ready.Store(false)
	return c.gc.Close()
}

// execute sends a single command message and returns every reply message,
// honoring ctx cancellation by racing it against the (blocking) netlink
// call on a background goroutine.
func (c *conn) execute(ctx context.Context, cmd uint8, flags netlink.HeaderFlags, encode func(*netlink.AttributeEncoder)) ([]genetlink.Message, error) {
	if !c.ready.Load() {
		return nil, ErrNotReady
	}

	var data []byte
	if encode != nil {
		ae := netlink.NewAttributeEncoder()
		encode(ae)
		b, err := ae.Encode()
		if err != nil {
			return nil, fmt.Errorf("netlinkpm: encode attributes: %w", err)
		}
		data = b
	}

	msg := genetlink.Message{
		Header: genetlink.Header{
			Command: cmd,
			Version: c.family.Version,
		},
		Data: data,
	}

	type result struct {
		msgs []genetlink.Message
		err  error
	}
	done := make(chan result, 1)

	go func() {
		msgs, err := c.gc.Execute(msg, c.family.ID, netlink.Request|flags)
		done <- result{msgs, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("netlinkpm: execute command %d: %w", cmd, r.err)
		}
		return r.msgs, nil
	}
}

// executeDump runs a dump-flagged command and delivers one decoded record
// per message to cb, then calls complete exactly once.
func (c *conn) executeDump(ctx context.Context, cmd uint8, encode func(*netlink.AttributeEncoder), decode func(genetlink.Message) (AddrInfo, error), cb DumpCallback, complete CompletionCallback) error {
	msgs, err := c.execute(ctx, cmd, netlink.Dump, encode)
	if err != nil {
		if complete != nil {
			complete(err)
		}
		return err
	}

	for _, m := range msgs {
		info, err := decode(m)
		if err != nil {
			if c.log != nil {
				c.log.Warn("skipping malformed dump record", "error", err)
			}
			continue
		}
		if cb != nil {
			cb(info)
		}
	}

	if complete != nil {
		complete(nil)
	}
	return nil
}
