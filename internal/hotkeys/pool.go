package hotkeys

import (
	"log/slog"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// eventBuffer bounds how many events the pumps may queue ahead of the loop.
const eventBuffer = 64

// connection is one open display together with the state resolved for it
// at startup.
type connection struct {
	display   Display
	offending OffendingMask
	roots     []xproto.Window
}

func (c *connection) target() string {
	return c.display.Target()
}

// pointer finds the screen holding the pointer by asking each root in turn.
func (c *connection) pointer() (screen, x, y int, ok bool) {
	for i, root := range c.roots {
		reply, err := c.display.QueryPointer(root)
		if err != nil || reply == nil || !reply.SameScreen {
			continue
		}
		return i, int(reply.RootX), int(reply.RootY), true
	}
	return 0, 0, 0, false
}

// screenOf returns the screen index of a root window, or -1.
func (c *connection) screenOf(root xproto.Window) int {
	for i, r := range c.roots {
		if r == root {
			return i
		}
	}
	return -1
}

// inbound is one event or protocol error read from a connection.
type inbound struct {
	conn  *connection
	event xgb.Event
	err   xgb.Error
}

// connectionPool owns every open display. Each display gets a pump goroutine
// that blocks on that display only and forwards into a shared channel, so the
// loop waits on all displays at once without holding any lock.
type connectionPool struct {
	conns  []*connection
	events chan inbound

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// openPool opens every target in order. If any target fails the displays
// opened so far are closed again and a *ConnectionOpenError is returned.
func openPool(targets []string, open Opener, logger *slog.Logger) (*connectionPool, error) {
	if len(targets) == 0 {
		return nil, ErrNoDisplays
	}

	p := &connectionPool{
		events: make(chan inbound, eventBuffer),
		done:   make(chan struct{}),
	}

	for _, target := range targets {
		logger.Debug("registering for display", "display", target)
		d, err := open(target)
		if err != nil {
			p.closeDisplays()
			return nil, &ConnectionOpenError{Target: target, Err: err}
		}
		p.conns = append(p.conns, p.setup(d, logger))
	}
	return p, nil
}

func (p *connectionPool) setup(d Display, logger *slog.Logger) *connection {
	c := &connection{
		display:   d,
		offending: ResolveOffending(d, logger),
		roots:     d.Roots(),
	}

	if err := d.AllowAsyncKeyboard(); err != nil {
		logger.Debug("AllowEvents failed", "display", d.Target(), "error", err)
	}
	for screen, root := range c.roots {
		if err := d.SelectKeyPress(root); err != nil {
			logger.Warn("cannot select key press events",
				"display", d.Target(), "screen", screen, "error", err)
		}
	}
	return c
}

func (p *connectionPool) first() *connection {
	return p.conns[0]
}

// start launches one pump per connection.
func (p *connectionPool) start() {
	for _, c := range p.conns {
		p.wg.Add(1)
		go p.pump(c)
	}
}

func (p *connectionPool) pump(c *connection) {
	defer p.wg.Done()
	for {
		// A nil event with a nil error means the connection closed; it is
		// forwarded once so the loop can notice a lost display.
		ev, xerr := c.display.WaitForEvent()
		select {
		case p.events <- inbound{conn: c, event: ev, err: xerr}:
		case <-p.done:
			return
		}
		if ev == nil && xerr == nil {
			return
		}
	}
}

// close disconnects every display and waits for the pumps to exit.
func (p *connectionPool) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.closeDisplays()
	})
	p.wg.Wait()
}

func (p *connectionPool) closeDisplays() {
	for _, c := range p.conns {
		c.display.Close()
	}
}
