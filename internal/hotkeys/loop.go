package hotkeys

import (
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/keybind"
)

// run is the loop goroutine: Initializing, Listening, Draining, Closed.
func (m *Manager) run(targets []string) {
	defer close(m.done)
	m.logger.Debug("++ listen", "displays", targets)

	pool, err := openPool(targets, m.open, m.logger)
	if err != nil {
		m.logger.Error("listen: initialization failed", "error", err)
		m.stateMu.Lock()
		m.err = err
		m.state = StateClosed
		m.stateMu.Unlock()
		close(m.ready)
		return
	}

	m.mu.Lock()
	m.pool = pool
	m.mu.Unlock()

	pool.start()
	m.setState(StateListening)
	close(m.ready)

	m.listen(pool)

	m.setState(StateDraining)
	pool.close()
	m.setState(StateClosed)
	m.logger.Debug("-- listen")
}

// listen consumes events until Stop is requested or every display is gone.
func (m *Manager) listen(pool *connectionPool) {
	live := len(pool.conns)
	for {
		select {
		case <-m.stop:
			return
		case in := <-pool.events:
			if m.stopping() {
				return
			}
			if in.event == nil && in.err == nil {
				live--
				m.logger.Warn("display connection lost", "display", in.conn.target())
				if live == 0 {
					m.mu.Lock()
					m.closing = true
					m.mu.Unlock()
					m.logger.Error("listen: all display connections lost, exiting")
					return
				}
				continue
			}
			m.handle(in)
		}
	}
}

func (m *Manager) stopping() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Manager) handle(in inbound) {
	if in.err != nil {
		// Errors of unchecked requests land here. They are never fatal.
		m.logger.Debug("caught protocol error",
			"display", in.conn.target(),
			"sequence", in.err.SequenceId(),
			"resource", in.err.BadId(),
			"error", in.err.Error())
		return
	}

	switch ev := in.event.(type) {
	case xproto.KeyPressEvent:
		m.keyPress(in.conn, ev)
	case xproto.MappingNotifyEvent:
		if err := in.conn.display.RefreshMapping(); err != nil {
			m.logger.Warn("cannot refresh keyboard mapping",
				"display", in.conn.target(), "error", err)
		}
	}
}

func (m *Manager) keyPress(c *connection, ev xproto.KeyPressEvent) {
	state := c.offending.Clear(ev.State)

	m.mu.Lock()
	hk, ok := m.table.match(ev.Detail, state)
	m.mu.Unlock()
	if !ok {
		return
	}

	if m.Debug() {
		m.logger.Debug("listen: received",
			"id", hk.ID,
			"display", c.target(),
			"key", keyName(c.display, ev.Detail),
			"keycode", ev.Detail,
			"modifiers", keybind.ModifierString(state))
	}

	fired := FiredEvent{
		ID:      hk.ID,
		Display: c.target(),
		Screen:  c.screenOf(ev.Root),
		X:       int(ev.RootX),
		Y:       int(ev.RootY),
	}
	if m.queryPointer {
		if screen, x, y, found := c.pointer(); found {
			fired.Screen, fired.X, fired.Y = screen, x, y
		}
	}

	m.dispatch.enqueue(fired)
	m.dispatch.flush()
}

// keysymNamer is an optional interface for displays that can name keycodes.
type keysymNamer interface {
	KeysymName(keycode xproto.Keycode) string
}

func keyName(d Display, keycode xproto.Keycode) string {
	if namer, ok := d.(keysymNamer); ok {
		return namer.KeysymName(keycode)
	}
	return ""
}
