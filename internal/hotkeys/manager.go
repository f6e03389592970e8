package hotkeys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/BurntSushi/xgbutil/keybind"
)

// Options configures a Manager.
type Options struct {
	// DebugOutput receives the manager's log lines. Defaults to os.Stderr.
	DebugOutput io.Writer
	// Debug enables verbose diagnostics from the start.
	Debug bool
	// SkipPointerQuery reports the position carried by the key event instead
	// of querying the pointer for every fired hotkey.
	SkipPointerQuery bool
}

// Manager grabs hotkeys on a set of X displays and reports presses to an
// EventSink. A Manager is single use: once stopped, or once its start failed,
// a new one must be created.
type Manager struct {
	open         Opener
	dispatch     *dispatcher
	logger       *slog.Logger
	level        *slog.LevelVar
	queryPointer bool

	stateMu sync.Mutex
	state   State
	targets []string
	err     error

	ready    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// mu guards the table and serializes grab requests with the loop's
	// table scan. pool is written once before ready is closed.
	mu      sync.Mutex
	table   grabTable
	pool    *connectionPool
	closing bool
}

// NewManager returns an idle Manager. Displays are opened through open when
// Start is called; fired hotkeys go to sink.
func NewManager(open Opener, sink EventSink, opts Options) *Manager {
	out := opts.DebugOutput
	if out == nil {
		out = os.Stderr
	}
	level := new(slog.LevelVar)
	if opts.Debug {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	return &Manager{
		open:         open,
		dispatch:     newDispatcher(sink, logger),
		logger:       logger,
		level:        level,
		queryPointer: !opts.SkipPointerQuery,
		ready:        make(chan struct{}),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetDisplays replaces the display targets. It must be called before Start.
func (m *Manager) SetDisplays(targets []string) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.state != StateIdle {
		return ErrAlreadyStarted
	}
	m.targets = append([]string(nil), targets...)
	return nil
}

// Displays returns the configured display targets.
func (m *Manager) Displays() []string {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return append([]string(nil), m.targets...)
}

// SetDebug toggles debug level logging.
func (m *Manager) SetDebug(enabled bool) {
	if enabled {
		m.level.Set(slog.LevelDebug)
	} else {
		m.level.Set(slog.LevelInfo)
	}
}

// Debug reports whether debug logging is enabled.
func (m *Manager) Debug() bool {
	return m.level.Level() <= slog.LevelDebug
}

// State returns the current loop state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Err returns the fatal initialization error, if any.
func (m *Manager) Err() error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.err
}

// Done is closed once the loop has exited, after Stop or when every display
// connection was lost.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Hotkeys returns the registered hotkeys in insertion order.
func (m *Manager) Hotkeys() []Hotkey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.snapshot()
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
	m.logger.Debug("state changed", "state", s.String())
}

// Start opens every configured display and begins listening. It returns once
// the loop is listening, or with the error that stopped initialization.
// Cancelling ctx only stops the wait; the loop keeps initializing.
func (m *Manager) Start(ctx context.Context) error {
	m.stateMu.Lock()
	switch m.state {
	case StateInitializing, StateListening:
		m.stateMu.Unlock()
		m.logger.Warn("already listening, aborting start")
		return ErrAlreadyStarted
	case StateDraining, StateClosed:
		m.stateMu.Unlock()
		return ErrClosed
	}
	m.state = StateInitializing
	targets := append([]string(nil), m.targets...)
	m.stateMu.Unlock()

	go m.run(targets)

	select {
	case <-m.ready:
		return m.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop unregisters every hotkey, stops the loop and closes all displays.
// No event is delivered to the sink after Stop returns.
func (m *Manager) Stop() error {
	m.stateMu.Lock()
	if m.state == StateIdle {
		m.state = StateClosed
		m.stateMu.Unlock()
		m.mu.Lock()
		m.closing = true
		m.mu.Unlock()
		close(m.ready)
		close(m.done)
		return nil
	}
	m.stateMu.Unlock()

	<-m.ready
	if err := m.Err(); err != nil {
		m.logger.Debug("stop: loop never started listening", "error", err)
		<-m.done
		return nil
	}

	m.mu.Lock()
	if !m.closing {
		m.closing = true
		for _, hk := range m.table.snapshot() {
			m.ungrab(hk)
		}
		m.table = grabTable{}
	}
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

// Register grabs key with the modifier mask on every screen of every display
// under id. An existing hotkey with the same id is replaced. If another client
// already holds the combination a *ConflictError is returned and the hotkey
// stays registered.
//
// Register blocks until the loop is listening. If initialization failed it
// returns nil without effect; see Err.
func (m *Manager) Register(ctx context.Context, id int, mask uint16, key string) error {
	m.logger.Debug("++ registerHotkey", "id", id, "mask", fmt.Sprintf("0x%x", mask), "key", key)

	ok, err := m.awaitListening(ctx, "registerHotkey")
	if !ok {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}

	codes := m.pool.first().display.Keycodes(key)
	if len(codes) == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	if old, found := m.table.remove(id); found {
		m.logger.Debug("replacing hotkey", "id", id)
		m.ungrab(old)
	}

	hk := Hotkey{ID: id, Key: codes[0], Mask: mask, Name: key}
	m.table.put(hk)

	m.logger.Debug("registerHotkey: converted key",
		"key", key,
		"keycode", hk.Key,
		"modifiers", keybind.ModifierString(mask))

	if m.grab(hk) {
		return &ConflictError{ID: id}
	}

	m.logger.Debug("-- registerHotkey", "id", id)
	return nil
}

// Unregister releases the grabs of id. Unknown ids are ignored.
func (m *Manager) Unregister(ctx context.Context, id int) error {
	m.logger.Debug("++ unregisterHotkey", "id", id)

	ok, err := m.awaitListening(ctx, "unregisterHotkey")
	if !ok {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrClosed
	}

	hk, found := m.table.remove(id)
	if !found {
		return nil
	}
	m.ungrab(hk)

	m.logger.Debug("-- unregisterHotkey", "id", id)
	return nil
}

// awaitListening blocks until the loop is listening or has failed. It reports
// false when the caller must return immediately with err.
func (m *Manager) awaitListening(ctx context.Context, op string) (bool, error) {
	select {
	case <-m.ready:
	default:
		m.logger.Debug(op + ": waiting for listen to be ready")
		select {
		case <-m.ready:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if err := m.Err(); err != nil {
		m.logger.Warn(op+": aborting because of error in listen", "error", err)
		return false, nil
	}
	return true, nil
}

// grab issues every modifier variant of hk on every root window, then reads
// back the outcome. It reports whether the server refused any of the grabs.
// Callers hold m.mu.
func (m *Manager) grab(hk Hotkey) bool {
	var scope conflictScope
	for _, c := range m.pool.conns {
		for screen, root := range c.roots {
			for _, mods := range c.offending.Variants(hk.Mask) {
				scope.track(c.target(), screen, mods, c.display.GrabKey(root, mods, hk.Key))
			}
		}
	}
	return scope.settle(m.logger)
}

// ungrab releases every modifier variant of hk. Callers hold m.mu.
func (m *Manager) ungrab(hk Hotkey) {
	var scope conflictScope
	for _, c := range m.pool.conns {
		for screen, root := range c.roots {
			for _, mods := range c.offending.Variants(hk.Mask) {
				scope.track(c.target(), screen, mods, c.display.UngrabKey(root, mods, hk.Key))
			}
		}
	}
	scope.settle(m.logger)
}
