// Package daemon keeps the configured hotkeys grabbed, runs their commands
// and serves them over IPC.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/1broseidon/xgrabkey/internal/config"
	"github.com/1broseidon/xgrabkey/internal/hotkeys"
	"github.com/1broseidon/xgrabkey/internal/ipc"
)

const applyTimeout = 10 * time.Second

// Options configures a Daemon.
type Options struct {
	// ConfigPath defaults to config.DefaultConfigPath.
	ConfigPath string
	Opener     hotkeys.Opener
	// Logger receives daemon logs. Defaults to a text logger on LogOutput.
	Logger *slog.Logger
	// LogOutput receives the hotkey manager's diagnostics. Defaults to os.Stderr.
	LogOutput io.Writer
	// Runner starts bound commands. Defaults to sh -c.
	Runner CommandRunner
	// WatchConfig reloads the configuration when its files change.
	WatchConfig bool
}

// Daemon owns a hotkeys.Manager for the lifetime of the process. It
// implements ipc.Handler and hotkeys.EventSink.
type Daemon struct {
	path    string
	logger  *slog.Logger
	runner  CommandRunner
	manager *hotkeys.Manager
	subs    *broadcaster
	watch   bool

	// opMu serializes grab changes. mu guards the fields below and is never
	// held across a call into the manager.
	opMu    sync.Mutex
	mu      sync.Mutex
	cfg     *config.Config
	files   []string
	entries map[int]*entry
	watcher *configWatcher
	recon   *Reconciler
	started time.Time
}

var (
	_ ipc.Handler       = (*Daemon)(nil)
	_ hotkeys.EventSink = (*Daemon)(nil)
)

// New loads the configuration and prepares the hotkey manager. Nothing is
// grabbed until Run.
func New(opts Options) (*Daemon, error) {
	path := opts.ConfigPath
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	res, err := config.LoadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	runner := opts.Runner
	if runner == nil {
		runner = shellRunner{logger: logger}
	}
	if opts.Opener == nil {
		return nil, errors.New("daemon: no display opener")
	}

	d := &Daemon{
		path:    path,
		logger:  logger,
		runner:  runner,
		subs:    newBroadcaster(),
		watch:   opts.WatchConfig,
		cfg:     res.Config,
		files:   res.Files,
		entries: make(map[int]*entry),
	}
	d.manager = hotkeys.NewManager(opts.Opener, d, hotkeys.Options{
		DebugOutput:      out,
		Debug:            res.Config.Debug,
		SkipPointerQuery: !res.Config.PointerPosition,
	})
	if err := d.manager.SetDisplays(res.Config.Displays); err != nil {
		return nil, err
	}
	return d, nil
}

// Run grabs the configured hotkeys and serves them until ctx is cancelled or
// every display connection is lost.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	if err := d.manager.Start(ctx); err != nil {
		d.subs.close()
		return fmt.Errorf("failed to start hotkey manager: %w", err)
	}
	d.logger.Info("listening", "displays", d.manager.Displays())

	d.mu.Lock()
	bindings := slices.Clone(d.cfg.Bindings)
	retry := d.cfg.ConflictRetry
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if retry > 0 {
		r := NewReconciler(ReconcilerConfig{Interval: retry, Logger: d.logger}, d.retryConflicts)
		d.mu.Lock()
		d.recon = r
		d.mu.Unlock()
		go r.Run(runCtx)
	}

	d.apply(ctx, bindings)

	if d.watch {
		w, err := newConfigWatcher(defaultDebounce, d.reloadFromWatcher, d.logger)
		if err != nil {
			d.logger.Warn("config watcher unavailable", "error", err)
		} else {
			defer w.Close()
			d.mu.Lock()
			d.watcher = w
			d.mu.Unlock()
			w.setFiles(d.watchedFiles())
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
	case <-d.manager.Done():
		runErr = errors.New("all display connections lost")
	}

	if err := d.manager.Stop(); err != nil {
		d.logger.Warn("failed to stop hotkey manager", "error", err)
	}
	d.subs.close()
	d.logger.Info("stopped")
	return runErr
}

// HotkeyFired runs the bound command and notifies subscribers.
func (d *Daemon) HotkeyFired(ev hotkeys.FiredEvent) {
	d.mu.Lock()
	var command string
	if e, ok := d.entries[ev.ID]; ok {
		command = e.command
	}
	d.mu.Unlock()

	d.logger.Info("hotkey fired",
		"id", ev.ID,
		"display", ev.Display,
		"screen", ev.Screen,
		"x", ev.X,
		"y", ev.Y)

	if command != "" {
		if err := d.runner.Run(command, commandEnv(ev)); err != nil {
			d.logger.Error("failed to start hotkey command", "id", ev.ID, "command", command, "error", err)
		}
	}

	dropped := d.subs.publish(ipc.EventData{
		ID:      ev.ID,
		Display: ev.Display,
		Screen:  ev.Screen,
		X:       ev.X,
		Y:       ev.Y,
		Time:    time.Now().UnixMilli(),
	})
	if dropped > 0 {
		d.logger.Warn("slow subscribers missed a hotkey event", "id", ev.ID, "count", dropped)
	}
}

// apply registers the configured bindings. Conflicts and unknown keys are
// logged; they never stop the daemon.
func (d *Daemon) apply(ctx context.Context, bindings []config.Binding) {
	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	plan := planSync(d.entries, bindings)
	d.mu.Unlock()
	if plan.empty() {
		return
	}

	for _, id := range plan.unregister {
		if err := d.manager.Unregister(ctx, id); err != nil {
			d.logger.Warn("failed to unregister hotkey", "id", id, "error", err)
			continue
		}
		d.mu.Lock()
		delete(d.entries, id)
		d.mu.Unlock()
		d.logger.Info("hotkey removed", "id", id)
	}

	for _, b := range plan.update {
		d.mu.Lock()
		if e, ok := d.entries[b.ID]; ok {
			e.command = b.Command
			e.description = b.Description
		}
		d.mu.Unlock()
	}

	for _, b := range plan.register {
		parsed, err := b.Parse()
		if err != nil {
			d.logger.Error("invalid binding", "id", b.ID, "keys", b.Keys, "error", err)
			continue
		}
		e := &entry{
			binding:     parsed,
			command:     b.Command,
			description: b.Description,
			source:      sourceConfig,
		}
		if err := d.register(ctx, b.ID, e); err != nil && !errors.Is(err, hotkeys.ErrConflict) {
			d.logger.Error("failed to register hotkey", "id", b.ID, "keys", b.Keys, "error", err)
		}
	}
}

// register grabs e under id and records it. A conflict is recorded too, so
// the reconciler can retry it. Callers hold opMu.
func (d *Daemon) register(ctx context.Context, id int, e *entry) error {
	err := d.manager.Register(ctx, id, e.binding.Mask, e.binding.Key)
	switch {
	case err == nil:
		d.logger.Info("hotkey registered", "id", id, "keys", e.binding.String(), "source", e.source)
	case errors.Is(err, hotkeys.ErrConflict):
		e.conflict = true
		d.logger.Warn("hotkey taken by another client", "id", id, "keys", e.binding.String())
	default:
		return err
	}

	d.mu.Lock()
	d.entries[id] = e
	d.mu.Unlock()
	return err
}

// retryConflicts grabs conflicted hotkeys again and returns how many are
// still refused.
func (d *Daemon) retryConflicts() int {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	var pending []int
	for id, e := range d.entries {
		if e.conflict {
			pending = append(pending, id)
		}
	}
	d.mu.Unlock()
	sort.Ints(pending)

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	remaining := 0
	for _, id := range pending {
		d.mu.Lock()
		e, ok := d.entries[id]
		var b hotkeys.Binding
		if ok {
			b = e.binding
		}
		d.mu.Unlock()
		if !ok {
			continue
		}

		err := d.manager.Register(ctx, id, b.Mask, b.Key)
		switch {
		case err == nil:
			d.mu.Lock()
			e.conflict = false
			d.mu.Unlock()
			d.logger.Info("hotkey grabbed after conflict", "id", id, "keys", b.String())
		case errors.Is(err, hotkeys.ErrConflict):
			remaining++
		default:
			d.logger.Warn("conflict retry failed", "id", id, "error", err)
			remaining++
		}
	}
	return remaining
}

// Reload re-reads the configuration and applies binding and debug changes,
// then retries conflicted hotkeys when retries are enabled. Display and
// pointer settings need a restart.
func (d *Daemon) Reload() error {
	res, err := config.LoadFromPath(d.path)
	if err != nil {
		return err
	}
	cfg := res.Config

	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.files = res.Files
	w := d.watcher
	r := d.recon
	d.mu.Unlock()

	if !slices.Equal(old.Displays, cfg.Displays) {
		d.logger.Warn("displays changed; restart the daemon to apply", "old", old.Displays, "new", cfg.Displays)
	}
	if old.PointerPosition != cfg.PointerPosition {
		d.logger.Warn("pointer_position changed; restart the daemon to apply")
	}
	if old.ConflictRetry != cfg.ConflictRetry {
		d.logger.Warn("conflict_retry changed; restart the daemon to apply")
	}

	d.manager.SetDebug(cfg.Debug)
	d.apply(context.Background(), cfg.Bindings)
	if r != nil {
		r.ReconcileNow()
	}
	if w != nil {
		w.setFiles(d.watchedFiles())
	}

	d.logger.Info("config reloaded", "path", d.path, "bindings", len(cfg.Bindings))
	return nil
}

func (d *Daemon) reloadFromWatcher() {
	if err := d.Reload(); err != nil {
		d.logger.Error("config reload failed; keeping previous bindings", "error", err)
	}
}

func (d *Daemon) watchedFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	files := append([]string{d.path}, d.files...)
	return files
}

// Status implements ipc.Handler.
func (d *Daemon) Status() ipc.StatusData {
	d.mu.Lock()
	count := len(d.entries)
	var uptime int64
	if !d.started.IsZero() {
		uptime = int64(time.Since(d.started).Seconds())
	}
	d.mu.Unlock()

	return ipc.StatusData{
		State:         d.manager.State().String(),
		Displays:      d.manager.Displays(),
		HotkeyCount:   count,
		Debug:         d.manager.Debug(),
		ConfigPath:    d.path,
		UptimeSeconds: uptime,
		DaemonRunning: true,
	}
}

// List implements ipc.Handler.
func (d *Daemon) List() []ipc.HotkeyInfo {
	keycodes := make(map[int]int)
	for _, hk := range d.manager.Hotkeys() {
		keycodes[hk.ID] = int(hk.Key)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]ipc.HotkeyInfo, 0, len(d.entries))
	for id, e := range d.entries {
		out = append(out, ipc.HotkeyInfo{
			ID:          id,
			Binding:     e.binding.String(),
			Keycode:     keycodes[id],
			Command:     e.command,
			Description: e.description,
			Source:      e.source,
			Conflict:    e.conflict,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Register implements ipc.Handler. The hotkey is kept until the daemon
// exits or it is unregistered; reloads leave it alone unless the config
// claims the same id.
func (d *Daemon) Register(ctx context.Context, id int, binding string, command string) error {
	parsed, err := hotkeys.ParseBinding(binding)
	if err != nil {
		return err
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	return d.register(ctx, id, &entry{
		binding: parsed,
		command: command,
		source:  sourceIPC,
	})
}

// Unregister implements ipc.Handler.
func (d *Daemon) Unregister(ctx context.Context, id int) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	if err := d.manager.Unregister(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.entries, id)
	d.mu.Unlock()
	d.logger.Info("hotkey removed", "id", id)
	return nil
}

// SetDebug implements ipc.Handler.
func (d *Daemon) SetDebug(enabled bool) {
	d.manager.SetDebug(enabled)
	d.logger.Info("debug output", "enabled", enabled)
}

// Subscribe implements ipc.Handler.
func (d *Daemon) Subscribe() (<-chan ipc.EventData, func()) {
	return d.subs.subscribe()
}
