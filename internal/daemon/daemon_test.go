package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/xgrabkey/internal/hotkeys"
	"github.com/1broseidon/xgrabkey/internal/hotkeys/hotkeystest"
	"github.com/BurntSushi/xgb/xproto"
)

const waitTimeout = 2 * time.Second

type run struct {
	command string
	env     []string
}

type recordingRunner struct {
	runs chan run
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{runs: make(chan run, 8)}
}

func (r *recordingRunner) Run(command string, env []string) error {
	r.runs <- run{command: command, env: env}
	return nil
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// startDaemon runs a daemon on net with the config body and returns it once
// the configured bindings are registered.
func startDaemon(t *testing.T, net *hotkeystest.Network, body string, runner CommandRunner) (*Daemon, string, <-chan error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, body)

	d, err := New(Options{
		ConfigPath: path,
		Opener:     net.Open,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		LogOutput:  io.Discard,
		Runner:     runner,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- d.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(waitTimeout):
			t.Error("daemon did not stop")
		}
	})

	waitFor(t, "listening", func() bool { return d.Status().State == hotkeys.StateListening.String() })
	return d, path, done
}

func listedIDs(d *Daemon) []int {
	var ids []int
	for _, hk := range d.List() {
		ids = append(ids, hk.ID)
	}
	return ids
}

const baseConfig = `displays: [":0"]
conflict_retry: 0s
bindings:
  - id: 1
    keys: Control-a
    command: echo one
    description: first
  - id: 2
    keys: b
`

func TestDaemonRunsBoundCommand(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")
	runner := newRecordingRunner()
	d, _, _ := startDaemon(t, net, baseConfig, runner)

	waitFor(t, "bindings", func() bool { return len(d.List()) == 2 })

	events, cancel := d.Subscribe()
	defer cancel()

	net.Client(":0", 0).Press(hotkeystest.KeyA, xproto.ModMaskControl|xproto.ModMask2)

	select {
	case r := <-runner.runs:
		if r.command != "echo one" {
			t.Fatalf("command = %q, want %q", r.command, "echo one")
		}
		for _, want := range []string{"XGRABKEY_ID=1", "XGRABKEY_DISPLAY=:0", "DISPLAY=:0", "XGRABKEY_X=10", "XGRABKEY_Y=20"} {
			if !slices.Contains(r.env, want) {
				t.Fatalf("env %v lacks %s", r.env, want)
			}
		}
	case <-time.After(waitTimeout):
		t.Fatal("command was not run")
	}

	select {
	case ev := <-events:
		if ev.ID != 1 || ev.Display != ":0" || ev.X != hotkeystest.PointerX || ev.Time == 0 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(waitTimeout):
		t.Fatal("subscriber got no event")
	}

	// A binding without a command is still reported to subscribers.
	net.Client(":0", 0).Press(hotkeystest.KeyB, 0)
	select {
	case ev := <-events:
		if ev.ID != 2 {
			t.Fatalf("event id = %d, want 2", ev.ID)
		}
	case <-time.After(waitTimeout):
		t.Fatal("subscriber got no event for id 2")
	}
	select {
	case r := <-runner.runs:
		t.Fatalf("unexpected command run %+v", r)
	default:
	}
}

func TestDaemonList(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")
	d, _, _ := startDaemon(t, net, baseConfig, newRecordingRunner())
	waitFor(t, "bindings", func() bool { return len(d.List()) == 2 })

	list := d.List()
	first := list[0]
	if first.ID != 1 || first.Binding != "control-a" || first.Command != "echo one" || first.Description != "first" {
		t.Fatalf("unexpected first hotkey %+v", first)
	}
	if first.Keycode != int(hotkeystest.KeyA) || first.Source != sourceConfig || first.Conflict {
		t.Fatalf("unexpected first hotkey %+v", first)
	}

	status := d.Status()
	if status.HotkeyCount != 2 || !status.DaemonRunning || !slices.Equal(status.Displays, []string{":0"}) {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestDaemonReload(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")
	d, path, _ := startDaemon(t, net, baseConfig, newRecordingRunner())
	waitFor(t, "bindings", func() bool { return len(d.List()) == 2 })

	ctx := context.Background()
	if err := d.Register(ctx, 10, "Shift-a", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	writeConfig(t, path, `displays: [":0"]
debug: true
conflict_retry: 0s
bindings:
  - id: 1
    keys: Control-a
    command: echo changed
  - id: 3
    keys: Mod1-b
`)
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if got := listedIDs(d); !slices.Equal(got, []int{1, 3, 10}) {
		t.Fatalf("ids after reload = %v, want [1 3 10]", got)
	}
	if list := d.List(); list[0].Command != "echo changed" {
		t.Fatalf("command of id 1 = %q, want updated", list[0].Command)
	}
	if !d.Status().Debug {
		t.Fatal("debug not applied by reload")
	}

	// id 1 kept its keys and must not be grabbed a second time.
	grabs := 0
	for _, g := range net.Client(":0", 0).Grabs() {
		if g.Key == hotkeystest.KeyA && g.Mods&xproto.ModMaskControl != 0 {
			grabs++
		}
	}
	if grabs != 8 {
		t.Fatalf("Control-a grabbed %d times, want the 8 variants once", grabs)
	}
}

func TestDaemonReloadRejectsInvalidConfig(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")
	d, path, _ := startDaemon(t, net, baseConfig, newRecordingRunner())
	waitFor(t, "bindings", func() bool { return len(d.List()) == 2 })

	writeConfig(t, path, "bindings:\n  - id: 1\n    keys: Hyper-a\n")
	if err := d.Reload(); err == nil {
		t.Fatal("Reload accepted an invalid config")
	}
	if got := listedIDs(d); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("ids after failed reload = %v, want [1 2]", got)
	}
}

func TestDaemonRegisterErrors(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")
	d, _, _ := startDaemon(t, net, `displays: [":0"]`, newRecordingRunner())
	ctx := context.Background()

	if err := d.Register(ctx, 1, "Control-NoSuchKey", ""); !errors.Is(err, hotkeys.ErrUnknownKey) {
		t.Fatalf("Register = %v, want ErrUnknownKey", err)
	}
	if err := d.Register(ctx, 1, "Hyper-a", ""); err == nil {
		t.Fatal("Register accepted an unknown modifier")
	}
	if n := len(d.List()); n != 0 {
		t.Fatalf("List() has %d entries after failed registrations", n)
	}

	if err := d.Register(ctx, 1, "a", "true"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := d.Unregister(ctx, 1); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if n := len(d.List()); n != 0 {
		t.Fatalf("List() has %d entries after Unregister", n)
	}
}

func TestDaemonRetriesConflicts(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")

	other := hotkeys.NewManager(net.Open, nil, hotkeys.Options{DebugOutput: io.Discard})
	if err := other.SetDisplays([]string{":0"}); err != nil {
		t.Fatalf("SetDisplays: %v", err)
	}
	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := other.Register(context.Background(), 99, xproto.ModMaskControl, "a"); err != nil {
		t.Fatalf("other Register: %v", err)
	}

	d, _, _ := startDaemon(t, net, baseConfig, newRecordingRunner())
	waitFor(t, "bindings", func() bool { return len(d.List()) == 2 })

	if list := d.List(); !list[0].Conflict || list[1].Conflict {
		t.Fatalf("conflict flags = %v/%v, want only id 1", list[0].Conflict, list[1].Conflict)
	}
	if remaining := d.retryConflicts(); remaining != 1 {
		t.Fatalf("retryConflicts() = %d while still held, want 1", remaining)
	}

	if err := other.Stop(); err != nil {
		t.Fatalf("other Stop: %v", err)
	}
	if remaining := d.retryConflicts(); remaining != 0 {
		t.Fatalf("retryConflicts() = %d after release, want 0", remaining)
	}
	if d.List()[0].Conflict {
		t.Fatal("id 1 still marked as conflicting")
	}
}

func TestDaemonReloadRetriesConflicts(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")

	other := hotkeys.NewManager(net.Open, nil, hotkeys.Options{DebugOutput: io.Discard})
	if err := other.SetDisplays([]string{":0"}); err != nil {
		t.Fatalf("SetDisplays: %v", err)
	}
	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := other.Register(context.Background(), 99, xproto.ModMaskControl, "a"); err != nil {
		t.Fatalf("other Register: %v", err)
	}

	body := strings.Replace(baseConfig, "conflict_retry: 0s", "conflict_retry: 1h", 1)
	d, _, _ := startDaemon(t, net, body, newRecordingRunner())
	waitFor(t, "bindings", func() bool { return len(d.List()) == 2 })
	if !d.List()[0].Conflict {
		t.Fatal("id 1 not marked as conflicting")
	}

	if err := other.Stop(); err != nil {
		t.Fatalf("other Stop: %v", err)
	}
	if err := d.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if d.List()[0].Conflict {
		t.Fatal("id 1 still conflicting after reload")
	}
}

func TestDaemonExitsWhenDisplaysLost(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")
	d, _, done := startDaemon(t, net, baseConfig, newRecordingRunner())
	waitFor(t, "bindings", func() bool { return len(d.List()) == 2 })

	events, _ := d.Subscribe()
	net.Client(":0", 0).Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run returned nil after losing every display")
		}
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}

	if _, open := <-events; open {
		t.Fatal("subscriber channel not closed after shutdown")
	}
}

func TestDaemonStartFailure(t *testing.T) {
	net := hotkeystest.NewNetwork(":0")
	net.Fail(":0")

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, `displays: [":0"]`)
	d, err := New(Options{ConfigPath: path, Opener: net.Open, LogOutput: io.Discard})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = d.Run(context.Background())
	var openErr *hotkeys.ConnectionOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Run = %v, want ConnectionOpenError", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "displays: []\n")
	if _, err := New(Options{ConfigPath: path, Opener: hotkeystest.NewNetwork().Open, LogOutput: io.Discard}); err == nil {
		t.Fatal("New accepted a config without displays")
	}
}

func TestCommandEnv(t *testing.T) {
	env := commandEnv(hotkeys.FiredEvent{ID: 4, Display: "host:1", Screen: 2, X: -5, Y: 7})
	want := []string{
		"DISPLAY=host:1",
		"XGRABKEY_ID=4",
		"XGRABKEY_DISPLAY=host:1",
		"XGRABKEY_SCREEN=2",
		"XGRABKEY_X=-5",
		"XGRABKEY_Y=7",
	}
	if !slices.Equal(env, want) {
		t.Fatalf("commandEnv() = %v, want %v", env, want)
	}
}
