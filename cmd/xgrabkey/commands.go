package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/1broseidon/xgrabkey/internal/hotkeys"
	"github.com/1broseidon/xgrabkey/internal/ipc"
	"github.com/1broseidon/xgrabkey/internal/x11"
	"github.com/BurntSushi/xgbutil/keybind"
	"golang.org/x/term"
)

func newFlagSet(name, usage, description string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: "+usage)
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, description)
		hasFlags := false
		fs.VisitAll(func(*flag.Flag) { hasFlags = true })
		if hasFlags {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "Flags:")
			fs.PrintDefaults()
		}
	}
	return fs
}

// parseFlags returns the exit code to use when parsing did not succeed.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}

func runStatus(args []string) int {
	fs := newFlagSet("status", "xgrabkey status [--json]", "Show daemon status via IPC.")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "status takes no arguments")
		fs.Usage()
		return 2
	}

	status, err := ipc.NewClient().GetStatus()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *jsonOut {
		return printJSON(os.Stdout, status)
	}
	fmt.Printf("daemon_running: %v\n", status.DaemonRunning)
	fmt.Printf("state:          %s\n", status.State)
	fmt.Printf("displays:       %s\n", strings.Join(status.Displays, ", "))
	fmt.Printf("hotkey_count:   %d\n", status.HotkeyCount)
	fmt.Printf("debug:          %v\n", status.Debug)
	fmt.Printf("config_path:    %s\n", status.ConfigPath)
	fmt.Printf("uptime_seconds: %d\n", status.UptimeSeconds)
	return 0
}

func runList(args []string) int {
	fs := newFlagSet("list", "xgrabkey list [--json]", "List the hotkeys registered with the daemon.")
	jsonOut := fs.Bool("json", false, "Output hotkeys as JSON")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "list takes no arguments")
		fs.Usage()
		return 2
	}

	list, err := ipc.NewClient().List()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *jsonOut {
		return printJSON(os.Stdout, list)
	}
	writeHotkeyTable(os.Stdout, list)
	return 0
}

func writeHotkeyTable(w io.Writer, list []ipc.HotkeyInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBINDING\tKEYCODE\tSOURCE\tSTATUS\tCOMMAND")
	for _, hk := range list {
		status := "grabbed"
		if hk.Conflict {
			status = "conflict"
		}
		command := hk.Command
		if command == "" {
			command = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", hk.ID, hk.Binding, hk.Keycode, hk.Source, status, command)
	}
	tw.Flush()
}

func runRegister(args []string) int {
	fs := newFlagSet("register", "xgrabkey register <id> <binding> [command]",
		"Grab a hotkey in the running daemon. The command, if any, runs through sh -c when it fires.")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() < 2 || fs.NArg() > 3 {
		fs.Usage()
		return 2
	}
	id, err := parseID(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	binding := fs.Arg(1)
	if _, err := hotkeys.ParseBinding(binding); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if err := ipc.NewClient().Register(id, binding, fs.Arg(2)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runUnregister(args []string) int {
	fs := newFlagSet("unregister", "xgrabkey unregister <id>", "Release a hotkey in the running daemon.")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	id, err := parseID(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if err := ipc.NewClient().Unregister(id); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runDebug(args []string) int {
	fs := newFlagSet("debug", "xgrabkey debug on|off", "Toggle verbose diagnostics in the running daemon.")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	enabled, err := parseOnOff(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if err := ipc.NewClient().SetDebug(enabled); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runReload(args []string) int {
	fs := newFlagSet("reload", "xgrabkey reload", "Ask the daemon to reload its configuration.")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "reload takes no arguments")
		fs.Usage()
		return 2
	}

	if err := ipc.NewClient().Reload(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("config: reloaded")
	return 0
}

func runWatch(args []string) int {
	fs := newFlagSet("watch", "xgrabkey watch [--json]",
		"Print hotkey events until interrupted. Output is JSON lines when stdout is not a terminal.")
	jsonOut := fs.Bool("json", false, "Always print JSON lines")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "watch takes no arguments")
		fs.Usage()
		return 2
	}

	asJSON := *jsonOut || !term.IsTerminal(int(os.Stdout.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	err := ipc.NewClient().Subscribe(ctx, func(ev ipc.EventData) {
		if asJSON {
			_ = enc.Encode(ev)
			return
		}
		fmt.Println(formatEvent(ev))
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func formatEvent(ev ipc.EventData) string {
	at := time.UnixMilli(ev.Time).Format("15:04:05.000")
	return fmt.Sprintf("%s  id=%d display=%s screen=%d x=%d y=%d", at, ev.ID, ev.Display, ev.Screen, ev.X, ev.Y)
}

func runInspect(args []string) int {
	fs := newFlagSet("inspect", "xgrabkey inspect [--display TARGET] [binding]",
		"Show the screens, monitors and lock modifiers of a display and, when given, how a binding\nmaps to keycodes there. Nothing is grabbed.")
	display := fs.String("display", "", "X display to query (default: $DISPLAY)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() > 1 {
		fs.Usage()
		return 2
	}

	conn, err := x11.Open(*display)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to display: %v\n", err)
		return 1
	}
	defer conn.Close()

	roots := conn.Roots()
	fmt.Printf("display: %s\n", conn.Target())
	for i, root := range roots {
		fmt.Printf("screen %d: root 0x%x\n", i, root)
		monitors, err := conn.Monitors(root)
		if err != nil {
			fmt.Printf("  monitors: unavailable (%v)\n", err)
		}
		for _, mon := range monitors {
			fmt.Printf("  monitor %s %dx%d+%d+%d\n", mon.Name, mon.Width, mon.Height, mon.X, mon.Y)
		}
		if p, err := conn.QueryPointer(root); err == nil && p.SameScreen {
			where := ""
			if mon := x11.MonitorAt(monitors, int(p.RootX), int(p.RootY)); mon != nil {
				where = " on " + mon.Name
			}
			fmt.Printf("  pointer at %d,%d%s\n", p.RootX, p.RootY, where)
		}
	}

	lock := hotkeys.ResolveOffending(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fmt.Printf("lock modifiers: num_lock=%s caps_lock=%s scroll_lock=%s\n",
		modifierName(lock.NumLock), modifierName(lock.CapsLock), modifierName(lock.ScrollLock))

	if fs.NArg() == 0 {
		return 0
	}
	b, err := hotkeys.ParseBinding(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	codes := conn.Keycodes(b.Key)
	fmt.Printf("binding:  %s\n", b.String())
	fmt.Printf("mask:     0x%x\n", b.Mask)
	if len(codes) == 0 {
		fmt.Printf("keycodes: none (key %q is not on this keyboard)\n", b.Key)
		return 1
	}
	for i, kc := range codes {
		marker := ""
		if i == 0 {
			marker = "  (grabbed)"
		}
		fmt.Printf("keycode:  %d %s%s\n", kc, conn.KeysymName(kc), marker)
	}
	fmt.Printf("grabs:    %d per screen, %d total\n", len(lock.Variants(b.Mask)), len(lock.Variants(b.Mask))*len(roots))
	return 0
}

func modifierName(mask uint16) string {
	if mask == 0 {
		return "none"
	}
	return keybind.ModifierString(mask)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q: must be a non-negative integer", s)
	}
	return id, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func printJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
