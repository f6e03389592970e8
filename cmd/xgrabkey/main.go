package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/1broseidon/xgrabkey/internal/daemon"
	"github.com/1broseidon/xgrabkey/internal/ipc"
	"github.com/1broseidon/xgrabkey/internal/runtimepath"
	"github.com/1broseidon/xgrabkey/internal/x11"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "list":
		os.Exit(runList(os.Args[2:]))
	case "register":
		os.Exit(runRegister(os.Args[2:]))
	case "unregister":
		os.Exit(runUnregister(os.Args[2:]))
	case "debug":
		os.Exit(runDebug(os.Args[2:]))
	case "reload":
		os.Exit(runReload(os.Args[2:]))
	case "watch":
		os.Exit(runWatch(os.Args[2:]))
	case "inspect":
		os.Exit(runInspect(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: xgrabkey <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the hotkey daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon status")
	fmt.Fprintln(w, "  list                List registered hotkeys")
	fmt.Fprintln(w, "  register            Register a hotkey with the running daemon")
	fmt.Fprintln(w, "  unregister          Unregister a hotkey")
	fmt.Fprintln(w, "  debug on|off        Toggle verbose diagnostics in the daemon")
	fmt.Fprintln(w, "  reload              Reload the daemon configuration")
	fmt.Fprintln(w, "  watch               Print hotkey events as they fire")
	fmt.Fprintln(w, "  inspect             Show display screens, lock modifiers and binding keycodes")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'xgrabkey <command> --help' for command-specific options.")
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: xgrabkey daemon [--path PATH] [--debug] [--no-watch]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Grab the configured hotkeys and run their commands until interrupted.")
		fmt.Fprintln(os.Stderr, "SIGHUP reloads the configuration.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}
	path := fs.String("path", "", "Config file path (default: ~/.config/xgrabkey/config.yaml)")
	debug := fs.Bool("debug", false, "Enable verbose diagnostics regardless of config")
	noWatch := fs.Bool("no-watch", false, "Do not reload when config files change")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	lockPath, err := runtimepath.LockPath()
	if err != nil {
		log.Fatalf("Failed to resolve lock path: %v", err)
	}
	lock, err := daemon.AcquireLock(lockPath)
	if err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		log.Fatalf("Failed to acquire daemon lock: %v", err)
	}
	defer lock.Release()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	d, err := daemon.New(daemon.Options{
		ConfigPath:  *path,
		Opener:      x11.Opener,
		Logger:      logger,
		LogOutput:   os.Stderr,
		WatchConfig: !*noWatch,
	})
	if err != nil {
		log.Printf("Failed to start daemon: %v", err)
		return 1
	}
	if *debug {
		d.SetDebug(true)
	}

	ipcServer, err := ipc.NewServer(d)
	if err != nil {
		log.Printf("Failed to create IPC server: %v", err)
		return 1
	}
	if err := ipcServer.Start(); err != nil {
		log.Printf("Failed to start IPC server: %v", err)
		return 1
	}
	defer ipcServer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					log.Println("Received SIGHUP, reloading config...")
					if err := d.Reload(); err != nil {
						log.Printf("Config reload failed: %v", err)
					}
				case os.Interrupt, syscall.SIGTERM:
					log.Println("Shutting down xgrabkey daemon...")
					cancel()
					return
				}
			}
		}
	}()

	log.Printf("xgrabkey daemon started (socket: %s)", ipcServer.SocketPath())
	if err := d.Run(ctx); err != nil {
		log.Printf("Daemon stopped: %v", err)
		return 1
	}
	return 0
}
