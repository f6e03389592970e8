package daemon

import (
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/1broseidon/xgrabkey/internal/hotkeys"
)

// CommandRunner starts the command bound to a hotkey.
type CommandRunner interface {
	Run(command string, env []string) error
}

// shellRunner runs commands through sh -c without waiting for them.
type shellRunner struct {
	logger *slog.Logger
}

func (r shellRunner) Run(command string, env []string) error {
	cmd := exec.Command("sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			r.logger.Warn("hotkey command failed", "command", command, "error", err)
		}
	}()
	return nil
}

// commandEnv describes a fired hotkey to its command. DISPLAY points at the
// display the key was pressed on.
func commandEnv(ev hotkeys.FiredEvent) []string {
	return []string{
		"DISPLAY=" + ev.Display,
		"XGRABKEY_ID=" + strconv.Itoa(ev.ID),
		"XGRABKEY_DISPLAY=" + ev.Display,
		"XGRABKEY_SCREEN=" + strconv.Itoa(ev.Screen),
		"XGRABKEY_X=" + strconv.Itoa(ev.X),
		"XGRABKEY_Y=" + strconv.Itoa(ev.Y),
	}
}
