package x11

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/1broseidon/xgrabkey/internal/hotkeys"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
)

// Connection manages one X11 connection and its screens.
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window

	target string
	roots  []xproto.Window

	// mapMu guards the keyboard and modifier maps cached in XUtil.
	mapMu     sync.Mutex
	closeOnce sync.Once
}

var _ hotkeys.Display = (*Connection)(nil)

// Open connects to the X server named by target (":0", "host:1.0", ...).
// An empty target uses $DISPLAY.
func Open(target string) (*Connection, error) {
	xu, err := xgbutil.NewConnDisplay(target)
	if err != nil {
		return nil, err
	}

	// Loads the keyboard and modifier maps used for keysym lookups.
	keybind.Initialize(xu)

	setup := xu.Setup()
	roots := make([]xproto.Window, len(setup.Roots))
	for i, screen := range setup.Roots {
		roots[i] = screen.Root
	}

	if target == "" {
		target = os.Getenv("DISPLAY")
	}

	return &Connection{
		XUtil:  xu,
		Root:   xu.RootWin(),
		target: target,
		roots:  roots,
	}, nil
}

// Opener adapts Open to hotkeys.Opener.
func Opener(target string) (hotkeys.Display, error) {
	conn, err := Open(target)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Target returns the display string this connection was opened for.
func (c *Connection) Target() string {
	return c.target
}

// Roots returns the root window of every screen.
func (c *Connection) Roots() []xproto.Window {
	return c.roots
}

// Keycodes resolves a key symbol to the keycodes currently producing it.
// key is either a keysym name ("a", "F12", "Num_Lock") or a numeric keysym
// ("0x61").
func (c *Connection) Keycodes(key string) []xproto.Keycode {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()

	if sym, ok := parseKeysym(key); ok {
		return c.keycodesForKeysym(sym)
	}
	return keybind.StrToKeycodes(c.XUtil, key)
}

func (c *Connection) keycodesForKeysym(sym xproto.Keysym) []xproto.Keycode {
	keyMap := keybind.KeyMapGet(c.XUtil)
	if keyMap == nil {
		return nil
	}
	setup := c.XUtil.Setup()

	var codes []xproto.Keycode
	for kc := int(setup.MinKeycode); kc <= int(setup.MaxKeycode); kc++ {
		for col := byte(0); col < keyMap.KeysymsPerKeycode; col++ {
			if keybind.KeysymGet(c.XUtil, xproto.Keycode(kc), col) == sym {
				codes = append(codes, xproto.Keycode(kc))
				break
			}
		}
	}
	return codes
}

func parseKeysym(key string) (xproto.Keysym, bool) {
	if !strings.HasPrefix(key, "0x") && !strings.HasPrefix(key, "0X") {
		return 0, false
	}
	v, err := strconv.ParseUint(key[2:], 16, 32)
	if err != nil {
		return 0, false
	}
	return xproto.Keysym(v), true
}

// ModifierMapping fetches the server's modifier map.
func (c *Connection) ModifierMapping() (*xproto.GetModifierMappingReply, error) {
	return xproto.GetModifierMapping(c.XUtil.Conn()).Reply()
}

// RefreshMapping reloads the cached keyboard and modifier maps.
func (c *Connection) RefreshMapping() error {
	setup := c.XUtil.Setup()
	keyMap, err := xproto.GetKeyboardMapping(c.XUtil.Conn(), setup.MinKeycode,
		byte(setup.MaxKeycode-setup.MinKeycode+1)).Reply()
	if err != nil {
		return fmt.Errorf("failed to get keyboard mapping: %w", err)
	}
	modMap, err := xproto.GetModifierMapping(c.XUtil.Conn()).Reply()
	if err != nil {
		return fmt.Errorf("failed to get modifier mapping: %w", err)
	}

	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	keybind.KeyMapSet(c.XUtil, keyMap)
	keybind.ModMapSet(c.XUtil, modMap)
	return nil
}

// AllowAsyncKeyboard releases any frozen keyboard state for this client.
func (c *Connection) AllowAsyncKeyboard() error {
	return xproto.AllowEventsChecked(c.XUtil.Conn(), xproto.AllowAsyncKeyboard,
		xproto.TimeCurrentTime).Check()
}

// SelectKeyPress subscribes this client to key press events on root.
func (c *Connection) SelectKeyPress(root xproto.Window) error {
	return xproto.ChangeWindowAttributesChecked(c.XUtil.Conn(), root,
		xproto.CwEventMask, []uint32{xproto.EventMaskKeyPress}).Check()
}

// GrabKey sends a checked passive grab. The returned cookie is not waited on.
func (c *Connection) GrabKey(root xproto.Window, mods uint16, key xproto.Keycode) hotkeys.Cookie {
	return xproto.GrabKeyChecked(c.XUtil.Conn(), true, root, mods, key,
		xproto.GrabModeAsync, xproto.GrabModeAsync)
}

// UngrabKey sends a checked ungrab.
func (c *Connection) UngrabKey(root xproto.Window, mods uint16, key xproto.Keycode) hotkeys.Cookie {
	return xproto.UngrabKeyChecked(c.XUtil.Conn(), key, root, mods)
}

// QueryPointer asks where the pointer is relative to root.
func (c *Connection) QueryPointer(root xproto.Window) (*xproto.QueryPointerReply, error) {
	return xproto.QueryPointer(c.XUtil.Conn(), root).Reply()
}

// WaitForEvent blocks for the next event or error from the server.
func (c *Connection) WaitForEvent() (xgb.Event, xgb.Error) {
	return c.XUtil.Conn().WaitForEvent()
}

// Close cleanly disconnects from the X11 server.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		// xgb closes its own request channel after an unrecoverable read
		// error; closing it again panics.
		defer func() { _ = recover() }()
		c.XUtil.Conn().Close()
	})
}

// KeysymName returns the keysym name of the first column of keycode.
func (c *Connection) KeysymName(keycode xproto.Keycode) string {
	c.mapMu.Lock()
	defer c.mapMu.Unlock()
	return keybind.KeysymToStr(keybind.KeysymGet(c.XUtil, keycode, 0))
}
