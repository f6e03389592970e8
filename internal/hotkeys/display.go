package hotkeys

import (
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// Cookie is a checked X request whose outcome has not been read yet.
// Check forces a round trip if the reply has not arrived.
type Cookie interface {
	Check() error
}

// Display is one open connection to an X server.
//
// Implementations must be safe for concurrent use: the event loop reads
// events while registration calls issue grab requests on the same display.
type Display interface {
	// Target returns the display string the connection was opened with.
	Target() string
	// Roots returns the root window of every screen, indexed by screen number.
	Roots() []xproto.Window
	// Keycodes returns every keycode currently bound to the named key symbol.
	Keycodes(key string) []xproto.Keycode
	ModifierMapping() (*xproto.GetModifierMappingReply, error)
	// RefreshMapping re-reads the keyboard and modifier maps after a MappingNotify.
	RefreshMapping() error
	AllowAsyncKeyboard() error
	SelectKeyPress(root xproto.Window) error
	GrabKey(root xproto.Window, mods uint16, key xproto.Keycode) Cookie
	UngrabKey(root xproto.Window, mods uint16, key xproto.Keycode) Cookie
	QueryPointer(root xproto.Window) (*xproto.QueryPointerReply, error)
	// WaitForEvent blocks for the next event or protocol error.
	// Both results are nil once the connection is closed.
	WaitForEvent() (xgb.Event, xgb.Error)
	Close()
}

// Opener opens a Display for a display target such as ":0".
type Opener func(target string) (Display, error)
