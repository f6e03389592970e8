// Package hotkeystest provides an in-memory X server for testing code built
// on hotkeys.Manager.
package hotkeystest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1broseidon/xgrabkey/internal/hotkeys"
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
)

// Keycodes of the fake keyboard. Num_Lock sits on Mod2, Scroll_Lock on Mod5
// and Caps_Lock on Lock.
const (
	KeyA          xproto.Keycode = 38
	KeyB          xproto.Keycode = 56
	KeyCapsLock   xproto.Keycode = 66
	KeyControlL   xproto.Keycode = 37
	KeyNumLock    xproto.Keycode = 77
	KeyScrollLock xproto.Keycode = 78
)

// PointerX and PointerY are where QueryPointer reports the pointer.
const (
	PointerX = 10
	PointerY = 20
)

// EventX and EventY are the root coordinates carried by injected key presses.
const (
	EventX = 1
	EventY = 2
)

var keymap = map[string][]xproto.Keycode{
	"a":           {KeyA},
	"b":           {KeyB},
	"Caps_Lock":   {KeyCapsLock},
	"Control_L":   {KeyControlL},
	"Num_Lock":    {KeyNumLock},
	"Scroll_Lock": {KeyScrollLock},
}

// Modmap returns the modifier mapping of the fake keyboard.
func Modmap() *xproto.GetModifierMappingReply {
	keycodes := make([]xproto.Keycode, 16)
	keycodes[1*2] = KeyCapsLock
	keycodes[2*2] = KeyControlL
	keycodes[4*2] = KeyNumLock
	keycodes[7*2] = KeyScrollLock
	return &xproto.GetModifierMappingReply{KeycodesPerModifier: 2, Keycodes: keycodes}
}

// X_GrabKey
const grabKeyOpcode = 33

// Grab identifies one passive key grab.
type Grab struct {
	Root xproto.Window
	Mods uint16
	Key  xproto.Keycode
}

// server is shared by every client opened on the same target. Grabs are
// exclusive per (root, mods, key) across clients.
type server struct {
	mu            sync.Mutex
	screens       int
	pointerScreen int
	grabs         map[Grab]*Display
}

func (s *server) roots() []xproto.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]xproto.Window, s.screens)
	for i := range out {
		out[i] = xproto.Window(0x100 + i)
	}
	return out
}

type cookie struct {
	err error
}

func (c cookie) Check() error {
	return c.err
}

type item struct {
	event xgb.Event
	err   xgb.Error
}

// Display is one client connection to a fake server. It implements
// hotkeys.Display.
type Display struct {
	server *server
	target string
	queue  chan item

	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	grabbed   []Grab
	released  []Grab
	refreshes int
}

var _ hotkeys.Display = (*Display)(nil)

func (d *Display) Target() string {
	return d.target
}

func (d *Display) Roots() []xproto.Window {
	return d.server.roots()
}

func (d *Display) Keycodes(key string) []xproto.Keycode {
	return keymap[key]
}

func (d *Display) ModifierMapping() (*xproto.GetModifierMappingReply, error) {
	return Modmap(), nil
}

func (d *Display) RefreshMapping() error {
	d.mu.Lock()
	d.refreshes++
	d.mu.Unlock()
	return nil
}

func (d *Display) AllowAsyncKeyboard() error {
	return nil
}

func (d *Display) SelectKeyPress(root xproto.Window) error {
	return nil
}

func (d *Display) GrabKey(root xproto.Window, mods uint16, key xproto.Keycode) hotkeys.Cookie {
	g := Grab{Root: root, Mods: mods, Key: key}

	d.server.mu.Lock()
	if owner, taken := d.server.grabs[g]; taken && owner != d {
		d.server.mu.Unlock()
		return cookie{err: xproto.AccessError{NiceName: "Access", MajorOpcode: grabKeyOpcode}}
	}
	d.server.grabs[g] = d
	d.server.mu.Unlock()

	d.mu.Lock()
	d.grabbed = append(d.grabbed, g)
	d.mu.Unlock()
	return cookie{}
}

func (d *Display) UngrabKey(root xproto.Window, mods uint16, key xproto.Keycode) hotkeys.Cookie {
	g := Grab{Root: root, Mods: mods, Key: key}

	d.server.mu.Lock()
	if d.server.grabs[g] == d {
		delete(d.server.grabs, g)
	}
	d.server.mu.Unlock()

	d.mu.Lock()
	d.released = append(d.released, g)
	d.mu.Unlock()
	return cookie{}
}

func (d *Display) QueryPointer(root xproto.Window) (*xproto.QueryPointerReply, error) {
	d.server.mu.Lock()
	pointerRoot := xproto.Window(0x100 + d.server.pointerScreen)
	d.server.mu.Unlock()

	if root != pointerRoot {
		return &xproto.QueryPointerReply{SameScreen: false}, nil
	}
	return &xproto.QueryPointerReply{SameScreen: true, Root: root, RootX: PointerX, RootY: PointerY}, nil
}

func (d *Display) WaitForEvent() (xgb.Event, xgb.Error) {
	select {
	case it := <-d.queue:
		return it.event, it.err
	case <-d.closed:
		return nil, nil
	}
}

// Close disconnects the client. The server drops every grab it held.
func (d *Display) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		d.server.mu.Lock()
		for g, owner := range d.server.grabs {
			if owner == d {
				delete(d.server.grabs, g)
			}
		}
		d.server.mu.Unlock()
	})
}

// Closed reports whether Close was called.
func (d *Display) Closed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// Press delivers a key press on the first screen.
func (d *Display) Press(key xproto.Keycode, state uint16) {
	d.Inject(xproto.KeyPressEvent{
		Detail: key,
		State:  state,
		Root:   xproto.Window(0x100),
		RootX:  EventX,
		RootY:  EventY,
	})
}

// Inject queues an arbitrary event.
func (d *Display) Inject(ev xgb.Event) {
	d.queue <- item{event: ev}
}

// InjectError queues a protocol error as if from an unchecked request.
func (d *Display) InjectError(err xgb.Error) {
	d.queue <- item{err: err}
}

// Grabs returns every grab request this client made, in order.
func (d *Display) Grabs() []Grab {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Grab(nil), d.grabbed...)
}

// Ungrabs returns every ungrab request this client made, in order.
func (d *Display) Ungrabs() []Grab {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Grab(nil), d.released...)
}

// Refreshes counts RefreshMapping calls.
func (d *Display) Refreshes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshes
}

// Network maps display targets to fake servers and records every client.
type Network struct {
	mu      sync.Mutex
	servers map[string]*server
	clients map[string][]*Display
	fail    map[string]bool
}

// NewNetwork returns a network with one single-screen server per target.
func NewNetwork(targets ...string) *Network {
	n := &Network{
		servers: make(map[string]*server),
		clients: make(map[string][]*Display),
		fail:    make(map[string]bool),
	}
	for _, t := range targets {
		n.servers[t] = &server{screens: 1, grabs: make(map[Grab]*Display)}
	}
	return n
}

// SetScreens changes the screen count of target and the screen holding the
// pointer. Call it before any client connects.
func (n *Network) SetScreens(target string, screens, pointerScreen int) {
	n.mu.Lock()
	s := n.servers[target]
	n.mu.Unlock()

	s.mu.Lock()
	s.screens = screens
	s.pointerScreen = pointerScreen
	s.mu.Unlock()
}

// Fail makes every later Open of target fail.
func (n *Network) Fail(target string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail[target] = true
}

// Open is a hotkeys.Opener.
func (n *Network) Open(target string) (hotkeys.Display, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[target] {
		return nil, errors.New("connection refused")
	}
	s, ok := n.servers[target]
	if !ok {
		return nil, fmt.Errorf("no server at %s", target)
	}
	d := &Display{
		server: s,
		target: target,
		queue:  make(chan item, 16),
		closed: make(chan struct{}),
	}
	n.clients[target] = append(n.clients[target], d)
	return d, nil
}

// Client returns the i-th connection opened on target.
func (n *Network) Client(target string, i int) *Display {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[target][i]
}

// HeldGrabs returns how many grabs the server of target currently holds.
func (n *Network) HeldGrabs(target string) int {
	n.mu.Lock()
	s := n.servers[target]
	n.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grabs)
}
