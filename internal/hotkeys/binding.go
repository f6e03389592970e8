package hotkeys

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/keybind"
)

// Binding is a parsed hotkey string such as "Control-Mod1-k".
// Construct it with ParseBinding.
type Binding struct {
	Mask uint16
	Key  string
}

var modifierNames = map[string]uint16{
	"shift":   xproto.ModMaskShift,
	"lock":    xproto.ModMaskLock,
	"control": xproto.ModMaskControl,
	"ctrl":    xproto.ModMaskControl,
	"mod1":    xproto.ModMask1,
	"alt":     xproto.ModMask1,
	"mod2":    xproto.ModMask2,
	"mod3":    xproto.ModMask3,
	"mod4":    xproto.ModMask4,
	"super":   xproto.ModMask4,
	"mod5":    xproto.ModMask5,
}

// ParseBinding parses "[Mod[-Mod...]-]KEY". Modifier names are
// case-insensitive and follow xmodmap (shift, lock, control, mod1..mod5) with
// the aliases ctrl, alt and super. KEY is a key symbol name as printed by xev.
func ParseBinding(s string) (Binding, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Binding{}, fmt.Errorf("empty hotkey")
	}

	parts := strings.Split(s, "-")
	// "Control--" binds the minus key.
	if strings.HasSuffix(s, "--") {
		parts = append(strings.Split(strings.TrimSuffix(s, "--"), "-"), "minus")
	}

	var b Binding
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return Binding{}, fmt.Errorf("invalid hotkey %q: empty component", s)
		}
		if i == len(parts)-1 {
			if _, isMod := modifierNames[strings.ToLower(part)]; isMod {
				return Binding{}, fmt.Errorf("invalid hotkey %q: missing key after modifiers", s)
			}
			b.Key = part
			continue
		}
		mod, ok := modifierNames[strings.ToLower(part)]
		if !ok {
			return Binding{}, fmt.Errorf("invalid hotkey %q: unknown modifier %q", s, part)
		}
		b.Mask |= mod
	}
	return b, nil
}

// String returns the binding in canonical form, e.g. "control-mod1-k".
func (b Binding) String() string {
	mods := keybind.ModifierString(b.Mask)
	if mods == "" {
		return b.Key
	}
	return mods + "-" + b.Key
}
