package hotkeys

import (
	"log/slog"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/keybind"
)

// OffendingMask holds the modifier bits of the lock keys on one connection.
// Lock keys toggle state instead of forming chords, so they are ignored when
// matching and expanded when grabbing.
type OffendingMask struct {
	NumLock    uint16
	CapsLock   uint16
	ScrollLock uint16
}

// All returns the union of the three lock bits.
func (o OffendingMask) All() uint16 {
	return o.NumLock | o.CapsLock | o.ScrollLock
}

// Clear removes the lock bits from an event state.
func (o OffendingMask) Clear(state uint16) uint16 {
	return state &^ o.All()
}

// Variants returns mask OR'ed with every subset of the lock bits.
// The first element is always mask itself. Duplicates produced by unbound
// lock keys are dropped, keeping the first occurrence.
func (o OffendingMask) Variants(mask uint16) []uint16 {
	bits := [3]uint16{o.NumLock, o.CapsLock, o.ScrollLock}

	out := make([]uint16, 0, 8)
	seen := make(map[uint16]struct{}, 8)
	for subset := 0; subset < 1<<len(bits); subset++ {
		m := mask
		for i, bit := range bits {
			if subset&(1<<i) != 0 {
				m |= bit
			}
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ResolveOffending reads the modifier mapping of d once and reports which
// modifier bits Num Lock and Scroll Lock are bound to. Caps Lock is always
// the Lock bit. Missing data leaves the corresponding bit at zero.
func ResolveOffending(d Display, logger *slog.Logger) OffendingMask {
	mask := OffendingMask{CapsLock: xproto.ModMaskLock}

	modmap, err := d.ModifierMapping()
	if err != nil {
		logger.Debug("modifier mapping unavailable, lock keys not filtered",
			"display", d.Target(), "error", err)
		return mask
	}

	mask.NumLock = modMaskFor(modmap, d.Keycodes("Num_Lock"))
	mask.ScrollLock = modMaskFor(modmap, d.Keycodes("Scroll_Lock"))

	logger.Debug("resolved lock modifiers",
		"display", d.Target(),
		"numlock", keybind.ModifierString(mask.NumLock),
		"capslock", keybind.ModifierString(mask.CapsLock),
		"scrolllock", keybind.ModifierString(mask.ScrollLock))
	return mask
}

// modMaskFor returns the modifier bit the first of keycodes is assigned to
// in modmap, or 0 if none of them is a modifier key.
func modMaskFor(modmap *xproto.GetModifierMappingReply, keycodes []xproto.Keycode) uint16 {
	if modmap == nil || modmap.KeycodesPerModifier == 0 {
		return 0
	}
	per := int(modmap.KeycodesPerModifier)
	for _, kc := range keycodes {
		if kc == 0 {
			continue
		}
		for i, mapped := range modmap.Keycodes {
			if mapped != kc {
				continue
			}
			idx := i / per
			if idx < 8 {
				return keybind.Modifiers[idx]
			}
		}
	}
	return 0
}
