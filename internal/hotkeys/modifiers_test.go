package hotkeys

import (
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

func TestVariants(t *testing.T) {
	full := OffendingMask{NumLock: xproto.ModMask2, CapsLock: xproto.ModMaskLock, ScrollLock: xproto.ModMask5}

	tests := []struct {
		name   string
		mask   OffendingMask
		base   uint16
		expect []uint16
	}{
		{
			name: "all lock keys bound",
			mask: full,
			base: xproto.ModMaskControl,
			expect: []uint16{
				xproto.ModMaskControl,
				xproto.ModMaskControl | xproto.ModMask2,
				xproto.ModMaskControl | xproto.ModMaskLock,
				xproto.ModMaskControl | xproto.ModMask2 | xproto.ModMaskLock,
				xproto.ModMaskControl | xproto.ModMask5,
				xproto.ModMaskControl | xproto.ModMask2 | xproto.ModMask5,
				xproto.ModMaskControl | xproto.ModMaskLock | xproto.ModMask5,
				xproto.ModMaskControl | xproto.ModMask2 | xproto.ModMaskLock | xproto.ModMask5,
			},
		},
		{
			name:   "only caps lock",
			mask:   OffendingMask{CapsLock: xproto.ModMaskLock},
			base:   xproto.ModMask1,
			expect: []uint16{xproto.ModMask1, xproto.ModMask1 | xproto.ModMaskLock},
		},
		{
			name:   "no lock keys",
			mask:   OffendingMask{},
			base:   xproto.ModMaskShift,
			expect: []uint16{xproto.ModMaskShift},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.mask.Variants(tt.base)
			if len(got) != len(tt.expect) {
				t.Fatalf("Variants() = %v, want %v", got, tt.expect)
			}
			for i := range got {
				if got[i] != tt.expect[i] {
					t.Fatalf("Variants()[%d] = %#x, want %#x", i, got[i], tt.expect[i])
				}
			}
		})
	}
}

func TestOffendingMaskClear(t *testing.T) {
	o := OffendingMask{NumLock: xproto.ModMask2, CapsLock: xproto.ModMaskLock, ScrollLock: xproto.ModMask5}

	state := uint16(xproto.ModMaskControl | xproto.ModMask2 | xproto.ModMaskLock | xproto.ModMask5)
	if got := o.Clear(state); got != xproto.ModMaskControl {
		t.Fatalf("Clear(%#x) = %#x, want %#x", state, got, xproto.ModMaskControl)
	}
	if got := o.Clear(xproto.ModMaskShift); got != xproto.ModMaskShift {
		t.Fatalf("Clear must keep real modifiers, got %#x", got)
	}
}

const (
	kcA       xproto.Keycode = 38
	kcB       xproto.Keycode = 56
	kcNumLock xproto.Keycode = 77
)

func TestModMaskFor(t *testing.T) {
	keycodes := make([]xproto.Keycode, 16)
	keycodes[4*2+1] = kcNumLock
	modmap := &xproto.GetModifierMappingReply{KeycodesPerModifier: 2, Keycodes: keycodes}

	if got := modMaskFor(modmap, []xproto.Keycode{kcNumLock}); got != xproto.ModMask2 {
		t.Fatalf("Num_Lock = %#x, want Mod2", got)
	}
	if got := modMaskFor(modmap, []xproto.Keycode{kcA}); got != 0 {
		t.Fatalf("non-modifier key = %#x, want 0", got)
	}
	if got := modMaskFor(modmap, nil); got != 0 {
		t.Fatalf("no keycodes = %#x, want 0", got)
	}
	// Unused modmap slots hold keycode 0 and must never match.
	if got := modMaskFor(modmap, []xproto.Keycode{0}); got != 0 {
		t.Fatalf("keycode 0 = %#x, want 0", got)
	}
}
