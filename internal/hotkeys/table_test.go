package hotkeys

import (
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

func TestGrabTable(t *testing.T) {
	var table grabTable
	table.put(Hotkey{ID: 1, Key: kcA, Mask: xproto.ModMaskControl})
	table.put(Hotkey{ID: 2, Key: kcA, Mask: xproto.ModMaskControl})
	table.put(Hotkey{ID: 3, Key: kcB, Mask: 0})

	hk, ok := table.match(kcA, xproto.ModMaskControl)
	if !ok || hk.ID != 1 {
		t.Fatalf("match = %+v %v, want first inserted id 1", hk, ok)
	}
	if _, ok := table.match(kcA, xproto.ModMaskShift); ok {
		t.Fatal("match must compare the mask exactly")
	}

	if _, ok := table.remove(1); !ok {
		t.Fatal("remove(1) = false")
	}
	if _, ok := table.remove(1); ok {
		t.Fatal("second remove(1) = true")
	}
	hk, ok = table.match(kcA, xproto.ModMaskControl)
	if !ok || hk.ID != 2 {
		t.Fatalf("after remove match = %+v, want id 2", hk)
	}

	snap := table.snapshot()
	if len(snap) != 2 || snap[0].ID != 2 || snap[1].ID != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
	snap[0].ID = 99
	if table.keys[0].ID != 2 {
		t.Fatal("snapshot must be a copy")
	}
}
