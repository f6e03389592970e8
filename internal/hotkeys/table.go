package hotkeys

import "github.com/BurntSushi/xgb/xproto"

// Hotkey is one registered binding.
type Hotkey struct {
	ID   int
	Key  xproto.Keycode
	Mask uint16
	// Name is the key symbol name the binding was registered with.
	Name string
}

// grabTable keeps hotkeys in insertion order. The first entry with a given
// (key, mask) wins a match. Callers hold Manager.mu.
type grabTable struct {
	keys []Hotkey
}

func (t *grabTable) put(hk Hotkey) {
	t.keys = append(t.keys, hk)
}

func (t *grabTable) remove(id int) (Hotkey, bool) {
	for i, hk := range t.keys {
		if hk.ID == id {
			t.keys = append(t.keys[:i], t.keys[i+1:]...)
			return hk, true
		}
	}
	return Hotkey{}, false
}

func (t *grabTable) match(key xproto.Keycode, mask uint16) (Hotkey, bool) {
	for _, hk := range t.keys {
		if hk.Key == key && hk.Mask == mask {
			return hk, true
		}
	}
	return Hotkey{}, false
}

func (t *grabTable) snapshot() []Hotkey {
	out := make([]Hotkey, len(t.keys))
	copy(out, t.keys)
	return out
}
