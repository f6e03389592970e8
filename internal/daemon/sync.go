package daemon

import (
	"sort"

	"github.com/1broseidon/xgrabkey/internal/config"
	"github.com/1broseidon/xgrabkey/internal/hotkeys"
)

const (
	sourceConfig = "config"
	sourceIPC    = "ipc"
)

// entry is the daemon's view of one registered hotkey.
type entry struct {
	binding     hotkeys.Binding
	command     string
	description string
	source      string
	conflict    bool
}

// syncPlan lists what has to change to bring the registered hotkeys in line
// with the configured bindings.
type syncPlan struct {
	unregister []int
	register   []config.Binding
	update     []config.Binding
}

func (p syncPlan) empty() bool {
	return len(p.unregister) == 0 && len(p.register) == 0 && len(p.update) == 0
}

// planSync compares the current entries with the configured bindings.
// Hotkeys added over IPC are left alone unless the config claims their id.
// Bindings whose keys did not change are only updated, never grabbed again.
func planSync(current map[int]*entry, desired []config.Binding) syncPlan {
	var plan syncPlan

	wanted := make(map[int]struct{}, len(desired))
	for _, b := range desired {
		wanted[b.ID] = struct{}{}
	}

	for id, e := range current {
		if e.source != sourceConfig {
			continue
		}
		if _, ok := wanted[id]; !ok {
			plan.unregister = append(plan.unregister, id)
		}
	}
	sort.Ints(plan.unregister)

	for _, b := range desired {
		e, ok := current[b.ID]
		if !ok || e.source != sourceConfig {
			plan.register = append(plan.register, b)
			continue
		}
		parsed, err := b.Parse()
		if err != nil || parsed != e.binding {
			plan.register = append(plan.register, b)
			continue
		}
		if b.Command != e.command || b.Description != e.description {
			plan.update = append(plan.update, b)
		}
	}

	return plan
}
