package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Explain returns the effective value at the given YAML-like path and its source.
//
// Supported paths:
//
//	displays
//	debug
//	pointer_position
//	conflict_retry
//	bindings
//	bindings.<id>
//	bindings.<id>.keys
//	bindings.<id>.command
//	bindings.<id>.description
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}

	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}

func lookupValue(cfg *Config, path string) (any, error) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "displays":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.Displays, nil
	case "debug":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.Debug, nil
	case "pointer_position":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.PointerPosition, nil
	case "conflict_retry":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.ConflictRetry.String(), nil
	case "bindings":
		if len(parts) == 1 {
			return cfg.Bindings, nil
		}
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("unknown path: %s (binding id must be a number)", path)
		}
		b, ok := cfg.BindingByID(id)
		if !ok {
			return nil, fmt.Errorf("no binding with id %d", id)
		}
		if len(parts) == 2 {
			return b, nil
		}
		if len(parts) != 3 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		switch parts[2] {
		case "id":
			return b.ID, nil
		case "keys":
			return b.Keys, nil
		case "command":
			return b.Command, nil
		case "description":
			return b.Description, nil
		}
	}
	return nil, fmt.Errorf("unknown path: %s", path)
}
