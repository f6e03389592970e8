package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

// DisplayList accepts a single display string or a list of them.
type DisplayList []string

func (l *DisplayList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := value.Decode(&out); err != nil {
			return err
		}
		*l = append(DisplayList{}, out...)
		return nil
	default:
		return fmt.Errorf("displays must be a string or list of strings")
	}
}

type RawBinding struct {
	ID          *int    `yaml:"id"`
	Keys        *string `yaml:"keys"`
	Command     *string `yaml:"command"`
	Description *string `yaml:"description"`
}

// RawConfig is one YAML file as written. Nil fields were not set.
type RawConfig struct {
	Include         IncludeList  `yaml:"include"`
	Displays        DisplayList  `yaml:"displays"`
	Debug           *bool        `yaml:"debug"`
	PointerPosition *bool          `yaml:"pointer_position"`
	ConflictRetry   *time.Duration `yaml:"conflict_retry"`
	Bindings        []RawBinding   `yaml:"bindings"`
}

// merge applies overlay on top of c. Scalars are replaced; bindings are
// merged by id, keeping the position of the first definition.
func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c

	if overlay.Displays != nil {
		out.Displays = append(DisplayList{}, overlay.Displays...)
	}
	if overlay.Debug != nil {
		out.Debug = overlay.Debug
	}
	if overlay.PointerPosition != nil {
		out.PointerPosition = overlay.PointerPosition
	}
	if overlay.ConflictRetry != nil {
		out.ConflictRetry = overlay.ConflictRetry
	}

	if len(overlay.Bindings) > 0 {
		merged := append([]RawBinding(nil), c.Bindings...)
		for _, ob := range overlay.Bindings {
			idx := -1
			if ob.ID != nil {
				for i, b := range merged {
					if b.ID != nil && *b.ID == *ob.ID {
						idx = i
						break
					}
				}
			}
			if idx < 0 {
				merged = append(merged, ob)
				continue
			}
			merged[idx] = mergeRawBinding(merged[idx], ob)
		}
		out.Bindings = merged
	}

	return out
}

func mergeRawBinding(base RawBinding, overlay RawBinding) RawBinding {
	out := base
	if overlay.Keys != nil {
		out.Keys = overlay.Keys
	}
	if overlay.Command != nil {
		out.Command = overlay.Command
	}
	if overlay.Description != nil {
		out.Description = overlay.Description
	}
	return out
}
