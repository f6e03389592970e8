package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/1broseidon/xgrabkey/internal/hotkeys"
	"gopkg.in/yaml.v3"
)

// Config is the effective daemon configuration.
type Config struct {
	// Displays lists the X display targets to grab on, e.g. ":0" or "host:1".
	Displays []string `yaml:"displays"`
	Debug    bool     `yaml:"debug"`
	// PointerPosition reports the pointer location queried at fire time
	// instead of the coordinates carried by the key event.
	PointerPosition bool `yaml:"pointer_position"`
	// ConflictRetry is how often bindings refused by the X server are
	// grabbed again. Zero disables retries.
	ConflictRetry time.Duration `yaml:"conflict_retry"`
	Bindings      []Binding     `yaml:"bindings"`
}

// Binding maps a hotkey to an optional shell command.
type Binding struct {
	ID          int    `yaml:"id"`
	Keys        string `yaml:"keys"`
	Command     string `yaml:"command,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Parse returns the parsed hotkey of the binding.
func (b Binding) Parse() (hotkeys.Binding, error) {
	return hotkeys.ParseBinding(b.Keys)
}

const DefaultConflictRetry = 30 * time.Second

func DefaultConfig() *Config {
	display := strings.TrimSpace(os.Getenv("DISPLAY"))
	if display == "" {
		display = ":0"
	}
	return &Config{
		Displays:        []string{display},
		PointerPosition: true,
		ConflictRetry:   DefaultConflictRetry,
	}
}

// BindingByID returns the binding with the given id.
func (c *Config) BindingByID(id int) (Binding, bool) {
	for _, b := range c.Bindings {
		if b.ID == id {
			return b, true
		}
	}
	return Binding{}, false
}

// Save writes the configuration to path.
//
// Note: this marshals the effective config and will not preserve comments or
// include structure from the original YAML.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if len(c.Displays) == 0 {
		return &ValidationError{Path: "displays", Err: fmt.Errorf("at least one display is required")}
	}
	seenDisplays := make(map[string]struct{}, len(c.Displays))
	for _, d := range c.Displays {
		if strings.TrimSpace(d) == "" {
			return &ValidationError{Path: "displays", Err: fmt.Errorf("display must not be empty")}
		}
		if _, dup := seenDisplays[d]; dup {
			return &ValidationError{Path: "displays", Err: fmt.Errorf("display %q listed twice", d)}
		}
		seenDisplays[d] = struct{}{}
	}

	if c.ConflictRetry < 0 {
		return &ValidationError{Path: "conflict_retry", Err: fmt.Errorf("conflict_retry must be >= 0")}
	}

	seenIDs := make(map[int]struct{}, len(c.Bindings))
	for _, b := range c.Bindings {
		path := bindingPath(b.ID)
		if b.ID < 0 {
			return &ValidationError{Path: path + ".id", Err: fmt.Errorf("id must be >= 0")}
		}
		if _, dup := seenIDs[b.ID]; dup {
			return &ValidationError{Path: path + ".id", Err: fmt.Errorf("duplicate binding id %d", b.ID)}
		}
		seenIDs[b.ID] = struct{}{}

		if strings.TrimSpace(b.Keys) == "" {
			return &ValidationError{Path: path + ".keys", Err: fmt.Errorf("keys is required")}
		}
		if _, err := b.Parse(); err != nil {
			return &ValidationError{Path: path + ".keys", Err: err}
		}
	}

	if warnings := c.validationWarnings(); len(warnings) > 0 {
		for _, w := range warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
	}
	return nil
}

func (c *Config) validationWarnings() []string {
	var warnings []string

	combos := make(map[string]int)
	for _, b := range c.Bindings {
		parsed, err := b.Parse()
		if err != nil {
			continue
		}
		key := parsed.String()
		if first, ok := combos[key]; ok {
			warnings = append(warnings, fmt.Sprintf("bindings %d and %d both use %s; only %d will fire", first, b.ID, key, first))
			continue
		}
		combos[key] = b.ID
	}
	return warnings
}

// bindingPath is the source path of a binding. Bindings are addressed by id
// so that paths stay stable when includes reorder the list.
func bindingPath(id int) string {
	return fmt.Sprintf("bindings.%d", id)
}
