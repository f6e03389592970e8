package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// BuildEffectiveConfig applies raw on top of DefaultConfig.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.Displays != nil {
		cfg.Displays = make([]string, 0, len(raw.Displays))
		for _, d := range raw.Displays {
			cfg.Displays = append(cfg.Displays, strings.TrimSpace(d))
		}
	}
	if raw.Debug != nil {
		cfg.Debug = *raw.Debug
	}
	if raw.PointerPosition != nil {
		cfg.PointerPosition = *raw.PointerPosition
	}
	if raw.ConflictRetry != nil {
		cfg.ConflictRetry = *raw.ConflictRetry
	}

	for i, rb := range raw.Bindings {
		if rb.ID == nil {
			return nil, &ValidationError{Path: "bindings", Err: fmt.Errorf("binding #%d has no id", i+1)}
		}
		b := Binding{ID: *rb.ID}
		if rb.Keys != nil {
			b.Keys = strings.TrimSpace(*rb.Keys)
		}
		if rb.Command != nil {
			b.Command = *rb.Command
		}
		if rb.Description != nil {
			b.Description = *rb.Description
		}
		cfg.Bindings = append(cfg.Bindings, b)
	}

	return cfg, nil
}
