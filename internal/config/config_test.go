package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/xgb/xproto"
)

func writeConfig(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDefaultConfig_UsesDisplayEnv(t *testing.T) {
	t.Setenv("DISPLAY", ":7")
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if len(cfg.Displays) != 1 || cfg.Displays[0] != ":7" {
		t.Fatalf("expected displays [:7], got %v", cfg.Displays)
	}
	if !cfg.PointerPosition {
		t.Fatalf("expected pointer_position to default to true")
	}
}

func TestDefaultConfig_FallsBackToDisplayZero(t *testing.T) {
	t.Setenv("DISPLAY", "")
	cfg := DefaultConfig()
	if len(cfg.Displays) != 1 || cfg.Displays[0] != ":0" {
		t.Fatalf("expected displays [:0], got %v", cfg.Displays)
	}
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("DISPLAY", ":3")
	path := filepath.Join(t.TempDir(), "config.yaml")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Config.Displays[0] != ":3" {
		t.Fatalf("expected default display :3, got %v", res.Config.Displays)
	}
	if len(res.Files) != 0 {
		t.Fatalf("expected no loaded files, got %v", res.Files)
	}
}

func TestLoadFromPath_Bindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path,
		"displays: [\":0\", \"remote:1\"]",
		"debug: true",
		"pointer_position: false",
		"conflict_retry: 5s",
		"bindings:",
		"  - id: 1",
		"    keys: Control-Mod1-t",
		"    command: xterm",
		"    description: terminal",
		"  - id: 2",
		"    keys: Super-F12",
	)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config
	if len(cfg.Displays) != 2 || cfg.Displays[1] != "remote:1" {
		t.Fatalf("unexpected displays %v", cfg.Displays)
	}
	if !cfg.Debug || cfg.PointerPosition {
		t.Fatalf("expected debug on and pointer_position off, got %+v", cfg)
	}
	if cfg.ConflictRetry != 5*time.Second {
		t.Fatalf("expected conflict_retry 5s, got %v", cfg.ConflictRetry)
	}
	if len(cfg.Bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(cfg.Bindings))
	}

	b, ok := cfg.BindingByID(1)
	if !ok || b.Command != "xterm" || b.Description != "terminal" {
		t.Fatalf("unexpected binding 1: %+v", b)
	}
	parsed, err := b.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Mask != xproto.ModMaskControl|xproto.ModMask1 || parsed.Key != "t" {
		t.Fatalf("unexpected parsed binding %+v", parsed)
	}
}

func TestLoadFromPath_SingleDisplayString(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "displays: \":5\"")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.Config.Displays) != 1 || res.Config.Displays[0] != ":5" {
		t.Fatalf("expected [:5], got %v", res.Config.Displays)
	}
}

func TestLoadFromPath_StrictUnknownKeyErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "unknown_key: 1")

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "unknown_key") && !strings.Contains(err.Error(), "field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error to include file path, got %v", err)
	}
}

func TestLoadFromPath_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		wantPath string
	}{
		{
			name:     "duplicate id",
			lines:    []string{"bindings:", "  - id: 1", "    keys: a", "  - id: 1", "    keys: b"},
			wantPath: "bindings.1.id",
		},
		{
			name:     "bad modifier",
			lines:    []string{"bindings:", "  - id: 4", "    keys: Hyper-a"},
			wantPath: "bindings.4.keys",
		},
		{
			name:     "missing keys",
			lines:    []string{"bindings:", "  - id: 2", "    command: echo"},
			wantPath: "bindings.2.keys",
		},
		{
			name:     "missing id",
			lines:    []string{"bindings:", "  - keys: a"},
			wantPath: "bindings",
		},
		{
			name:     "empty displays",
			lines:    []string{"displays: []"},
			wantPath: "displays",
		},
		{
			name:     "negative retry",
			lines:    []string{"conflict_retry: -1s"},
			wantPath: "conflict_retry",
		},
		{
			name:     "negative id",
			lines:    []string{"bindings:", "  - id: -1", "    keys: a"},
			wantPath: "bindings.-1.id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeConfig(t, path, tt.lines...)

			_, err := LoadFromPath(path)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Path != tt.wantPath {
				t.Fatalf("expected path %q, got %q (%v)", tt.wantPath, verr.Path, err)
			}
		})
	}
}

func TestLoadFromPath_DuplicateIDInOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path,
		"bindings:",
		"  - id: 1",
		"    keys: Control-a",
		"    command: one",
		"  - id: 1",
		"    keys: Control-b",
		"    command: two",
	)

	res, err := LoadFromPath(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v (result %+v)", err, res)
	}
	if verr.Path != "bindings.1.id" {
		t.Fatalf("expected path bindings.1.id, got %q", verr.Path)
	}
	if verr.Source.Kind != SourceFile || verr.Source.File == "" || verr.Source.Line != 5 {
		t.Fatalf("expected source line 5, got %#v", verr.Source)
	}
}

func TestLoadFromPath_IncludeOverridesBindingByID(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, base,
		"bindings:",
		"  - id: 1",
		"    keys: Control-a",
		"    command: one",
	)
	writeConfig(t, path,
		"include: base.yaml",
		"bindings:",
		"  - id: 1",
		"    command: two",
	)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if len(res.Config.Bindings) != 1 {
		t.Fatalf("expected one binding, got %+v", res.Config.Bindings)
	}
	b := res.Config.Bindings[0]
	if b.Keys != "Control-a" || b.Command != "two" {
		t.Fatalf("expected include override merged by id, got %+v", b)
	}
}

func TestLoadFromPath_ValidationErrorHasSourceLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path,
		"bindings:",
		"  - id: 1",
		"    keys: a",
		"  - id: 9",
		"    keys: Bogus-a",
	)

	_, err := LoadFromPath(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Source.Kind != SourceFile || verr.Source.Line != 5 {
		t.Fatalf("expected source line 5, got %#v", verr.Source)
	}
	if !strings.Contains(err.Error(), ":5:") {
		t.Fatalf("expected error to carry the line, got %v", err)
	}
}

func TestLoadFromPath_IncludeMergesBindingsByID(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, filepath.Join(dir, "conf.d", "10-base.yaml"),
		"displays: \":1\"",
		"bindings:",
		"  - id: 1",
		"    keys: Control-a",
		"    command: first",
		"  - id: 2",
		"    keys: Control-b",
	)
	writeConfig(t, filepath.Join(dir, "conf.d", "20-extra.yaml"),
		"bindings:",
		"  - id: 3",
		"    keys: Control-c",
	)
	writeConfig(t, mainPath,
		"include: conf.d",
		"bindings:",
		"  - id: 1",
		"    command: override",
	)

	res, err := LoadFromPath(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config
	if cfg.Displays[0] != ":1" {
		t.Fatalf("expected display from include, got %v", cfg.Displays)
	}
	if len(cfg.Bindings) != 3 {
		t.Fatalf("expected 3 bindings, got %+v", cfg.Bindings)
	}
	if cfg.Bindings[0].ID != 1 || cfg.Bindings[0].Keys != "Control-a" || cfg.Bindings[0].Command != "override" {
		t.Fatalf("expected binding 1 merged in place, got %+v", cfg.Bindings[0])
	}
	if cfg.Bindings[2].ID != 3 {
		t.Fatalf("expected include order preserved, got %+v", cfg.Bindings)
	}
	if len(res.Files) != 3 || !strings.HasSuffix(res.Files[2], "config.yaml") {
		t.Fatalf("expected main file loaded last, got %v", res.Files)
	}
}

func TestLoadFromPath_IncludeCycleDetection(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	writeConfig(t, a, "include: b.yaml")
	writeConfig(t, b, "include: a.yaml")

	_, err := LoadFromPath(a)
	if err == nil || !strings.Contains(err.Error(), "include cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestLoadFromPath_IncludeMissingPathHasContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "include: missing.yaml")

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatalf("expected error for missing include")
	}
	if !strings.Contains(err.Error(), "missing.yaml") || !strings.Contains(err.Error(), ":1:") {
		t.Fatalf("expected include location in error, got %v", err)
	}
}

func TestExplain(t *testing.T) {
	t.Setenv("DISPLAY", ":0")
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path,
		"bindings:",
		"  - id: 7",
		"    keys: Mod4-Return",
		"    command: xterm",
	)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	value, src, err := Explain(res, "bindings.7.command")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if value != "xterm" || src.Kind != SourceFile || src.Line != 4 {
		t.Fatalf("unexpected explain result %v %#v", value, src)
	}

	value, src, err = Explain(res, "pointer_position")
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if value != true || src.Kind != SourceDefault {
		t.Fatalf("expected default pointer_position, got %v %#v", value, src)
	}

	if _, _, err := Explain(res, "bindings.8"); err == nil {
		t.Fatalf("expected error for unknown binding")
	}
	if _, _, err := Explain(res, "nope"); err == nil {
		t.Fatalf("expected error for unknown path")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		Displays: []string{":0"},
		Bindings: []Binding{{ID: 1, Keys: "Control-x", Command: "echo hi"}},
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b, ok := res.Config.BindingByID(1); !ok || b.Command != "echo hi" {
		t.Fatalf("expected saved binding, got %+v", res.Config.Bindings)
	}
}
