package config

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/launcher"
	"github.com/wippyai/wasm-launcher/wasm/wasmtest"
)

func TestMemorySize(t *testing.T) {
	tests := []struct {
		in    string
		want  MemorySize
		pages uint32
		fail  bool
	}{
		{in: "0", want: 0, pages: 0},
		{in: "65536", want: 65536, pages: 1},
		{in: "65537", want: 65537, pages: 2},
		{in: "64MB", want: 64_000_000, pages: 977},
		{in: "64MiB", want: 64 << 20, pages: 1024},
		{in: "8GiB", want: 8 << 30, pages: 65536},
		{in: "lots", fail: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var m MemorySize
			err := m.Set(tt.in)
			if tt.fail {
				if err == nil {
					t.Fatalf("Set(%q) succeeded", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set(%q): %v", tt.in, err)
			}
			if m != tt.want {
				t.Errorf("value = %d, want %d", m, tt.want)
			}
			if m.Pages() != tt.pages {
				t.Errorf("Pages() = %d, want %d", m.Pages(), tt.pages)
			}
		})
	}
}

func TestMemorySize_YAMLRejectsSequence(t *testing.T) {
	var v struct {
		Limit MemorySize `yaml:"limit"`
	}
	if err := yaml.Unmarshal([]byte("limit: [1, 2]"), &v); err == nil {
		t.Error("sequence accepted as memory size")
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
base_path: build/godot
extension: .side.wasm
executable: game
locale: fr_FR
main_pack: game.pck
unload_after_init: false
memory_limit: 1MiB
args: ["--verbose"]
env:
  GODOT_DEBUG: "1"
preload:
  - source: assets/extra.pck
    path: extra.pck
fs:
  mounts:
    - host_path: ./saves
      guest_path: /userfs
      read_only: true
`)

	m, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.BasePath != "build/godot" || m.Extension != ".side.wasm" || m.Executable != "game" {
		t.Errorf("paths = %+v", m)
	}
	if m.UnloadAfterInit == nil || *m.UnloadAfterInit {
		t.Errorf("unload_after_init = %v", m.UnloadAfterInit)
	}
	if m.MemoryLimit.Pages() != 16 {
		t.Errorf("memory pages = %d, want 16", m.MemoryLimit.Pages())
	}
	if len(m.Args) != 1 || m.Env["GODOT_DEBUG"] != "1" {
		t.Errorf("args/env = %v %v", m.Args, m.Env)
	}
	if len(m.Preload) != 1 || m.Preload[0].Path != "extra.pck" {
		t.Errorf("preload = %+v", m.Preload)
	}
	if len(m.FS.Mounts) != 1 || !m.FS.Mounts[0].ReadOnly || m.FS.Mounts[0].GuestPath != "/userfs" {
		t.Errorf("mounts = %+v", m.FS.Mounts)
	}

	cfg := m.EngineConfig(nil)
	if cfg.MemoryLimitPages != 16 {
		t.Errorf("EngineConfig pages = %d", cfg.MemoryLimitPages)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind errors.Kind
	}{
		{"not yaml", "base_path: [", errors.KindInvalidData},
		{"missing base path", "locale: en", errors.KindInvalidInput},
		{"bad memory", "base_path: x\nmemory_limit: huge", errors.KindInvalidData},
		{"preload without path", "base_path: x\npreload:\n  - source: a", errors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: tt.kind}) {
				t.Errorf("Parse = %v, want %s", err, tt.kind)
			}
		})
	}

	_, err := Parse([]byte("base_path: x\nfs:\n  mounts:\n    - host_path: /tmp\n      guest_path: rel"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseFS, Kind: errors.KindInvalidData}) {
		t.Errorf("relative mount = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launch.yaml")
	if err := os.WriteFile(path, []byte("base_path: game\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.BasePath != "game" {
		t.Errorf("BasePath = %q", m.BasePath)
	}

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindNotFound}) {
		t.Errorf("missing manifest = %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("locale: en\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(bad)
	if err == nil || !strings.Contains(err.Error(), bad) {
		t.Errorf("invalid manifest error should name the file: %v", err)
	}
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "godot.wasm"), wasmtest.DumpArgs(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extra.pck"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		manifest string
		want     string
	}{
		{
			name:     "plain start",
			manifest: "base_path: " + filepath.Join(dir, "godot") + "\nexecutable: game\nargs: [--editor]",
			want:     "game\x00--editor\x00",
		},
		{
			name: "main pack",
			manifest: "base_path: " + filepath.Join(dir, "godot") +
				"\nmain_pack: " + filepath.Join(dir, "extra.pck"),
			want: filepath.Join(dir, "godot") + "\x00--main-pack\x00" + filepath.Join(dir, "extra.pck") + "\x00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.manifest + "\npreload:\n  - source: " + filepath.Join(dir, "extra.pck") + "\n    path: data/extra.pck\n"))
			if err != nil {
				t.Fatal(err)
			}

			var out bytes.Buffer
			cfg := m.EngineConfig(nil)
			cfg.Stdout = &out
			e, err := launcher.New(ctx, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer e.Close(ctx)

			if err := m.Run(ctx, e); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := strings.TrimSuffix(out.String(), "\n"); got != tt.want {
				t.Errorf("argv = %q, want %q", got, tt.want)
			}
		})
	}
}
