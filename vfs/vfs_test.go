package vfs

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/wasm-launcher/errors"
)

func TestStaging_WriteFile(t *testing.T) {
	s, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.WriteFile("/game/data/main.pck", []byte("pack")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.WriteFile("settings.cfg", []byte("a=1")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.WriteFile("settings.cfg", []byte("a=2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(s.Dir(), "game", "data", "main.pck"))
	if err != nil || string(got) != "pack" {
		t.Errorf("nested file = %q, %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(s.Dir(), "settings.cfg"))
	if err != nil || string(got) != "a=2" {
		t.Errorf("overwritten file = %q, %v", got, err)
	}

	want := []string{"/game/data/main.pck", "/settings.cfg", "/settings.cfg"}
	written := s.Written()
	if len(written) != len(want) {
		t.Fatalf("Written() = %v", written)
	}
	for i := range want {
		if written[i] != want[i] {
			t.Errorf("Written()[%d] = %q, want %q", i, written[i], want[i])
		}
	}
}

func TestStaging_Remove(t *testing.T) {
	s, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.WriteFile("data/a.pck", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("/data/a.pck"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "data", "a.pck")); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
	if len(s.Written()) != 0 {
		t.Errorf("Written() = %v, want empty", s.Written())
	}
	if err := s.Remove("data/a.pck"); err != nil {
		t.Errorf("removing a missing file: %v", err)
	}
	if err := s.Remove("../outside"); err == nil {
		t.Error("escaping path accepted")
	}
}

func TestStaging_RejectsBadPaths(t *testing.T) {
	s, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"", "/", "../etc/passwd", "a/../../x", `..\x`} {
		if err := s.WriteFile(name, nil); err == nil {
			t.Errorf("WriteFile(%q) should fail", name)
		}
	}

	if err := s.WriteFile("a/../b", []byte("ok")); err != nil {
		t.Errorf("WriteFile(a/../b): %v", err)
	}
}

func TestStaging_TempDirRemoved(t *testing.T) {
	s, err := NewStaging("")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteFile("x", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Dir()); !os.IsNotExist(err) {
		t.Errorf("staging dir still exists: %v", err)
	}
}

func TestStaging_GivenDirKept(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stage")
	s, err := NewStaging(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("given dir removed: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil", nil, false},
		{"empty", &Config{}, false},
		{"ok", &Config{Mounts: []Mount{{HostPath: "/tmp/saves", GuestPath: "/userfs"}}}, false},
		{"empty host", &Config{Mounts: []Mount{{GuestPath: "/userfs"}}}, true},
		{"relative guest", &Config{Mounts: []Mount{{HostPath: "/tmp", GuestPath: "userfs"}}}, true},
		{"root guest", &Config{Mounts: []Mount{{HostPath: "/tmp", GuestPath: "/"}}}, true},
		{"duplicate", &Config{Mounts: []Mount{
			{HostPath: "/a", GuestPath: "/userfs"},
			{HostPath: "/b", GuestPath: "/userfs/"},
		}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var e *errors.Error
				if !stderrors.As(err, &e) || e.Phase != errors.PhaseFS {
					t.Errorf("error %v is not an fs error", err)
				}
			}
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	orig := &Config{Mounts: []Mount{{HostPath: "/a", GuestPath: "/userfs"}}}
	cp := orig.Clone()
	cp.Mounts[0].GuestPath = "/changed"

	if orig.Mounts[0].GuestPath != "/userfs" {
		t.Error("Clone shares the mounts slice")
	}
	if (*Config)(nil).Clone() != nil {
		t.Error("nil should clone to nil")
	}
}

func TestFSConfig(t *testing.T) {
	s, err := NewStaging(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := &Config{Mounts: []Mount{
		{HostPath: t.TempDir(), GuestPath: "/userfs"},
		{HostPath: t.TempDir(), GuestPath: "/assets", ReadOnly: true},
	}}

	if FSConfig(s, cfg) == nil {
		t.Error("FSConfig returned nil")
	}
	if FSConfig(nil, nil) == nil {
		t.Error("FSConfig(nil, nil) returned nil")
	}
}
