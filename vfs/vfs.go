package vfs

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-launcher/errors"
)

// Mount maps a host directory into the guest.
type Mount struct {
	HostPath  string `yaml:"host_path"`
	GuestPath string `yaml:"guest_path"`
	ReadOnly  bool   `yaml:"read_only"`
}

// Config describes persistent directories exposed to the guest in addition
// to the staging root.
type Config struct {
	Mounts []Mount `yaml:"mounts"`
}

// Clone returns a deep copy. nil clones to nil.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := &Config{}
	if c.Mounts != nil {
		out.Mounts = make([]Mount, len(c.Mounts))
		copy(out.Mounts, c.Mounts)
	}
	return out
}

// Validate checks mount paths.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool, len(c.Mounts))
	for _, m := range c.Mounts {
		if m.HostPath == "" || m.GuestPath == "" {
			return errors.InvalidInput(errors.PhaseFS, "cannot mount an empty path")
		}
		if !path.IsAbs(m.GuestPath) {
			return errors.InvalidData(errors.PhaseFS, m.GuestPath, "guest path must be absolute")
		}
		guest := path.Clean(m.GuestPath)
		if guest == "/" {
			return errors.InvalidData(errors.PhaseFS, m.GuestPath, "guest root is reserved for preloaded files")
		}
		if seen[guest] {
			return errors.InvalidData(errors.PhaseFS, m.GuestPath, "duplicate guest path")
		}
		seen[guest] = true
	}
	return nil
}

// Staging is a host directory mounted as the guest root. Preloaded files are
// written into it before the entry point runs.
type Staging struct {
	dir     string
	owned   bool
	mu      sync.Mutex
	written []string
}

// NewStaging creates a staging root. An empty dir creates a temporary
// directory removed by Close; a given dir is created if needed and left in
// place.
func NewStaging(dir string) (*Staging, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "wasm-launcher-")
		if err != nil {
			return nil, errors.Wrap(errors.PhaseFS, errors.KindInvalidInput, err, "create staging directory")
		}
		return &Staging{dir: tmp, owned: true}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseFS, errors.KindInvalidInput, err, "create staging directory")
	}
	return &Staging{dir: dir}, nil
}

// Dir returns the host directory backing the guest root.
func (s *Staging) Dir() string {
	return s.dir
}

// WriteFile writes data at guest path name, creating parent directories.
// Existing files are replaced.
func (s *Staging) WriteFile(name string, data []byte) error {
	host, err := s.hostPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return errors.Wrap(errors.PhaseFS, errors.KindInvalidData, err, "create parent of "+name)
	}
	if err := os.WriteFile(host, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseFS, errors.KindInvalidData, err, "write "+name)
	}

	s.mu.Lock()
	s.written = append(s.written, path.Clean("/"+name))
	s.mu.Unlock()
	return nil
}

// Remove deletes the file at guest path name. A missing file is not an
// error.
func (s *Staging) Remove(name string) error {
	host, err := s.hostPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(host); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.PhaseFS, errors.KindInvalidData, err, "remove "+name)
	}

	clean := path.Clean("/" + name)
	s.mu.Lock()
	s.written = slices.DeleteFunc(s.written, func(p string) bool { return p == clean })
	s.mu.Unlock()
	return nil
}

// Written lists guest paths written so far, in order.
func (s *Staging) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

func (s *Staging) hostPath(name string) (string, error) {
	if name == "" {
		return "", errors.InvalidInput(errors.PhaseFS, "empty file path")
	}
	clean := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	if clean == "/" {
		return "", errors.InvalidData(errors.PhaseFS, name, "path names the root directory")
	}
	// "a/../../x" is an error, not "/x"
	if escapes(name) {
		return "", errors.InvalidData(errors.PhaseFS, name, "path escapes the guest root")
	}
	return filepath.Join(s.dir, filepath.FromSlash(clean)), nil
}

func escapes(name string) bool {
	depth := 0
	for _, part := range strings.Split(strings.ReplaceAll(name, "\\", "/"), "/") {
		switch part {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// Close removes a temporary staging directory.
func (s *Staging) Close() error {
	if !s.owned {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// FSConfig renders the staging root and cfg's mounts for wazero.
func FSConfig(s *Staging, cfg *Config) wazero.FSConfig {
	fsc := wazero.NewFSConfig()
	if s != nil {
		fsc = fsc.WithDirMount(s.Dir(), "/")
	}
	if cfg == nil {
		return fsc
	}
	for _, m := range cfg.Mounts {
		if m.ReadOnly {
			fsc = fsc.WithReadOnlyDirMount(m.HostPath, path.Clean(m.GuestPath))
		} else {
			fsc = fsc.WithDirMount(m.HostPath, path.Clean(m.GuestPath))
		}
	}
	return fsc
}
