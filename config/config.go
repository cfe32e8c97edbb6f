package config

import (
	"context"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/launcher"
	"github.com/wippyai/wasm-launcher/vfs"
)

// PageSize is the WebAssembly page size in bytes.
const PageSize = 64 * 1024

// MemorySize is a byte count given as an integer or a humanized string
// such as "64MB" or "512 KiB".
type MemorySize uint64

func (m *MemorySize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Detail("expected a memory string or integer, got %v", value.Tag).
			Build()
	}
	return m.Set(value.Value)
}

// Set parses s. It also makes MemorySize usable as a flag.Value.
func (m *MemorySize) Set(s string) error {
	if i, err := strconv.ParseUint(s, 10, 64); err == nil {
		*m = MemorySize(i)
		return nil
	}
	b, err := humanize.ParseBytes(s)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse memory size "+strconv.Quote(s))
	}
	*m = MemorySize(b)
	return nil
}

func (m MemorySize) String() string {
	if m == 0 {
		return "0"
	}
	return humanize.IBytes(uint64(m))
}

// Pages rounds m up to whole WebAssembly pages. 0 stays 0 (no limit).
func (m MemorySize) Pages() uint32 {
	pages := (uint64(m) + PageSize - 1) / PageSize
	if pages > 65536 {
		pages = 65536
	}
	return uint32(pages)
}

// Preload names a file copied into the guest before start.
type Preload struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
}

// Manifest describes one launch.
type Manifest struct {
	Env             map[string]string `yaml:"env,omitempty"`
	UnloadAfterInit *bool             `yaml:"unload_after_init,omitempty"`
	BasePath        string            `yaml:"base_path"`
	Extension       string            `yaml:"extension,omitempty"`
	Executable      string            `yaml:"executable,omitempty"` // ignored with MainPack
	Locale          string            `yaml:"locale,omitempty"`
	MainPack        string            `yaml:"main_pack,omitempty"`
	EntryPoint      string            `yaml:"entry_point,omitempty"`
	StagingDir      string            `yaml:"staging_dir,omitempty"`
	Args            []string          `yaml:"args,omitempty"`
	Preload         []Preload         `yaml:"preload,omitempty"`
	FS              vfs.Config        `yaml:"fs,omitempty"`
	MemoryLimit     MemorySize        `yaml:"memory_limit,omitempty"`
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Location(path).
			Detail("read manifest").
			Cause(err).
			Build()
	}
	m, err := Parse(data)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Location == "" {
			e.Location = path
		}
		return nil, err
	}
	return m, nil
}

// Parse decodes and validates a YAML manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "failed to parse launch manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks required fields and mounts.
func (m *Manifest) Validate() error {
	if m.BasePath == "" {
		return errors.InvalidInput(errors.PhaseConfig, "base_path is required")
	}
	for i, p := range m.Preload {
		if p.Source == "" || p.Path == "" {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Detail("preload %d: source and path are required", i).
				Build()
		}
	}
	return m.FS.Validate()
}

// EngineConfig returns construction-time settings for launcher.New.
func (m *Manifest) EngineConfig(logger *zap.Logger) *launcher.Config {
	return &launcher.Config{
		Logger:           logger,
		EntryPoint:       m.EntryPoint,
		StagingDir:       m.StagingDir,
		MemoryLimitPages: m.MemoryLimit.Pages(),
	}
}

// Apply configures e and queues the manifest's preloads. MainPack is not
// preloaded here; StartGame handles it.
func (m *Manifest) Apply(ctx context.Context, e *launcher.Engine) error {
	if m.Extension != "" {
		if err := e.SetWebAssemblyFilenameExtension(m.Extension); err != nil {
			return err
		}
	}
	if m.UnloadAfterInit != nil {
		e.SetUnloadAfterInit(*m.UnloadAfterInit)
	}
	if m.Locale != "" {
		e.SetLocale(m.Locale)
	}
	if m.Executable != "" {
		e.SetExecutableName(m.Executable)
	}
	if len(m.FS.Mounts) > 0 {
		e.SetFSConfig(m.FS.Clone())
	}
	if len(m.Env) > 0 {
		e.SetEnv(m.Env)
	}
	for _, p := range m.Preload {
		if err := e.PreloadFile(ctx, p.Source, p.Path); err != nil {
			return err
		}
	}
	return nil
}

// Run applies the manifest and starts the program. With MainPack set it
// uses StartGame, which names the program after BasePath.
func (m *Manifest) Run(ctx context.Context, e *launcher.Engine) error {
	if err := m.Apply(ctx, e); err != nil {
		return err
	}
	if m.MainPack != "" {
		return e.StartGame(ctx, m.BasePath, m.MainPack, m.Args...)
	}
	if err := e.Init(ctx, m.BasePath); err != nil {
		return err
	}
	return e.Start(ctx, m.Args...)
}
