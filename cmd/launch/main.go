package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-launcher/config"
	"github.com/wippyai/wasm-launcher/engine"
	"github.com/wippyai/wasm-launcher/errors"
	"github.com/wippyai/wasm-launcher/launcher"
	"github.com/wippyai/wasm-launcher/vfs"
)

type options struct {
	configPath string
	basePath   string
	ext        string
	mainPack   string
	exec       string
	locale     string
	preload    string
	mounts     string
	memory     config.MemorySize
	keepLoaded bool
	verbose    bool
	progress   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Launch manifest (YAML)")
	flag.StringVar(&opts.basePath, "base", "", "Base path or URL of the binary, without extension")
	flag.StringVar(&opts.ext, "ext", "", "Binary filename extension (default .wasm)")
	flag.StringVar(&opts.mainPack, "main-pack", "", "Main pack to preload and pass as --main-pack")
	flag.StringVar(&opts.exec, "exec", "", "Program name passed as argv[0]")
	flag.StringVar(&opts.locale, "locale", "", "Locale override (default from LC_ALL/LC_MESSAGES/LANG)")
	flag.StringVar(&opts.preload, "preload", "", "Files to preload (src:path,src2:path2)")
	flag.StringVar(&opts.mounts, "mount", "", "Directories to mount (/host:/guest[:ro],...)")
	flag.Var(&opts.memory, "memory", "Guest memory limit (e.g. 512MB)")
	flag.BoolVar(&opts.keepLoaded, "keep-loaded", false, "Keep the binary in memory after init")
	flag.BoolVar(&opts.verbose, "v", false, "Debug logging")
	flag.BoolVar(&opts.progress, "progress", false, "Show a download progress bar")
	flag.Parse()

	if opts.configPath == "" && opts.basePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: launch -base <path/or/url> [-main-pack game.pck] [flags] [-- args...]")
		fmt.Fprintln(os.Stderr, "       launch -config launch.yaml [flags] [-- args...]")
		os.Exit(1)
	}

	os.Exit(run(opts, flag.Args()))
}

func run(opts options, args []string) int {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	engine.SetLogger(logger.Named("engine"))

	m, err := manifest(opts, args)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := m.EngineConfig(logger)
	eng, err := launcher.New(ctx, cfg)
	if err != nil {
		logger.Error("create engine", zap.Error(err))
		return 1
	}
	defer eng.Close(context.Background())

	if opts.progress && term.IsTerminal(int(os.Stdout.Fd())) {
		err = runWithProgress(ctx, eng, m)
	} else {
		eng.SetProgressFunc(logProgress(logger))
		err = m.Run(ctx, eng)
	}

	if code, ok := errors.ExitCode(err); ok {
		logger.Debug("program exited", zap.Uint32("code", code))
		return int(code)
	}
	if err != nil {
		logger.Error("launch failed", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

// manifest loads -config when given and applies flag overrides on top.
func manifest(opts options, args []string) (*config.Manifest, error) {
	m := &config.Manifest{}
	if opts.configPath != "" {
		var err error
		if m, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	if opts.basePath != "" {
		m.BasePath = opts.basePath
	}
	if opts.ext != "" {
		m.Extension = opts.ext
	}
	if opts.mainPack != "" {
		m.MainPack = opts.mainPack
	}
	if opts.exec != "" {
		m.Executable = opts.exec
	}
	if opts.locale != "" {
		m.Locale = opts.locale
	}
	if opts.memory != 0 {
		m.MemoryLimit = opts.memory
	}
	if opts.keepLoaded {
		keep := false
		m.UnloadAfterInit = &keep
	}
	if len(args) > 0 {
		m.Args = args
	}

	preloads, err := parsePreloads(opts.preload)
	if err != nil {
		return nil, err
	}
	m.Preload = append(m.Preload, preloads...)

	mounts, err := parseMounts(opts.mounts)
	if err != nil {
		return nil, err
	}
	m.FS.Mounts = append(m.FS.Mounts, mounts...)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// parsePreloads splits "src:path" pairs on the last colon so URLs keep
// their scheme.
func parsePreloads(s string) ([]config.Preload, error) {
	if s == "" {
		return nil, nil
	}
	var out []config.Preload
	for _, item := range strings.Split(s, ",") {
		i := strings.LastIndex(item, ":")
		if i <= 0 || i == len(item)-1 {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Detail("preload %q: want src:path", item).
				Build()
		}
		out = append(out, config.Preload{Source: item[:i], Path: item[i+1:]})
	}
	return out, nil
}

func parseMounts(s string) ([]vfs.Mount, error) {
	if s == "" {
		return nil, nil
	}
	var out []vfs.Mount
	for _, item := range strings.Split(s, ",") {
		parts := strings.Split(item, ":")
		var m vfs.Mount
		switch {
		case len(parts) == 2:
			m = vfs.Mount{HostPath: parts[0], GuestPath: parts[1]}
		case len(parts) == 3 && parts[2] == "ro":
			m = vfs.Mount{HostPath: parts[0], GuestPath: parts[1], ReadOnly: true}
		default:
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Detail("mount %q: want host:guest[:ro]", item).
				Build()
		}
		out = append(out, m)
	}
	return out, nil
}
