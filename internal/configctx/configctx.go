// Package configctx implements the config loader's one-shot mini-pipeline:
// locate a configuration source, compile it the same way a script is
// compiled, load it, and invoke its exported initializer to harvest the
// settings that modulate the main orchestrator run. State is a distinct
// type from pluginengine.HookContext on purpose: the two are populated at
// different times by different code and must never be cross-used.
package configctx

import (
	"context"
	"os"
	"path/filepath"
	"plugin"

	"go.uber.org/zap"

	"crispy/internal/cache"
	"crispy/internal/compiler"
	"crispy/internal/crispyerr"
	"crispy/internal/sourceutil"
)

const configureSymbol = "Configure"

// State is populated once by the compiled config artifact's Configure
// function, then read out (harvested) by the orchestrator before the main
// pipeline starts. It is stack-allocated per run and never reused.
type State struct {
	Defaults        string
	Overrides       string
	ModeFlags       map[string]bool
	ModeFlagsSet    map[string]bool
	CacheDirOverride string
	PluginPaths     []string
	PluginData      map[string]string
	Argv            []string
}

// NewState returns a State with its maps initialized.
func NewState() *State {
	return &State{
		ModeFlags:    make(map[string]bool),
		ModeFlagsSet: make(map[string]bool),
		PluginData:   make(map[string]string),
	}
}

// Locate probes, in order: $CRISPY_CONFIG_FILE, an explicit caller path, a
// per-user config path, a system config path, and a system data path. It
// returns the first that resolves to a regular file. $NO_CRISPY_CONFIG
// being set at all disables the probe entirely.
func Locate(explicitPath string) (string, bool) {
	if os.Getenv("NO_CRISPY_CONFIG") != "" {
		return "", false
	}

	candidates := []string{os.Getenv("CRISPY_CONFIG_FILE"), explicitPath}

	if userCfg, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(userCfg, "crispy", "config.go"))
	}
	candidates = append(candidates,
		"/etc/crispy/config.go",
		"/usr/share/crispy/config.go",
	)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c, true
		}
	}
	return "", false
}

// Loader runs the config mini-pipeline, sharing the same compiler backend
// and cache provider the main script orchestrator uses.
type Loader struct {
	compiler compiler.Backend
	cache    cache.Provider
	log      *zap.Logger

	// handle is retained for the life of the process: Go gives no unload
	// primitive, which happens to satisfy the spec's requirement to keep
	// the artifact open so its symbols stay valid.
	handle *plugin.Plugin
}

// NewLoader builds a Loader over an already-constructed compiler backend
// and cache provider.
func NewLoader(c compiler.Backend, ch cache.Provider, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{compiler: c, cache: ch, log: log}
}

// Load reads path, extracts and expands its directive, compiles it (if no
// valid cache entry exists), opens the resulting plugin, and invokes its
// Configure entry point. A "not applied" (false) return is a
// crispyerr.Config error.
func (l *Loader) Load(ctx context.Context, path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, crispyerr.Wrap(crispyerr.IO, "read config source "+path, err)
	}

	directive, _ := sourceutil.ExtractDirective(raw)
	expanded, err := sourceutil.ShellExpand(ctx, directive)
	if err != nil {
		return nil, err
	}
	effective := sourceutil.StripHeader(raw)

	version, err := l.compiler.Version(ctx)
	if err != nil {
		return nil, err
	}
	hash := l.cache.ComputeHash(raw, expanded, version)
	cachePath := l.cache.PathForHash(hash)

	if !l.cache.Valid(hash, path) {
		tmp, err := os.CreateTemp("", "crispy-config-*.go")
		if err != nil {
			return nil, crispyerr.Wrap(crispyerr.IO, "create temp config source", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(effective); err != nil {
			tmp.Close()
			return nil, crispyerr.Wrap(crispyerr.IO, "write temp config source", err)
		}
		tmp.Close()

		if err := l.cache.Coalesce(hash, func() error {
			return l.compiler.CompilePlugin(ctx, compiler.CompileInput{
				SourcePath: tmp.Name(),
				OutputPath: cachePath,
				ExtraFlags: expanded,
			})
		}); err != nil {
			return nil, err
		}
	}

	handle, err := plugin.Open(cachePath)
	if err != nil {
		return nil, crispyerr.Wrap(crispyerr.Load, "open config artifact "+cachePath, err)
	}
	l.handle = handle

	sym, err := handle.Lookup(configureSymbol)
	if err != nil {
		return nil, crispyerr.Wrap(crispyerr.Config, "config artifact has no "+configureSymbol, err)
	}
	configure, ok := sym.(func(*State) bool)
	if !ok {
		return nil, crispyerr.New(crispyerr.Config, configureSymbol+" has the wrong signature")
	}

	state := NewState()
	if !configure(state) {
		return nil, crispyerr.New(crispyerr.Config, "config initializer reported settings were not applied")
	}

	l.log.Debug("config loaded", zap.String("path", path), zap.String("hash", hash))
	return state, nil
}
