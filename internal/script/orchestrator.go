// Package script implements the orchestrator: the component that turns a
// loaded script source into a running process by driving the compiler,
// cache, plugin engine and config state through a fixed sequence of
// phases, dispatching a plugin hook point around each one.
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"plugin"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crispy/internal/cache"
	"crispy/internal/compiler"
	"crispy/internal/configctx"
	"crispy/internal/crispyerr"
	"crispy/internal/pluginengine"
	"crispy/internal/sourceutil"
	"crispy/internal/telemetry"
)

const entrySymbol = "CrispyMain"

// Deps bundles the collaborators an Orchestrator drives. Plugins and
// Config may be nil; a nil Plugins behaves as an engine with no loaded
// plugins (every dispatch is a no-op Continue), and a nil Config supplies
// no defaults or overrides.
type Deps struct {
	Compiler compiler.Backend
	Cache    cache.Provider
	Plugins  *pluginengine.Engine
	Config   *configctx.State
	Log      *zap.Logger
	// Recorder, if set, receives a summary of every Run. A nil Recorder
	// disables run history entirely at negligible cost (Record on a nil
	// *telemetry.Recorder is a no-op).
	Recorder *telemetry.Recorder
}

// Options tunes a single Run.
type Options struct {
	ForceCompile   bool
	DryRun         bool
	Debug          bool
	PreserveSource bool
}

// Orchestrator drives one script from loaded source through to exit code.
// It is built once per script and used for exactly one Run.
type Orchestrator struct {
	deps Deps
	opts Options
	log  *zap.Logger

	sourcePath string // "" for fragment/stdin sources
	rawSource  []byte

	tempSourcePath string
}

func newOrchestrator(raw []byte, sourcePath string, deps Deps, opts Options) *Orchestrator {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		log:        log,
		sourcePath: sourcePath,
		rawSource:  raw,
	}
}

// NewFromFile loads a script from a file on disk; CRISPY_PARAMS and cache
// freshness are both keyed against its path.
func NewFromFile(path string, deps Deps, opts Options) (*Orchestrator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, crispyerr.Wrap(crispyerr.IO, "read script source "+path, err)
	}
	return newOrchestrator(raw, path, deps, opts), nil
}

// NewFromFragment synthesizes a complete program around a bare statement
// fragment: "package main" plus a fixed fmt/os import set plus a
// CrispyMain entry function whose body is fragment verbatim followed by
// "return 0", and an empty func main. There is no directive and no shebang
// to strip, and no source path, so cache freshness falls back to
// existence alone.
func NewFromFragment(fragment string, includes []string, deps Deps, opts Options) (*Orchestrator, error) {
	synthesized := synthesizeFragment(fragment, includes)
	return newOrchestrator([]byte(synthesized), "", deps, opts), nil
}

// NewFromStdin reads a complete script from r. There is no source path,
// so cache freshness falls back to existence alone.
func NewFromStdin(r io.Reader, deps Deps, opts Options) (*Orchestrator, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, crispyerr.Wrap(crispyerr.IO, "read script source from stdin", err)
	}
	return newOrchestrator(raw, "", deps, opts), nil
}

func synthesizeFragment(fragment string, includes []string) string {
	var b strings.Builder
	b.WriteString("package main\n\n")
	b.WriteString("import (\n\t\"fmt\"\n\t\"os\"\n")
	for _, inc := range includes {
		fmt.Fprintf(&b, "\t%q\n", inc)
	}
	b.WriteString(")\n\n")
	b.WriteString("var _ = fmt.Sprint\nvar _ = os.Args\n\n")
	b.WriteString("func " + entrySymbol + "(argv []string) int {\n")
	b.WriteString(fragment)
	b.WriteString("\nreturn 0\n}\n\nfunc main() {}\n")
	return b.String()
}

// TempSourcePath returns the path of the temp source file written for this
// run's compile, or "" if none has been written (yet, or ever, on a cache
// hit). Safe to call at any point in or after Run; intended for a signal
// handler that wants to unlink an in-flight temp source on interrupt.
func (o *Orchestrator) TempSourcePath() string { return o.tempSourcePath }

// Close removes the temp source file (unless PreserveSource was set) and
// releases the plugin engine's resources. It does not close the compiled
// script's own plugin handle: Go gives no unload primitive, matching the
// system's no-lifetime-supervision stance on loaded artifacts.
func (o *Orchestrator) Close() {
	if o.tempSourcePath != "" && !o.opts.PreserveSource {
		os.Remove(o.tempSourcePath)
	}
	if o.deps.Plugins != nil {
		o.deps.Plugins.Close()
	}
}

// Run executes the fifteen phases against argv and returns the script's
// exit code. A negative exit code accompanies a non-nil error on any
// failure path; otherwise err is nil.
func (o *Orchestrator) Run(ctx context.Context, argv []string) (exitCode int, err error) {
	hc := pluginengine.NewHookContext()
	hc.SourcePath = o.sourcePath
	hc.EffectiveSource = o.rawSource
	hc.EntryArgv = argv

	var cacheHitForRecord bool
	exitCode = -1
	defer func() {
		o.deps.Recorder.Record(telemetry.RunRecord{
			Hash:     hc.Hash,
			Hit:      cacheHitForRecord,
			Phases:   hc.PhaseDurations,
			ExitCode: exitCode,
			Err:      err,
			When:     time.Now(),
		})
	}()

	// Phase 1: source loaded.
	if res := o.dispatch(hc, pluginengine.SourceLoaded); res != pluginengine.Continue {
		return -1, o.abortErr(hc, pluginengine.SourceLoaded)
	}
	effectiveSource := hc.EffectiveSource

	// Phase 2: params expanded.
	directive, _ := sourceutil.ExtractDirective(effectiveSource)
	expanded, err := sourceutil.ShellExpand(ctx, directive)
	if err != nil {
		return -1, err
	}
	hc.ExpandedParams = expanded
	hc.ExtraFlags = expanded
	if res := o.dispatch(hc, pluginengine.ParamsExpanded); res != pluginengine.Continue {
		return -1, o.abortErr(hc, pluginengine.ParamsExpanded)
	}

	// Phase 3: hash computed.
	version, err := o.deps.Compiler.Version(ctx)
	if err != nil {
		return -1, err
	}
	hc.CompilerVersion = version
	combinedForHash := joinFlags(o.configDefaults(), hc.ExtraFlags, o.configOverrides())
	hash := o.deps.Cache.ComputeHash(effectiveSource, combinedForHash, version)
	hc.Hash = hash
	cachePath := o.deps.Cache.PathForHash(hash)
	hc.CachePath = cachePath
	if res := o.dispatch(hc, pluginengine.HashComputed); res != pluginengine.Continue {
		return -1, o.abortErr(hc, pluginengine.HashComputed)
	}

	// Phase 4: cache checked.
	cacheHit := false
	if !o.opts.ForceCompile {
		cacheHit = o.deps.Cache.Valid(hash, o.sourcePath)
	}
	hookResult := o.dispatch(hc, pluginengine.CacheChecked)
	switch hookResult {
	case pluginengine.Abort:
		return -1, o.abortErr(hc, pluginengine.CacheChecked)
	case pluginengine.ForceRecompile:
		cacheHit = false
	}
	if hc.ForceRecompile {
		cacheHit = false
	}
	cacheHitForRecord = cacheHit

	effectiveFlags := combinedForHash

	if !cacheHit {
		// Phase 5: temp source write.
		tmp, err := os.CreateTemp("", "crispy-*.go")
		if err != nil {
			return -1, crispyerr.Wrap(crispyerr.IO, "create temp source file", err)
		}
		if _, err := tmp.Write(sourceutil.StripHeader(effectiveSource)); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return -1, crispyerr.Wrap(crispyerr.IO, "write temp source file", err)
		}
		tmp.Close()
		o.tempSourcePath = tmp.Name()
		hc.TempSourcePath = tmp.Name()

		// Phase 6: dry-run short-circuit.
		if o.opts.DryRun {
			fmt.Printf("Would compile: %s -> %s\n", o.tempSourcePath, cachePath)
			flags := effectiveFlags
			if flags == "" {
				flags = "(none)"
			}
			fmt.Printf("Extra flags: %s\n", flags)
			return 0, nil
		}

		// Phase 7: debug short-circuit.
		if o.opts.Debug {
			return -1, o.runDebugger(ctx, hc, effectiveFlags, argv)
		}

		// Phase 8: pre-compile.
		if res := o.dispatch(hc, pluginengine.PreCompile); res != pluginengine.Continue {
			return -1, o.abortErr(hc, pluginengine.PreCompile)
		}
		finalFlags := joinFlags(o.configDefaults(), hc.ExtraFlags, o.configOverrides())
		if err := o.deps.Cache.Coalesce(hash, func() error {
			return o.deps.Compiler.CompilePlugin(ctx, compiler.CompileInput{
				SourcePath: o.tempSourcePath,
				OutputPath: cachePath,
				ExtraFlags: finalFlags,
			})
		}); err != nil {
			return -1, err
		}

		// Phase 9: post-compile.
		if res := o.dispatch(hc, pluginengine.PostCompile); res != pluginengine.Continue {
			return -1, o.abortErr(hc, pluginengine.PostCompile)
		}
	}

	// Phase 10: module load.
	handle, err := plugin.Open(cachePath)
	if err != nil {
		return -1, crispyerr.Wrap(crispyerr.Load, "open compiled artifact "+cachePath, err)
	}

	// Phase 11: module loaded.
	if res := o.dispatch(hc, pluginengine.ModuleLoaded); res != pluginengine.Continue {
		return -1, o.abortErr(hc, pluginengine.ModuleLoaded)
	}

	// Phase 12: resolve entry.
	sym, err := handle.Lookup(entrySymbol)
	if err != nil {
		return -1, crispyerr.Wrap(crispyerr.NoEntry, "artifact has no "+entrySymbol, err)
	}
	entry, ok := sym.(func([]string) int)
	if !ok {
		return -1, crispyerr.New(crispyerr.NoEntry, entrySymbol+" has the wrong signature")
	}

	// Phase 13: pre-execute.
	if res := o.dispatch(hc, pluginengine.PreExecute); res != pluginengine.Continue {
		return -1, o.abortErr(hc, pluginengine.PreExecute)
	}

	// Phase 14: execute.
	exitCode = entry(hc.EntryArgv)
	hc.ExitCode = exitCode

	// Phase 15: post-execute.
	o.dispatch(hc, pluginengine.PostExecute)

	return exitCode, nil
}

// dispatch invokes the plugin engine for point, recording elapsed time on
// hc.PhaseDurations.
func (o *Orchestrator) dispatch(hc *pluginengine.HookContext, point pluginengine.HookPoint) pluginengine.HookResult {
	start := time.Now()
	result := o.deps.Plugins.Dispatch(point, hc)
	hc.PhaseDurations[point] = time.Since(start)
	return result
}

func (o *Orchestrator) abortErr(hc *pluginengine.HookContext, point pluginengine.HookPoint) error {
	if hc.Err != nil {
		return crispyerr.Wrap(crispyerr.Plugin, "aborted at "+point.String(), hc.Err)
	}
	return crispyerr.New(crispyerr.Plugin, "aborted at "+point.String())
}

func (o *Orchestrator) configDefaults() string {
	if o.deps.Config == nil {
		return ""
	}
	return o.deps.Config.Defaults
}

func (o *Orchestrator) configOverrides() string {
	if o.deps.Config == nil {
		return ""
	}
	return o.deps.Config.Overrides
}

// joinFlags splits each part on whitespace and rejoins all tokens, in
// order, with a single space; empty parts contribute nothing.
func joinFlags(parts ...string) string {
	var tokens []string
	for _, part := range parts {
		tokens = append(tokens, strings.Fields(part)...)
	}
	return strings.Join(tokens, " ")
}

// runDebugger compiles the script as a standalone executable and execs a
// debugger against it, replacing the current process. It never returns on
// success; on failure it returns the error that would otherwise have been
// reported by the caller.
func (o *Orchestrator) runDebugger(ctx context.Context, hc *pluginengine.HookContext, flags string, argv []string) error {
	exePath := "/tmp/crispy-dbg-" + strconv.Itoa(os.Getpid())

	if err := o.deps.Compiler.CompileExecutable(ctx, compiler.CompileInput{
		SourcePath: o.tempSourcePath,
		OutputPath: exePath,
		ExtraFlags: flags,
	}); err != nil {
		return err
	}

	debugger := os.Getenv("CRISPY_DEBUGGER")
	if debugger == "" {
		debugger = "dlv"
	}

	debuggerArgv := append([]string{debugger, "exec", exePath, "--"}, argv...)
	debuggerPath, err := exec.LookPath(debugger)
	if err != nil {
		return crispyerr.Wrap(crispyerr.IO, "locate debugger "+debugger, err)
	}

	o.log.Debug("execing debugger", zap.String("debugger", debuggerPath), zap.Strings("argv", debuggerArgv))

	if err := syscall.Exec(debuggerPath, debuggerArgv, os.Environ()); err != nil {
		return crispyerr.Wrap(crispyerr.IO, "exec debugger "+debuggerPath, err)
	}
	// unreachable on success
	return nil
}
