package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"crispy/internal/cache"
	"crispy/internal/compiler"
	"crispy/internal/configctx"
	"crispy/internal/logging"
	"crispy/internal/pluginengine"
	"crispy/internal/script"
	"crispy/internal/telemetry"
)

const buildVersion = "0.1.0"

// inFlightTempSource holds the path of whatever temp source the current
// run has written, so the signal handler can unlink it without reaching
// into the orchestrator across a goroutine boundary.
var inFlightTempSource atomic.Pointer[string]

// finalExitCode carries the script's exit code out of runRoot so main can
// os.Exit with it only after every deferred cleanup inside runRoot (temp
// source removal, plugin shutdown, log flush) has already run.
var finalExitCode int

var rootCmd = &cobra.Command{
	Use:                "crispy [options] (script.go | -) [script args...]",
	Short:              "Compile-cache-and-run a Go script as if it were a dynamic language",
	DisableFlagParsing: true,
	RunE:               runRoot,
}

func main() {
	installSignalHandler()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "crispy:", err)
		os.Exit(1)
	}
	os.Exit(finalExitCode)
}

func installSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if p := inFlightTempSource.Load(); p != nil && *p != "" {
			os.Remove(*p)
		}
		code := 128
		if s, ok := sig.(syscall.Signal); ok {
			code += int(s)
		}
		os.Exit(code)
	}()
}

func runRoot(cmd *cobra.Command, rawArgs []string) error {
	selfArgs, scriptArgv, stdin, err := Split(rawArgs)
	if err != nil {
		return err
	}

	if containsAny(selfArgs, "--help", "-h") {
		return cmd.Help()
	}
	if containsAny(selfArgs, "--version") {
		fmt.Println("crispy", buildVersion)
		return nil
	}

	opts, configPath, pluginSpec, filePath, err := parseSelfArgs(selfArgs)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Verbose: opts.Verbose, Development: opts.Verbose})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	backend, err := compiler.NewGoBuildBackend(log)
	if err != nil {
		return err
	}

	cacheDir, err := cache.DefaultDir()
	if err != nil {
		return err
	}
	fileCache, err := cache.NewFileCache(cacheDir, log)
	if err != nil {
		return err
	}

	engine := pluginengine.New(log)
	if pluginSpec != "" {
		if err := engine.LoadList(pluginSpec); err != nil {
			return err
		}
	}

	var cfg *configctx.State
	if path, ok := configctx.Locate(configPath); ok {
		loader := configctx.NewLoader(backend, fileCache, log)
		cfg, err = loader.Load(context.Background(), path)
		if err != nil {
			return err
		}
	}

	recorder := telemetry.NewRecorder(32)

	runOpts := script.Options{
		ForceCompile:   opts.ForceCompile,
		DryRun:         opts.DryRun,
		Debug:          opts.Debug,
		PreserveSource: opts.PreserveSource,
	}
	deps := script.Deps{
		Compiler: backend,
		Cache:    fileCache,
		Plugins:  engine,
		Config:   cfg,
		Log:      log,
		Recorder: recorder,
	}

	var orch *script.Orchestrator
	switch {
	case stdin:
		orch, err = script.NewFromStdin(os.Stdin, deps, runOpts)
	case filePath != "":
		orch, err = script.NewFromFile(filePath, deps, runOpts)
	case len(scriptArgv) == 0:
		return fmt.Errorf("no script given")
	default:
		orch, err = script.NewFromFile(scriptArgv[0], deps, runOpts)
		scriptArgv = scriptArgv[1:]
	}
	if err != nil {
		return err
	}
	defer orch.Close()

	if tmp := orch.TempSourcePath(); tmp != "" {
		inFlightTempSource.Store(&tmp)
	}

	code, err := orch.Run(context.Background(), scriptArgv)
	if tmp := orch.TempSourcePath(); tmp != "" {
		inFlightTempSource.Store(&tmp)
	}
	if err != nil {
		return err
	}
	finalExitCode = code
	return nil
}

func containsAny(haystack []string, needles ...string) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if h == n {
				return true
			}
		}
	}
	return false
}

// selfOptions is the parsed shape of everything Split routed to self-args.
type selfOptions struct {
	ForceCompile   bool
	DryRun         bool
	Debug          bool
	Verbose        bool
	PreserveSource bool
}

// parseSelfArgs hands selfArgs to a throwaway pflag.FlagSet, since Split
// has already separated them from the script's own argv and Cobra's
// normal parsing path is disabled on the root command.
func parseSelfArgs(selfArgs []string) (selfOptions, string, string, string, error) {
	fs := pflag.NewFlagSet("crispy", pflag.ContinueOnError)
	fs.Usage = func() {}

	forceCompile := fs.BoolP("force-compile", "b", false, "bypass the cache and recompile")
	dryRun := fs.Bool("dry-run", false, "show the intended compile without running it")
	debug := fs.Bool("debug", false, "compile as an executable and launch it under a debugger")
	verbose := fs.BoolP("verbose", "v", false, "enable debug-level logging")
	preserve := fs.Bool("preserve-source", false, "keep the temp source file after the run")
	configFile := fs.StringP("config", "c", "", "explicit config source path")
	plugins := fs.StringP("plugins", "p", "", "colon- or comma-separated list of plugin paths")
	file := fs.StringP("file", "f", "", "explicit script path (equivalent to the first positional argument)")

	if err := fs.Parse(selfArgs); err != nil {
		return selfOptions{}, "", "", "", err
	}

	return selfOptions{
		ForceCompile:   *forceCompile,
		DryRun:         *dryRun,
		Debug:          *debug,
		Verbose:        *verbose,
		PreserveSource: *preserve,
	}, *configFile, *plugins, *file, nil
}
