// Package compiler defines the compiler-backend capability trait the
// orchestrator drives, and a default implementation backed by "go build".
// The original crispy system drove gcc/clang to produce a dlopen-able
// shared object; this port drives the Go toolchain to produce a
// plugin.Open-able Go plugin, which is the idiomatic analog on this
// platform.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"crispy/internal/crispyerr"
)

// CompileInput is the shared input shape for both compile operations.
type CompileInput struct {
	SourcePath string
	OutputPath string
	ExtraFlags string
}

// Backend is the capability trait the orchestrator and config loader
// consume. It is safe for concurrent read-only calls (Version, BaseFlags);
// CompilePlugin/CompileExecutable must be externally serialized if a single
// Backend is shared across goroutines.
type Backend interface {
	// Version returns an opaque token that changes whenever the compiler's
	// output would change. Feeds the cache key.
	Version(ctx context.Context) (string, error)
	// BaseFlags returns the flags needed to satisfy the embedded runtime's
	// default dependency set.
	BaseFlags(ctx context.Context) (string, error)
	// CompilePlugin produces a loadable Go plugin (.so).
	CompilePlugin(ctx context.Context, in CompileInput) error
	// CompileExecutable produces a debuggable standalone binary.
	CompileExecutable(ctx context.Context, in CompileInput) error
}

// GoBuildBackend is the default Backend, driving the local "go" toolchain.
type GoBuildBackend struct {
	goBin string
	log   *zap.Logger

	mu        sync.Mutex
	version   string
	baseFlags string
}

// NewGoBuildBackend locates the "go" binary and returns a ready backend.
// Fails with crispyerr.ToolchainNotFound if it cannot be located.
func NewGoBuildBackend(log *zap.Logger) (*GoBuildBackend, error) {
	bin, err := exec.LookPath("go")
	if err != nil {
		return nil, crispyerr.Wrap(crispyerr.ToolchainNotFound, "go toolchain not found on PATH", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GoBuildBackend{goBin: bin, log: log}, nil
}

// Version returns "<GOVERSION> <GOOS>/<GOARCH>", computed once and cached.
// Any change in any of those three invalidates artifacts, since Go plugins
// refuse to load across a toolchain or platform mismatch.
func (b *GoBuildBackend) Version(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version != "" {
		return b.version, nil
	}

	out, err := b.goEnv(ctx, "GOVERSION", "GOOS", "GOARCH")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) != 3 {
		return "", crispyerr.New(crispyerr.ToolchainNotFound, "unexpected `go env` output: "+out)
	}
	b.version = fmt.Sprintf("%s %s/%s", fields[0], fields[1], fields[2])
	return b.version, nil
}

// BaseFlags returns the flags computed once at first use by consulting
// "go env GOFLAGS" plus a fixed trimpath flag, and caches the result.
func (b *GoBuildBackend) BaseFlags(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.baseFlags != "" {
		return b.baseFlags, nil
	}

	out, err := b.goEnv(ctx, "GOFLAGS")
	if err != nil {
		return "", err
	}

	flags := []string{"-trimpath"}
	if out != "" {
		flags = append(flags, out)
	}
	b.baseFlags = strings.Join(flags, " ")
	return b.baseFlags, nil
}

func (b *GoBuildBackend) goEnv(ctx context.Context, vars ...string) (string, error) {
	args := append([]string{"env"}, vars...)
	cmd := exec.CommandContext(ctx, b.goBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", crispyerr.Wrap(crispyerr.ToolchainNotFound, stderr.String(), err)
	}
	return strings.TrimSpace(strings.ReplaceAll(stdout.String(), "\n", " ")), nil
}

// CompilePlugin compiles in.SourcePath as a Go plugin shared object.
func (b *GoBuildBackend) CompilePlugin(ctx context.Context, in CompileInput) error {
	return b.build(ctx, "plugin", in)
}

// CompileExecutable compiles in.SourcePath as a debuggable standalone
// binary: inlining and optimization disabled, symbols retained.
func (b *GoBuildBackend) CompileExecutable(ctx context.Context, in CompileInput) error {
	return b.build(ctx, "executable", in)
}

func (b *GoBuildBackend) build(ctx context.Context, kind string, in CompileInput) error {
	args := []string{"build"}
	switch kind {
	case "plugin":
		args = append(args, "-buildmode=plugin")
	case "executable":
		args = append(args, "-gcflags=all=-N -l")
	}

	base, err := b.BaseFlags(ctx)
	if err != nil {
		return err
	}
	for _, f := range splitFlags(base) {
		args = append(args, f)
	}
	for _, f := range splitFlags(in.ExtraFlags) {
		args = append(args, f)
	}
	args = append(args, "-o", in.OutputPath, in.SourcePath)

	cmd := exec.CommandContext(ctx, b.goBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	b.log.Debug("compiling", zap.String("kind", kind), zap.Strings("argv", args))

	if err := cmd.Run(); err != nil {
		return crispyerr.Wrap(crispyerr.Compile,
			fmt.Sprintf("%s %s: %s", b.goBin, strings.Join(args, " "), stderr.String()),
			err)
	}

	if _, statErr := os.Stat(in.OutputPath); statErr != nil {
		return crispyerr.Wrap(crispyerr.Compile, "compiler reported success but produced no output file", statErr)
	}
	return nil
}

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
