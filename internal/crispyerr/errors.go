// Package crispyerr defines the closed error taxonomy shared by every
// pipeline stage: compiler, cache, plugin engine, config loader and the
// script orchestrator all raise errors through this single type so callers
// can switch on Kind instead of matching strings.
package crispyerr

import (
	"errors"
	"fmt"
)

// Kind is a closed set of failure categories raised by the pipeline.
type Kind int

const (
	// Compile indicates the compiler backend exited non-zero.
	Compile Kind = iota
	// Load indicates the dynamic loader failed to open an artifact.
	Load
	// NoEntry indicates a loaded artifact has no entry symbol.
	NoEntry
	// IO indicates a filesystem read/write failure.
	IO
	// Params indicates the shell-expansion subprocess failed.
	Params
	// Cache indicates a cache provider operation failed.
	Cache
	// ToolchainNotFound indicates the compiler binary could not be located.
	ToolchainNotFound
	// Plugin indicates a plugin load failure or a hook-initiated abort.
	Plugin
	// Config indicates a config compile/load failure or a rejecting initializer.
	Config
)

func (k Kind) String() string {
	switch k {
	case Compile:
		return "compile"
	case Load:
		return "load"
	case NoEntry:
		return "no-entry"
	case IO:
		return "io"
	case Params:
		return "params"
	case Cache:
		return "cache"
	case ToolchainNotFound:
		return "toolchain-not-found"
	case Plugin:
		return "plugin"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the single error type for the whole pipeline. Message carries
// the human-readable diagnostic (compiler stderr, plugin-supplied text,
// ...); Cause wraps whatever underlying error triggered it, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind, following wrapped
// errors the same way errors.Is does.
func Is(err error, kind Kind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
