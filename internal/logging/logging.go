// Package logging builds the single zap.Logger every component is handed
// at construction, following the front end's own verbose/production
// split rather than pulling in a second logging convention.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls the logger New builds.
type Options struct {
	// Verbose lowers the level to debug. Without it the production config
	// logs info and above, while the development config keeps zap's own
	// default of debug.
	Verbose bool
	// Development switches to zap's human-readable console encoder
	// instead of JSON, for interactive terminal use.
	Development bool
}

// New builds a production-style zap.Logger, tuned by opts. Every
// component in this program receives its logger this way rather than
// reaching for a package-level global.
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	if opts.Verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// Nop returns a logger that discards everything, for call sites that
// received no *zap.Logger and have no Options to build one from.
func Nop() *zap.Logger { return zap.NewNop() }
