// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a human-readable debug logger when verbose is set and a JSON
// info logger otherwise.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Must is New for main packages; it panics on error.
func Must(verbose bool) *zap.Logger {
	l, err := New(verbose)
	if err != nil {
		panic(err)
	}
	return l
}
