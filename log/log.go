// Package log carries the module's ambient logging setup: a default zap
// logger plus field constructors shared by the batcher, the session and
// their collaborators.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var defaultLogger, _ = zap.NewProduction(zap.AddStacktrace(zapcore.FatalLevel))

// UseLogger overrides the package-wide default logger.
func UseLogger(logger *zap.Logger) {
	defaultLogger = logger
}

// Default returns the package-wide default logger.
func Default() *zap.Logger {
	return defaultLogger
}

// Adjust returns logger if non-nil, otherwise the package default. Every
// collaborator constructor in this module takes an optional *zap.Logger and
// runs it through Adjust so callers never have to nil-check.
func Adjust(logger *zap.Logger, options ...zap.Option) *zap.Logger {
	if logger != nil {
		return logger
	}
	if len(options) == 0 {
		return defaultLogger
	}
	return defaultLogger.WithOptions(options...)
}
