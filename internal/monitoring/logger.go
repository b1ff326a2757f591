// Package monitoring holds the process-wide diagnostic logger used by every
// robot subsystem.
package monitoring

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger or UseZap. Tests or production code can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// UseZap routes Logf through the sugared form of the given zap logger.
func UseZap(logger *zap.Logger) {
	if logger == nil {
		SetLogger(nil)
		return
	}
	SetLogger(logger.WithOptions(zap.AddCallerSkip(1)).Sugar().Infof)
}

// NewLogger builds the zap logger used by the binaries. Debug selects the
// development encoder and level.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	return cfg.Build()
}

// Or returns f when it is set, otherwise the package logger. Components with
// an optional Logf field call it on every use so that SetLogger still applies.
func Or(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	if f != nil {
		return f
	}
	return Logf
}
