// Package logging is a thin package-level wrapper around a zap sugared
// logger. Call sites keep a bracketed component tag at the start of each
// message, e.g. logging.Infof("[MEMORY] Added memory %s", id).
package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	current atomic.Pointer[zap.SugaredLogger]
)

func init() {
	current.Store(newLogger(false).Sugar())
}

func newLogger(development bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Configure rebuilds the global logger. format is "json" (default) or
// "console"; lvl is any zap level name ("debug", "info", "warn", "error").
func Configure(lvl string, format string) error {
	if err := SetLevel(lvl); err != nil {
		return err
	}
	current.Store(newLogger(strings.EqualFold(format, "console")).Sugar())
	return nil
}

// SetLevel changes the minimum enabled level without rebuilding the logger.
func SetLevel(lvl string) error {
	if lvl == "" {
		return nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		return fmt.Errorf("parse log level %q: %w", lvl, err)
	}
	level.SetLevel(l)
	return nil
}

// SetLogger replaces the global logger. A nil logger installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l.Sugar())
}

// Nop silences all logging. Intended for tests.
func Nop() {
	SetLogger(nil)
}

// Logger returns the current sugared logger.
func Logger() *zap.SugaredLogger {
	return current.Load()
}

func Debugf(format string, args ...interface{}) { current.Load().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current.Load().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current.Load().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current.Load().Errorf(format, args...) }

// Sync flushes buffered log entries.
func Sync() error {
	return current.Load().Sync()
}
