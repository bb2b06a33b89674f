// Package logs implements the small leveled-logger backend that
// internal/logger fans subsystem loggers out from. It mirrors the
// Backend/Logger surface kaspad's own logs package exposes to its
// consumers (InitLogRotators, SetLogLevel, Logger.Infof/Warnf/...).
package logs

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a logging severity.
type Level uint32

// Severities, lowest to highest.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

var levelStrings = map[Level]string{
	LevelTrace:    "TRC",
	LevelDebug:    "DBG",
	LevelInfo:     "INF",
	LevelWarn:     "WRN",
	LevelError:    "ERR",
	LevelCritical: "CRT",
	LevelOff:      "OFF",
}

func (l Level) String() string {
	if s, ok := levelStrings[l]; ok {
		return s
	}
	return "UNK"
}

// LevelFromString parses a level name, defaulting to LevelInfo on
// anything unrecognized (mirrors kaspad's permissive parser, which
// SetLogLevel relies on to never fail outright).
func LevelFromString(s string) (Level, bool) {
	switch s {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical":
		return LevelCritical, true
	}
	return LevelInfo, false
}

// BackendWriter is one sink a Backend writes formatted log lines to,
// gated by a minimum level.
type BackendWriter struct {
	w        io.Writer
	minLevel Level
}

// NewAllLevelsBackendWriter returns a writer that accepts every level.
func NewAllLevelsBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{w: w, minLevel: LevelTrace}
}

// NewErrorBackendWriter returns a writer that only accepts Error and above.
func NewErrorBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{w: w, minLevel: LevelError}
}

// Backend fans formatted, leveled lines out to its writers and mints
// per-subsystem Loggers.
type Backend struct {
	mu      sync.Mutex
	writers []*BackendWriter
}

// NewBackend constructs a Backend over the given writers.
func NewBackend(writers []*BackendWriter) *Backend {
	return &Backend{writers: writers}
}

func (b *Backend) write(level Level, tag, msg string) {
	line := fmt.Sprintf("%s [%s] %s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, tag, msg)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, bw := range b.writers {
		if level >= bw.minLevel {
			_, _ = bw.w.Write([]byte(line))
		}
	}
}

// Close is a no-op placeholder; flushing/closing rotators happens in
// internal/logger.
func (b *Backend) Close() error { return nil }

// Logger is a single subsystem's leveled logger. The level is read
// atomically so SetLevel can race with logging from other goroutines.
type Logger struct {
	backend *Backend
	tag     string
	level   uint32
}

// Logger mints a subsystem logger over b.
func (b *Backend) Logger(tag string) *Logger {
	return &Logger{backend: b, tag: tag, level: uint32(LevelInfo)}
}

// SetLevel adjusts the minimum level this logger emits at.
func (l *Logger) SetLevel(level Level) { atomic.StoreUint32(&l.level, uint32(level)) }

// Level returns the logger's current minimum level.
func (l *Logger) Level() Level { return Level(atomic.LoadUint32(&l.level)) }

// Backend returns the shared backend this logger writes through.
func (l *Logger) Backend() *Backend { return l.backend }

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if level < l.Level() {
		return
	}
	l.backend.write(level, l.tag, fmt.Sprintf(format, args...))
}

// Tracef logs at trace level.
func (l *Logger) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.logf(LevelInfo, format, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.logf(LevelWarn, format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

// Criticalf logs at critical level.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.logf(LevelCritical, format, args...)
}
