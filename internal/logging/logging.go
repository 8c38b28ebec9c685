// Package logging provides a levelled wrapper around the standard logger.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Level controls which messages are written.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// ParseLevel converts a level name ("error", "warn", "info", "debug", "none").
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return LevelNone, nil
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Logger prefixes every line with a component name, e.g. "link: connected".
type Logger struct {
	logger    *log.Logger
	level     Level
	component string
}

// New creates a Logger writing through logger at the given level.
func New(logger *log.Logger, level Level) *Logger {
	return &Logger{logger: logger, level: level}
}

// Discard returns a Logger that drops everything. Useful for tests.
func Discard() *Logger {
	return New(log.New(io.Discard, "", 0), LevelNone)
}

// With returns a copy of l that tags messages with component.
func (l *Logger) With(component string) *Logger {
	c := *l
	c.component = component
	return &c
}

// Log writes message at level.
func (l *Logger) Log(level Level, message string) {
	if l == nil || level > l.level || level == LevelNone {
		return
	}
	var prefix string
	switch level {
	case LevelError:
		prefix = "ERROR: "
	case LevelWarn:
		prefix = "WARN: "
	case LevelDebug:
		prefix = "DEBUG: "
	}
	if l.component != "" {
		prefix += l.component + ": "
	}
	l.logger.Print(prefix + message)
}

func (l *Logger) Debugf(format string, v ...any) { l.Log(LevelDebug, fmt.Sprintf(format, v...)) }
func (l *Logger) Infof(format string, v ...any)  { l.Log(LevelInfo, fmt.Sprintf(format, v...)) }
func (l *Logger) Warnf(format string, v ...any)  { l.Log(LevelWarn, fmt.Sprintf(format, v...)) }
func (l *Logger) Errorf(format string, v ...any) { l.Log(LevelError, fmt.Sprintf(format, v...)) }
