// Package logger is the process-wide leveled logger shared by the server and
// the CLI.
//
// Call sites use printf-style helpers and prefix the message with a short
// component tag, e.g. logger.Infof("[ws] client %s connected", id).
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level int

const (
	// LevelTrace enables extremely verbose logs (wire frames, reducer inputs).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

// slogTrace sits below slog.LevelDebug so trace output can be filtered
// independently.
const slogTrace = slog.LevelDebug - 4

var (
	mu       sync.Mutex
	levelVar = new(slog.LevelVar)
	root     = newRoot(os.Stderr)
)

func newRoot(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == slogTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}))
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelTrace:
		return slogTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

func init() {
	levelVar.Set(slog.LevelInfo)
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	defer mu.Unlock()
	root = newRoot(w)
}

// SetLevel sets the global log level threshold.
func SetLevel(level Level) {
	levelVar.Set(level.slog())
}

// Enabled reports whether a level would be emitted by the current
// configuration.
func Enabled(level Level) bool {
	return level.slog() >= levelVar.Level()
}

// Slog returns the underlying structured logger for callers that want
// key/value attributes instead of printf formatting.
func Slog() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return root
}

func logf(level Level, format string, args ...any) {
	if !Enabled(level) {
		return
	}
	Slog().Log(context.Background(), level.slog(), fmt.Sprintf(format, args...))
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }

// Infof logs at INFO level.
func Infof(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warnf logs at WARN level.
func Warnf(format string, args ...any) { logf(LevelWarn, format, args...) }

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }
