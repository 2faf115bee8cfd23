// Package logging is a small leveled logger in the teacher's ambient style
// (mutex-guarded writer whose minimum level and stderr mirror are set through
// SetMinLevel and SetStderrEnabled; no environment variable is read) rather
// than a third-party logging
// framework — the pack's core tools do the same. Every record is also fed
// to an optional sink so the daemon's log ring buffer (§4.M) can serve
// GetLogs without scraping stderr.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Level mirrors the levels of the Data Model's log entry.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

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
		return "unknown"
	}
}

// Record is one emitted log line, handed to the sink.
type Record struct {
	Time    time.Time
	Level   Level
	Target  string
	Message string
}

// Sink receives every record regardless of the configured minimum level —
// the ring buffer decides independently what to retain.
type Sink interface {
	Push(Record)
}

var (
	mu        sync.Mutex
	sink      Sink
	minLevel  = LevelInfo
	toStderr  = true
)

// SetSink installs the ring-buffer sink. Pass nil to disable.
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
}

// SetMinLevel sets the minimum level written to stderr (the sink always
// receives everything).
func SetMinLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// SetStderrEnabled toggles the stderr mirror, useful for quiet test runs.
func SetStderrEnabled(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	toStderr = enabled
}

// Logger is a component-scoped handle returned by For.
type Logger struct {
	target string
}

// For returns a logger scoped to the given component/target name.
func For(target string) Logger {
	return Logger{target: target}
}

func (l Logger) emit(level Level, format string, args ...any) {
	rec := Record{Time: time.Now(), Level: level, Target: l.target, Message: fmt.Sprintf(format, args...)}

	mu.Lock()
	s := sink
	lvl := minLevel
	stderr := toStderr
	mu.Unlock()

	if s != nil {
		s.Push(rec)
	}
	if stderr && level >= lvl {
		fmt.Fprintf(os.Stderr, "%s [%s] %s: %s\n", rec.Time.Format(time.RFC3339), rec.Level, rec.Target, rec.Message)
	}
}

func (l Logger) Trace(format string, args ...any) { l.emit(LevelTrace, format, args...) }
func (l Logger) Debug(format string, args ...any) { l.emit(LevelDebug, format, args...) }
func (l Logger) Info(format string, args ...any)  { l.emit(LevelInfo, format, args...) }
func (l Logger) Warn(format string, args ...any)  { l.emit(LevelWarn, format, args...) }
func (l Logger) Error(format string, args ...any) { l.emit(LevelError, format, args...) }
