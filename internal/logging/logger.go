// Package logging provides the gateway's structured JSON logger: leveled,
// component-tagged, with size-based file rotation.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	Trace Level = iota
	Debug
	Info
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Trace:
		return "trace"
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseLevel resolves a configuration string (as found in
// general.log_level) to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "trace":
		return Trace, nil
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return 0, fmt.Errorf("logging: unrecognized level %q", s)
	}
}

// Fields is a bag of structured key/value pairs attached to one entry.
type Fields map[string]any

// entry is the on-wire JSON shape of one log line.
type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger is a structured logger writing newline-delimited JSON, with
// rotation of its backing file once it exceeds maxFileSize.
type Logger struct {
	mu          sync.RWMutex
	out         io.Writer
	level       Level
	component   string
	global      Fields
	file        *os.File
	path        string
	maxFileSize int64
	maxBackups  int
}

// New opens a Logger tagged with component, writing to path (or stdout
// when path is empty) at or above the given level.
func New(component string, level Level, path string) (*Logger, error) {
	l := &Logger{
		level:       level,
		component:   component,
		global:      make(Fields),
		path:        path,
		maxFileSize: 100 * 1024 * 1024,
		maxBackups:  5,
	}

	if path == "" {
		l.out = os.Stdout
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: opening log file: %w", err)
	}
	l.file = f
	l.out = f
	return l, nil
}

// With returns a copy of l carrying an additional global field, leaving
// l itself unmodified. Intended for per-component child loggers, e.g.
// base.With("session_handle", h).
func (l *Logger) With(key string, value any) *Logger {
	l.mu.RLock()
	child := &Logger{
		level: l.level, component: l.component, out: l.out,
		file: l.file, path: l.path, maxFileSize: l.maxFileSize, maxBackups: l.maxBackups,
		global: make(Fields, len(l.global)+1),
	}
	for k, v := range l.global {
		child.global[k] = v
	}
	l.mu.RUnlock()
	child.global[key] = value
	return child
}

func (l *Logger) write(level Level, msg string, fields Fields) {
	l.mu.RLock()
	if level < l.level {
		l.mu.RUnlock()
		return
	}
	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Component: l.component,
		Message:   msg,
		Fields:    make(map[string]any, len(l.global)+len(fields)),
	}
	for k, v := range l.global {
		e.Fields[k] = v
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	out := l.out
	l.mu.RUnlock()

	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(out, "{\"level\":\"error\",\"message\":\"log marshal failed: %v\"}\n", err)
		return
	}
	fmt.Fprintf(out, "%s\n", data)
	l.rotateIfNeeded()

	if level == Fatal {
		l.Close()
		os.Exit(1)
	}
}

func (l *Logger) Trace(msg string, fields ...Fields) { l.write(Trace, msg, first(fields)) }
func (l *Logger) Debug(msg string, fields ...Fields) { l.write(Debug, msg, first(fields)) }
func (l *Logger) Info(msg string, fields ...Fields)  { l.write(Info, msg, first(fields)) }
func (l *Logger) Warn(msg string, fields ...Fields)  { l.write(Warn, msg, first(fields)) }
func (l *Logger) Error(msg string, fields ...Fields) { l.write(Error, msg, first(fields)) }
func (l *Logger) Fatal(msg string, fields ...Fields) { l.write(Fatal, msg, first(fields)) }

func first(fs []Fields) Fields {
	if len(fs) > 0 {
		return fs[0]
	}
	return nil
}

// rotateIfNeeded moves the current log file aside once it crosses
// maxFileSize, keeping up to maxBackups numbered copies.
func (l *Logger) rotateIfNeeded() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	info, err := l.file.Stat()
	if err != nil || info.Size() < l.maxFileSize {
		return
	}

	l.file.Close()
	for i := l.maxBackups - 1; i > 0; i-- {
		os.Rename(fmt.Sprintf("%s.%d", l.path, i), fmt.Sprintf("%s.%d", l.path, i+1))
	}
	os.Rename(l.path, fmt.Sprintf("%s.1", l.path))

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.out = os.Stdout
		l.file = nil
		return
	}
	l.file = f
	l.out = f
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
