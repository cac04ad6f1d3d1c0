// Package logging provides leveled, component-scoped log output for the
// server. Stdout belongs to the stdio transport, so output defaults to
// stderr; OpenFile points it at a log file instead.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu     sync.Mutex
	output io.Writer
	level  Level
	closer io.Closer
}

// Logger writes structured lines: LEVEL TIMESTAMP [component] message key=value ...
// Derived loggers (WithComponent, WithTraceID) share output and level.
type Logger struct {
	sink      *sink
	component string
	traceID   string
}

// New creates a Logger writing INFO and above to stderr.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stderr, level: LevelInfo}}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{sink: &sink{output: io.Discard, level: LevelError}}
}

// OpenFile creates a Logger appending to path, creating parent directories.
// A path of "-" or "" logs to stderr.
func OpenFile(path string) (*Logger, error) {
	if path == "" || path == "-" {
		return New(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{sink: &sink{output: f, level: LevelInfo, closer: f}}, nil
}

// WithComponent returns a logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component, traceID: l.traceID}
}

// WithTraceID returns a logger that adds trace=<id> to every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{sink: l.sink, component: l.component, traceID: traceID}
}

// TraceID returns the trace id attached to this logger, if any.
func (l *Logger) TraceID() string {
	return l.traceID
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.level = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
}

// Close closes the underlying log file, if the logger owns one.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.closer == nil {
		return nil
	}
	err := l.sink.closer.Close()
	l.sink.closer = nil
	l.sink.output = io.Discard
	return err
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields renders fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.level] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.traceID != "" {
		fieldStr += " trace=" + l.traceID
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.output.Write([]byte(line))
}

// --- Domain events ---

// ServerStart logs server startup.
func (l *Logger) ServerStart(name, transport string) {
	l.Info("server_start", map[string]interface{}{
		"name":      name,
		"transport": transport,
	})
}

// ServerStop logs server shutdown.
func (l *Logger) ServerStop(reason string) {
	l.Info("server_stop", map[string]interface{}{
		"reason": reason,
	})
}

// ToolCall logs a tool invocation.
func (l *Logger) ToolCall(tool string) {
	l.Debug("tool_call", map[string]interface{}{
		"tool": tool,
	})
}

// ToolResult logs a tool result. Errors are logged at ERROR level.
func (l *Logger) ToolResult(tool string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"tool":     tool,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("tool_error", fields)
	} else {
		l.Debug("tool_result", fields)
	}
}

// TaskAdded logs creation of a task.
func (l *Logger) TaskAdded(id int64, title string) {
	l.Info("task_added", map[string]interface{}{
		"id":    id,
		"title": fmt.Sprintf("%q", title),
	})
}

// TaskCompleted logs the Pending→Completed transition.
func (l *Logger) TaskCompleted(id int64) {
	l.Info("task_completed", map[string]interface{}{
		"id": id,
	})
}

// StoreLoaded logs a load of the task collection.
func (l *Logger) StoreLoaded(backend string, count int, duration time.Duration) {
	l.Debug("store_loaded", map[string]interface{}{
		"backend":  backend,
		"count":    count,
		"duration": duration.String(),
	})
}

// StoreSaved logs an atomic save of the task collection.
func (l *Logger) StoreSaved(backend string, count int, duration time.Duration) {
	l.Debug("store_saved", map[string]interface{}{
		"backend":  backend,
		"count":    count,
		"duration": duration.String(),
	})
}

// WorkLogged logs an appended work log entry.
func (l *Logger) WorkLogged(timestamp string) {
	l.Info("work_logged", map[string]interface{}{
		"timestamp": timestamp,
	})
}
