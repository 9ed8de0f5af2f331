// Package logging provides leveled, component-scoped console logging.
// Every failure the core swallows (storage unavailable, corrupt data)
// is reported here instead of being returned to the caller.
package logging

import (
	"fmt"
	"io"
	"os"
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

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := levelPriority[level]; !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes structured lines to an output writer.
type Logger struct {
	sink      *sink
	component string
}

// New creates a new Logger writing to stderr at INFO.
func New() *Logger {
	return &Logger{
		sink: &sink{
			output:   os.Stderr,
			minLevel: LevelInfo,
		},
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a logger with the given component name.
// The derived logger shares output and level with its parent.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		sink:      l.sink,
		component: component,
	}
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
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

// formatFields formats fields as key=value pairs sorted by key.
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

// log writes a line: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.sink.output.Write([]byte(line))
}

// --- Domain logging helpers ---

// TaskMutation logs a task store write.
func (l *Logger) TaskMutation(op, taskID string) {
	l.Debug("task_mutation", map[string]interface{}{
		"op":      op,
		"task_id": taskID,
	})
}

// Notify logs an archive/unarchive fan-out.
func (l *Logger) Notify(event, taskID string, subscribers int) {
	l.Debug("notify", map[string]interface{}{
		"event":       event,
		"task_id":     taskID,
		"subscribers": subscribers,
	})
}

// Reload logs a full list replacement from the backing store.
func (l *Logger) Reload(source string, kept, dropped int) {
	fields := map[string]interface{}{
		"source":  source,
		"kept":    kept,
		"dropped": dropped,
	}
	if dropped > 0 {
		l.Warn("reload", fields)
		return
	}
	l.Info("reload", fields)
}

// StorageFailure logs a swallowed storage error. Callers pass the
// fields of a coded error (see errors.Fields).
func (l *Logger) StorageFailure(op string, fields map[string]interface{}) {
	merged := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["op"] = op
	if merged["code"] == "UNAVAILABLE" {
		l.Warn("storage_failure", merged)
		return
	}
	l.Error("storage_failure", merged)
}

// PhaseChange logs an animation phase transition.
func (l *Logger) PhaseChange(from, to string, grains, pending int) {
	l.Debug("phase_change", map[string]interface{}{
		"from":    from,
		"to":      to,
		"grains":  grains,
		"pending": pending,
	})
}
