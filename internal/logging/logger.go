// Package logging is vigil's leveled logger. Besides writing key=value
// lines to the process output it keeps a bounded in-memory buffer and a
// subscriber hub, both of which back the /api/logs surfaces.
package logging

import (
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultBufferSize = 1000

type Logger struct {
	minLevel Level
	sink     *log.Logger
	buffer   *LogBuffer
	hub      *hub
	fields   map[string]string
}

func NewLogger(buffer *LogBuffer, minLevel Level) *Logger {
	return NewLoggerWithOutput(buffer, minLevel, os.Stdout)
}

func NewLoggerWithOutput(buffer *LogBuffer, minLevel Level, output io.Writer) *Logger {
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	if output == nil {
		output = io.Discard
	}
	if _, ok := levelRanks[minLevel]; !ok {
		minLevel = LevelInfo
	}
	return &Logger{
		minLevel: minLevel,
		sink:     log.New(output, "", log.LstdFlags),
		buffer:   buffer,
		hub:      newHub(),
	}
}

// With returns a logger that stamps every entry with the given fields.
// The derived logger shares the buffer and hub of its parent.
func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return nil
	}
	child := *l
	child.fields = mergeFields(l.fields, fields)
	return &child
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.emit(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.emit(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.emit(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.emit(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	return l != nil && level.rank() >= l.minLevel.rank()
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

// Subscribe returns a channel of entries logged after this call and a
// cancel func.
func (l *Logger) Subscribe() (<-chan LogEntry, func()) {
	if l == nil || l.hub == nil {
		return nil, func() {}
	}
	return l.hub.subscribe(0)
}

func (l *Logger) SubscriberCount() int {
	if l == nil || l.hub == nil {
		return 0
	}
	return l.hub.count()
}

// Close shuts the subscriber hub down. Buffered entries stay readable.
func (l *Logger) Close() {
	if l != nil && l.hub != nil {
		l.hub.close()
	}
}

func (l *Logger) emit(level Level, message string, fields map[string]string) {
	if !l.Enabled(level) {
		return
	}
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   mergeFields(l.fields, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	l.hub.broadcast(entry)
	l.sink.Print(renderEntry(entry))
}

func mergeFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}

// renderEntry formats one entry as level=... msg=... plus sorted
// context keys. The timestamp comes from the log package prefix.
func renderEntry(entry LogEntry) string {
	var line strings.Builder
	line.WriteString("level=")
	line.WriteString(string(entry.Level))
	line.WriteString(" msg=")
	line.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		line.WriteByte(' ')
		line.WriteString(key)
		line.WriteByte('=')
		line.WriteString(strconv.Quote(entry.Context[key]))
	}
	return line.String()
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
