package logging

import "time"

// Level names a log severity. Levels are compared by rank, not by
// string order.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

var levelRanks = map[Level]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

func (l Level) rank() int {
	if rank, ok := levelRanks[l]; ok {
		return rank
	}
	return levelRanks[LevelInfo]
}

// LevelAtLeast reports whether level is at or above min. An empty min
// accepts everything.
func LevelAtLeast(level, min Level) bool {
	if min == "" {
		return true
	}
	return level.rank() >= min.rank()
}

// ParseLevel maps a config string to a Level. "warn" is accepted as an
// alias for "warning".
func ParseLevel(raw string) (Level, bool) {
	switch Level(normalizeToken(raw)) {
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo:
		return LevelInfo, true
	case LevelWarning, "warn":
		return LevelWarning, true
	case LevelError:
		return LevelError, true
	default:
		return "", false
	}
}

// LogEntry is one buffered log record. Context keys are rendered
// sorted so output lines are stable.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
}
