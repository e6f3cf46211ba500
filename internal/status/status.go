// Package status holds the reporting vocabulary shared by all watcher
// variants: severity levels, the log line record, and the immutable
// Status emitted to the host.
package status

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Severity orders statuses from informational to critical. Any is the
// lowest level and is used for start failures and other reports that
// carry no alerting weight of their own.
type Severity int

const (
	Any Severity = iota
	Notice
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Any:
		return "any"
	case Notice:
		return "notice"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s >= min
}

func ParseSeverity(value string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "any":
		return Any, true
	case "notice":
		return Notice, true
	case "warning", "warn":
		return Warning, true
	case "critical", "crit":
		return Critical, true
	default:
		return Any, false
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, ok := ParseSeverity(string(text))
	if !ok {
		parsed = Any
	}
	*s = parsed
	return nil
}

// LogLine is one accepted line with its discovery order. Immutable once
// created.
type LogLine struct {
	Content string `json:"content"`
	Seq     uint64 `json:"seq"`
}

// Status is a single report from a watcher. The description is computed
// lazily, at most once, on first use; statuses are safe to copy and to
// hand to multiple consumers.
type Status struct {
	Watcher  string
	Kind     string
	Severity Severity
	Time     time.Time
	Lines    []LogLine

	describe  func() string
	descOnce  *sync.Once
	descValue *string
}

func New(watcher, kind string, severity Severity, describe func() string) Status {
	return Status{
		Watcher:   watcher,
		Kind:      kind,
		Severity:  severity,
		Time:      time.Now().UTC(),
		describe:  describe,
		descOnce:  &sync.Once{},
		descValue: new(string),
	}
}

// Text builds a status whose description is already known.
func Text(watcher, kind string, severity Severity, text string) Status {
	return New(watcher, kind, severity, func() string { return text })
}

// WithLines attaches a line snapshot. The slice is stored as given;
// callers pass point-in-time copies, never live buffers.
func (s Status) WithLines(lines []LogLine) Status {
	s.Lines = lines
	return s
}

func (s Status) Description() string {
	if s.descOnce == nil || s.descValue == nil {
		if s.describe != nil {
			return s.describe()
		}
		return ""
	}
	s.descOnce.Do(func() {
		if s.describe != nil {
			*s.descValue = s.describe()
		}
	})
	return *s.descValue
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Watcher     string    `json:"watcher"`
		Kind        string    `json:"kind"`
		Severity    Severity  `json:"severity"`
		Time        time.Time `json:"time"`
		Description string    `json:"description"`
		Lines       []LogLine `json:"lines,omitempty"`
	}{
		Watcher:     s.Watcher,
		Kind:        s.Kind,
		Severity:    s.Severity,
		Time:        s.Time,
		Description: s.Description(),
		Lines:       s.Lines,
	})
}

// Reporter delivers statuses to whatever the host wired up. Watchers
// call it and never learn what sits downstream.
type Reporter func(Status)
