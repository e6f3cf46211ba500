package logging

import (
	"sync"

	"vigil/internal/buffer"
)

type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Window[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewWindow[LogEntry](size, false),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.entries == nil {
		return
	}

	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.entries.Snapshot()
}

// ListAtLeast returns buffered entries at or above the given level,
// preserving order.
func (b *LogBuffer) ListAtLeast(min Level) []LogEntry {
	all := b.List()
	if min == "" {
		return all
	}
	out := make([]LogEntry, 0, len(all))
	for _, entry := range all {
		if LevelAtLeast(entry.Level, min) {
			out = append(out, entry)
		}
	}
	return out
}
