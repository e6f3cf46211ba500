package notify

import (
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type debounceEntry struct {
	timer *time.Timer
	event Event
}

type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

func (debouncer *debouncer) schedule(path string, event Event, flush func(string)) bool {
	if debouncer == nil {
		return false
	}
	entry := debouncer.entries[path]
	coalesced := entry.timer != nil
	entry.event = event
	if entry.timer == nil {
		entry.timer = time.AfterFunc(debouncer.duration, func() {
			flush(path)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[path] = entry
	return coalesced
}

func (debouncer *debouncer) pop(path string) (Event, bool) {
	if debouncer == nil {
		return Event{}, false
	}
	entry, ok := debouncer.entries[path]
	if !ok {
		return Event{}, false
	}
	delete(debouncer.entries, path)
	return entry.event, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

func (notifier *Notifier) handleEvent(event fsnotify.Event) {
	notifier.mutex.Lock()
	if notifier.closed {
		notifier.mutex.Unlock()
		return
	}
	if len(notifier.callbacks[event.Name]) == 0 {
		notifier.mutex.Unlock()
		return
	}

	entry := Event{
		Path:      event.Name,
		Op:        event.Op,
		Timestamp: time.Now().UTC(),
	}
	if notifier.debouncer != nil {
		coalesced := notifier.debouncer.schedule(event.Name, entry, notifier.flush)
		if coalesced {
			atomic.AddUint64(&notifier.coalesced, 1)
			notifier.registry.IncNotifierDropped()
		}
	}
	notifier.mutex.Unlock()
}

func (notifier *Notifier) flush(path string) {
	notifier.mutex.Lock()
	if notifier.closed || notifier.debouncer == nil {
		notifier.mutex.Unlock()
		return
	}
	event, ok := notifier.debouncer.pop(path)
	if !ok {
		notifier.mutex.Unlock()
		return
	}
	entries := notifier.callbacks[path]
	callbacks := make([]func(Event), 0, len(entries))
	for _, entry := range entries {
		callbacks = append(callbacks, entry.callback)
	}
	notifier.mutex.Unlock()

	for _, callback := range callbacks {
		callback(event)
		atomic.AddUint64(&notifier.delivered, 1)
		notifier.registry.IncNotifierDispatched()
	}
}
