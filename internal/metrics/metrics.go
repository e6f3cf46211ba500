package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	notifierDispatched atomic.Int64
	notifierDropped    atomic.Int64
	notifierRestarts   atomic.Int64
	notifierWatches    atomic.Int64

	severities sync.Map // severity name -> *atomic.Int64
	watchers   sync.Map // watcher name -> *watcherStats
	buses      sync.Map // bus name -> *busStats
}

type watcherStats struct {
	statuses      atomic.Int64
	linesAccepted atomic.Int64
	linesFiltered atomic.Int64
	restarts      atomic.Int64
}

type busStats struct {
	published      sync.Map // event type -> *atomic.Int64
	dropped        sync.Map // event type -> *atomic.Int64
	subsFiltered   atomic.Int64
	subsUnfiltered atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncStatus(watcher string, severity string) {
	if r == nil {
		return
	}
	counterIn(&r.severities, severity).Add(1)
	r.watcherStats(watcher).statuses.Add(1)
}

func (r *Registry) IncLineAccepted(watcher string) {
	if r == nil {
		return
	}
	r.watcherStats(watcher).linesAccepted.Add(1)
}

func (r *Registry) IncLineFiltered(watcher string) {
	if r == nil {
		return
	}
	r.watcherStats(watcher).linesFiltered.Add(1)
}

func (r *Registry) IncWatcherRestart(watcher string) {
	if r == nil {
		return
	}
	r.watcherStats(watcher).restarts.Add(1)
}

func (r *Registry) IncNotifierDispatched() {
	if r == nil {
		return
	}
	r.notifierDispatched.Add(1)
}

func (r *Registry) IncNotifierDropped() {
	if r == nil {
		return
	}
	r.notifierDropped.Add(1)
}

func (r *Registry) IncNotifierRestart() {
	if r == nil {
		return
	}
	r.notifierRestarts.Add(1)
}

func (r *Registry) SetNotifierWatchCount(count int) {
	if r == nil {
		return
	}
	r.notifierWatches.Store(int64(count))
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	counterIn(&r.busStats(bus).published, eventType).Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	counterIn(&r.busStats(bus).dropped, eventType).Add(1)
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	stats := r.busStats(bus)
	stats.subsFiltered.Store(int64(filtered))
	stats.subsUnfiltered.Store(int64(unfiltered))
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeHelp(writer, "vigil_statuses_total", "Statuses emitted by severity")
	fmt.Fprintln(writer, "# TYPE vigil_statuses_total counter")
	for _, severity := range sortedKeys(&r.severities) {
		fmt.Fprintf(writer, "vigil_statuses_total{severity=%s} %d\n", formatLabel(severity), counterIn(&r.severities, severity).Load())
	}

	writeHelp(writer, "vigil_watcher_statuses_total", "Statuses emitted per watcher")
	fmt.Fprintln(writer, "# TYPE vigil_watcher_statuses_total counter")
	writeHelp(writer, "vigil_watcher_lines_accepted_total", "Lines accepted per watcher")
	fmt.Fprintln(writer, "# TYPE vigil_watcher_lines_accepted_total counter")
	writeHelp(writer, "vigil_watcher_lines_filtered_total", "Lines rejected by filters per watcher")
	fmt.Fprintln(writer, "# TYPE vigil_watcher_lines_filtered_total counter")
	writeHelp(writer, "vigil_watcher_restarts_total", "Replacement instances built per watcher")
	fmt.Fprintln(writer, "# TYPE vigil_watcher_restarts_total counter")

	for _, name := range r.watcherNames() {
		stats := r.watcherStats(name)
		label := formatLabel(name)
		fmt.Fprintf(writer, "vigil_watcher_statuses_total{watcher=%s} %d\n", label, stats.statuses.Load())
		fmt.Fprintf(writer, "vigil_watcher_lines_accepted_total{watcher=%s} %d\n", label, stats.linesAccepted.Load())
		fmt.Fprintf(writer, "vigil_watcher_lines_filtered_total{watcher=%s} %d\n", label, stats.linesFiltered.Load())
		fmt.Fprintf(writer, "vigil_watcher_restarts_total{watcher=%s} %d\n", label, stats.restarts.Load())
	}

	writeCounter(writer, "vigil_notifier_events_dispatched_total", "Filesystem events dispatched to callbacks", r.notifierDispatched.Load())
	writeCounter(writer, "vigil_notifier_events_dropped_total", "Filesystem events dropped", r.notifierDropped.Load())
	writeCounter(writer, "vigil_notifier_restarts_total", "Notifier self-restarts", r.notifierRestarts.Load())
	writeGauge(writer, "vigil_notifier_watches", "Active filesystem watch registrations", r.notifierWatches.Load())

	writeHelp(writer, "vigil_events_published_total", "Events published per bus and type")
	fmt.Fprintln(writer, "# TYPE vigil_events_published_total counter")
	writeHelp(writer, "vigil_events_dropped_total", "Events dropped per bus and type")
	fmt.Fprintln(writer, "# TYPE vigil_events_dropped_total counter")
	writeHelp(writer, "vigil_event_subscribers", "Subscribers per bus")
	fmt.Fprintln(writer, "# TYPE vigil_event_subscribers gauge")

	for _, name := range r.busNames() {
		stats := r.busStats(name)
		busLabel := formatLabel(name)
		for _, eventType := range sortedKeys(&stats.published) {
			fmt.Fprintf(writer, "vigil_events_published_total{bus=%s,type=%s} %d\n", busLabel, formatLabel(eventType), counterIn(&stats.published, eventType).Load())
		}
		for _, eventType := range sortedKeys(&stats.dropped) {
			fmt.Fprintf(writer, "vigil_events_dropped_total{bus=%s,type=%s} %d\n", busLabel, formatLabel(eventType), counterIn(&stats.dropped, eventType).Load())
		}
		fmt.Fprintf(writer, "vigil_event_subscribers{bus=%s,filtered=\"true\"} %d\n", busLabel, stats.subsFiltered.Load())
		fmt.Fprintf(writer, "vigil_event_subscribers{bus=%s,filtered=\"false\"} %d\n", busLabel, stats.subsUnfiltered.Load())
	}

	return nil
}

func (r *Registry) watcherStats(name string) *watcherStats {
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	value, _ := r.watchers.LoadOrStore(name, &watcherStats{})
	return value.(*watcherStats)
}

func (r *Registry) busStats(name string) *busStats {
	if strings.TrimSpace(name) == "" {
		name = "event_bus"
	}
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func (r *Registry) watcherNames() []string {
	return mapKeys(&r.watchers)
}

func (r *Registry) busNames() []string {
	return mapKeys(&r.buses)
}

func counterIn(m *sync.Map, key string) *atomic.Int64 {
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	value, _ := m.LoadOrStore(key, &atomic.Int64{})
	return value.(*atomic.Int64)
}

func mapKeys(m *sync.Map) []string {
	var names []string
	m.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}

func sortedKeys(m *sync.Map) []string {
	return mapKeys(m)
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func writeGauge(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s gauge\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
