// Package filetail implements the file-tailing watcher: it backfills the
// last matching lines of a text file, then follows appended bytes through
// change notifications, keeping a bounded window of accepted lines.
//
// Truncation and rotation are not handled. The live handle keeps its byte
// offset, so a truncated or replaced file yields empty reads until the file
// grows past the old offset again.
package filetail

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"vigil/internal/buffer"
	"vigil/internal/filter"
	"vigil/internal/lineframe"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/status"
	"vigil/internal/watch"
)

const readChunkSize = 32 * 1024

type state int

const (
	stateCreated state = iota
	stateStarting
	stateActive
	stateFailed
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateStarting:
		return "starting"
	case stateActive:
		return "active"
	case stateFailed:
		return "failed"
	case stateStopped:
		return "stopped"
	}
	return "unknown"
}

// Tail watches one text file. A Tail starts at most once per instance;
// after a failure the supervisor replaces it with a fresh instance.
type Tail struct {
	name   string
	path   string
	size   int
	filter filter.Filter
	order  watch.Order

	logger   *logging.Logger
	registry *metrics.Registry
	source   notify.Watch

	mu    sync.Mutex
	state state
	guard *watch.Guard

	// Seeded by Start, then owned by the run goroutine alone.
	file    *os.File
	pending string
	seq     uint64
	window  *buffer.Window[status.LogLine]
	report  status.Reporter

	kick chan struct{}
	done chan struct{}
}

func init() {
	_ = watch.Register(watch.KindFileTail, func(spec watch.Spec, deps watch.Deps) (watch.Watcher, error) {
		return New(spec, deps)
	})
}

// New builds a file-tail watcher. The window size must be positive and the
// zero filter accepts every line.
func New(spec watch.Spec, deps watch.Deps) (*Tail, error) {
	if spec.Name == "" {
		return nil, errors.New("watcher name is required")
	}
	if spec.Path == "" {
		return nil, errors.New("path is required")
	}
	if spec.Window <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", spec.Window)
	}
	if deps.Notify == nil {
		return nil, errors.New("change notifier is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := deps.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	return &Tail{
		name:     spec.Name,
		path:     spec.Path,
		size:     spec.Window,
		filter:   spec.Filter,
		order:    spec.Order,
		logger:   logger,
		registry: registry,
		source:   deps.Notify,
		window:   buffer.NewWindow[status.LogLine](spec.Window, spec.Order == watch.NewestFirst),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

func (t *Tail) Name() string { return t.name }

func (t *Tail) Kind() string { return watch.KindFileTail }

func (t *Tail) Describe() string {
	return fmt.Sprintf("tails %s keeping the last %d matching lines (%s)", t.path, t.size, t.order)
}

func (t *Tail) Active() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateActive
}

// Start backfills the window from the end of the file, reports one
// aggregate status with the window contents, then registers for modify
// notifications. All failures surface through the reporter at the lowest
// severity; Start never raises an error to the caller.
func (t *Tail) Start(report status.Reporter) {
	if t == nil || report == nil {
		return
	}
	t.mu.Lock()
	if t.state != stateCreated {
		current := t.state
		t.mu.Unlock()
		t.logWarn("start ignored", map[string]string{"state": current.String()})
		return
	}
	t.state = stateStarting
	t.mu.Unlock()

	t.report = report

	file, err := os.Open(t.path)
	if err != nil {
		t.fail(fmt.Errorf("open %s: %w", t.path, err))
		return
	}

	// A non-text file still tails; the warning lands before the aggregate.
	if kind, nonText := sniffNonText(file); nonText {
		path := t.path
		report(status.New(t.name, watch.KindFileTail, status.Warning, func() string {
			return fmt.Sprintf("%s does not look like text (%s)", path, kind)
		}))
	}

	lines, _, err := backscan(file, t.size, t.accept)
	if err != nil {
		_ = file.Close()
		t.fail(fmt.Errorf("backfill %s: %w", t.path, err))
		return
	}
	for _, line := range lines {
		t.seq++
		t.window.Add(status.LogLine{Content: line, Seq: t.seq})
	}
	t.file = file

	path, count := t.path, t.window.Len()
	report(status.New(t.name, watch.KindFileTail, status.Notice, func() string {
		return fmt.Sprintf("tailing %s, %d buffered lines", path, count)
	}).WithLines(t.window.Snapshot()))

	handle, err := t.source.Watch(t.path, t.notified)
	if err != nil {
		_ = file.Close()
		t.fail(fmt.Errorf("register watch for %s: %w", t.path, err))
		return
	}

	guard := watch.NewGuard(func() error {
		closeErr := handle.Close()
		if err := file.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		close(t.done)
		return closeErr
	})

	t.mu.Lock()
	if t.state != stateStarting {
		t.mu.Unlock()
		_ = guard.Release()
		return
	}
	t.state = stateActive
	t.guard = guard
	t.mu.Unlock()

	go t.run()
	t.logDebug("watcher active", map[string]string{"path": t.path})
}

// Stop cancels the notifier registration and releases the file handle.
// Safe to call at any time and more than once.
func (t *Tail) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.state == stateFailed || t.state == stateStopped {
		t.mu.Unlock()
		return
	}
	t.state = stateStopped
	guard := t.guard
	t.mu.Unlock()

	_ = guard.Release()
	t.logDebug("watcher stopped", map[string]string{"path": t.path})
}

func (t *Tail) notified(notify.Event) {
	if !t.Active() {
		return
	}
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Tail) run() {
	for {
		select {
		case <-t.kick:
			t.drain()
		case <-t.done:
			return
		}
	}
}

// drain reads every byte available past the current offset. Zero bytes is
// a valid outcome. Transient read errors skip the notification; a closed
// or invalid handle fails the watcher.
func (t *Tail) drain() {
	if !t.Active() {
		return
	}
	chunk := make([]byte, readChunkSize)
	for {
		n, err := t.file.Read(chunk)
		if n > 0 {
			t.consume(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, fs.ErrClosed) || errors.Is(err, os.ErrInvalid) {
				t.failLive(err)
				return
			}
			t.logWarn("read failed", map[string]string{"path": t.path, "error": err.Error()})
			return
		}
		if n == 0 {
			return
		}
	}
}

func (t *Tail) consume(chunk []byte) {
	lines, rest := lineframe.Split(t.pending, chunk)
	t.pending = rest
	for _, line := range lines {
		if line == "" {
			continue
		}
		if !t.accept(line) {
			continue
		}
		t.seq++
		t.window.Add(status.LogLine{Content: line, Seq: t.seq})
		content := line
		t.report(status.New(t.name, watch.KindFileTail, status.Notice, func() string {
			return content
		}).WithLines(t.window.Snapshot()))
	}
}

func (t *Tail) accept(line string) bool {
	if t.filter.Accept(line) {
		t.registry.IncLineAccepted(t.name)
		return true
	}
	t.registry.IncLineFiltered(t.name)
	return false
}

// fail handles startup failures: report once at the lowest severity with
// the cause embedded, then park the watcher in its terminal failed state.
func (t *Tail) fail(cause error) {
	t.mu.Lock()
	if t.state == stateStarting {
		t.state = stateFailed
	}
	t.mu.Unlock()

	message := cause.Error()
	t.report(status.New(t.name, watch.KindFileTail, status.Any, func() string {
		return message
	}))
	t.logWarn("watcher failed", map[string]string{"error": message})
}

func (t *Tail) failLive(cause error) {
	t.mu.Lock()
	if t.state != stateActive {
		t.mu.Unlock()
		return
	}
	t.state = stateFailed
	guard := t.guard
	t.mu.Unlock()

	_ = guard.Release()
	t.logWarn("watcher failed", map[string]string{"path": t.path, "error": cause.Error()})
}

func (t *Tail) logWarn(message string, fields map[string]string) {
	if t.logger == nil {
		return
	}
	t.logger.Warn(message, t.withFields(fields))
}

func (t *Tail) logDebug(message string, fields map[string]string) {
	if t.logger == nil {
		return
	}
	t.logger.Debug(message, t.withFields(fields))
}

func (t *Tail) withFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+2)
	merged["watcher"] = t.name
	merged["kind"] = watch.KindFileTail
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
