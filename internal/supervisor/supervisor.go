// Package supervisor owns the watcher set: it builds instances from
// their specs, fans every status out to the logger, metrics, the event
// bus, and the journal, and replaces instances that stop reporting as
// active. A failed instance is never restarted in place; the sweep
// loop builds a fresh one under exponential backoff.
package supervisor

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vigil/internal/event"
	"vigil/internal/journal"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/status"
	"vigil/internal/watch"
)

const (
	defaultSweepInterval     = 5 * time.Second
	defaultRetentionInterval = time.Hour
	restartBaseDelay         = 2 * time.Second
	restartMaxDelay          = time.Minute
)

// Options carries the shared services statuses are routed to. Bus and
// Journal may be nil; Notify is required only when a spec needs it.
type Options struct {
	Logger   *logging.Logger
	Registry *metrics.Registry
	Bus      *event.Bus
	Journal  *journal.Journal
	Notify   notify.Watch

	// SweepInterval is how often inactive watchers are looked for.
	SweepInterval time.Duration
	// Retention bounds journal history age; zero keeps everything.
	Retention         time.Duration
	RetentionInterval time.Duration
}

type supervisorState int

const (
	stateCreated supervisorState = iota
	stateRunning
	stateStopped
)

type entry struct {
	spec     watch.Spec
	watcher  watch.Watcher
	policy   *backoff.ExponentialBackOff
	retryAt  time.Time
	restarts int
}

// Snapshot is one watcher's externally visible state.
type Snapshot struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Active      bool           `json:"active"`
	Description string         `json:"description"`
	Restarts    int            `json:"restarts"`
	Last        *status.Status `json:"last,omitempty"`
}

// Summary counts watchers by liveness.
type Summary struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Down     int `json:"down"`
	Restarts int `json:"restarts"`
}

type Supervisor struct {
	logger   *logging.Logger
	registry *metrics.Registry
	bus      *event.Bus
	journal  *journal.Journal
	deps     watch.Deps

	sweepInterval     time.Duration
	retention         time.Duration
	retentionInterval time.Duration

	mu      sync.Mutex
	state   supervisorState
	entries []*entry
	byName  map[string]*entry
	last    map[string]status.Status

	done     chan struct{}
	loopDone chan struct{}
}

// New builds one watcher instance per spec so configuration problems
// surface before the daemon starts. Nothing runs until Start.
func New(specs []watch.Spec, opts Options) (*Supervisor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.Default
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	retentionInterval := opts.RetentionInterval
	if retentionInterval <= 0 {
		retentionInterval = defaultRetentionInterval
	}

	supervisor := &Supervisor{
		logger:            logger.With(map[string]string{"component": "supervisor"}),
		registry:          registry,
		bus:               opts.Bus,
		journal:           opts.Journal,
		deps:              watch.Deps{Logger: logger, Metrics: registry, Notify: opts.Notify},
		sweepInterval:     sweepInterval,
		retention:         opts.Retention,
		retentionInterval: retentionInterval,
		byName:            make(map[string]*entry, len(specs)),
		last:              make(map[string]status.Status, len(specs)),
		done:              make(chan struct{}),
		loopDone:          make(chan struct{}),
	}

	for _, spec := range specs {
		if _, exists := supervisor.byName[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate watcher name %q", spec.Name)
		}
		watcher, err := watch.Build(spec, supervisor.deps)
		if err != nil {
			return nil, fmt.Errorf("build watcher %q: %w", spec.Name, err)
		}
		item := &entry{spec: spec, watcher: watcher, policy: newRestartPolicy()}
		supervisor.entries = append(supervisor.entries, item)
		supervisor.byName[spec.Name] = item
	}
	return supervisor, nil
}

func newRestartPolicy() *backoff.ExponentialBackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = restartBaseDelay
	policy.MaxInterval = restartMaxDelay
	policy.MaxElapsedTime = 0
	return policy
}

// Start launches every watcher and the sweep loop. It may be called
// once; watcher start failures surface as statuses, not errors.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != stateCreated {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.state = stateRunning
	watchers := make([]watch.Watcher, 0, len(s.entries))
	for _, item := range s.entries {
		watchers = append(watchers, item.watcher)
	}
	s.mu.Unlock()

	for _, watcher := range watchers {
		watcher.Start(s.report)
	}
	go s.sweep()

	s.logger.Info("supervisor started", map[string]string{
		"watchers": strconv.Itoa(len(watchers)),
	})
	return nil
}

// Stop halts the sweep loop, then every watcher. Safe to call again.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopped
	watchers := make([]watch.Watcher, 0, len(s.entries))
	for _, item := range s.entries {
		watchers = append(watchers, item.watcher)
	}
	s.mu.Unlock()

	close(s.done)
	<-s.loopDone
	for _, watcher := range watchers {
		watcher.Stop()
	}
	s.logger.Info("supervisor stopped", nil)
}

// report fans one status out. The journal write comes before the bus
// publish so a subscriber never sees a status that history lacks.
func (s *Supervisor) report(entry status.Status) {
	s.logStatus(entry)
	s.registry.IncStatus(entry.Watcher, entry.Severity.String())

	s.mu.Lock()
	s.last[entry.Watcher] = entry
	s.mu.Unlock()

	if s.journal != nil {
		if _, err := s.journal.Append(entry); err != nil && !errors.Is(err, journal.ErrClosed) {
			s.logger.Warn("journal append failed", map[string]string{
				"watcher": entry.Watcher,
				"error":   err.Error(),
			})
		}
	}
	s.bus.Publish(entry)
}

func (s *Supervisor) logStatus(entry status.Status) {
	fields := map[string]string{
		"watcher":  entry.Watcher,
		"kind":     entry.Kind,
		"severity": entry.Severity.String(),
	}
	switch {
	case entry.Severity.AtLeast(status.Critical):
		s.logger.Error(entry.Description(), fields)
	case entry.Severity.AtLeast(status.Warning):
		s.logger.Warn(entry.Description(), fields)
	default:
		// Statuses have their own delivery surfaces; the log ring only
		// carries informational ones when debugging.
		s.logger.Debug(entry.Description(), fields)
	}
}

func (s *Supervisor) sweep() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	var retentionTick <-chan time.Time
	if s.journal != nil && s.retention > 0 {
		retentionTicker := time.NewTicker(s.retentionInterval)
		defer retentionTicker.Stop()
		retentionTick = retentionTicker.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.replaceInactive()
		case <-retentionTick:
			s.trimJournal()
		}
	}
}

// replaceInactive builds fresh instances for watchers that went down.
// Start and Stop happen outside the mutex: starting a watcher reports
// synchronously and report takes the same lock.
func (s *Supervisor) replaceInactive() {
	now := time.Now()

	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	var stopped, started []watch.Watcher
	for _, item := range s.entries {
		if item.watcher.Active() {
			// A healthy stretch resets the backoff ladder.
			item.policy.Reset()
			item.retryAt = time.Time{}
			continue
		}
		if now.Before(item.retryAt) {
			continue
		}
		replacement, err := watch.Build(item.spec, s.deps)
		if err != nil {
			item.retryAt = now.Add(item.policy.NextBackOff())
			s.logger.Warn("watcher rebuild failed", map[string]string{
				"watcher": item.spec.Name,
				"error":   err.Error(),
			})
			continue
		}
		stopped = append(stopped, item.watcher)
		item.watcher = replacement
		item.restarts++
		item.retryAt = now.Add(item.policy.NextBackOff())
		started = append(started, replacement)
		s.registry.IncWatcherRestart(item.spec.Name)
		s.logger.Info("watcher replaced", map[string]string{
			"watcher":  item.spec.Name,
			"restarts": strconv.Itoa(item.restarts),
		})
	}
	s.mu.Unlock()

	for _, watcher := range stopped {
		watcher.Stop()
	}
	for _, watcher := range started {
		watcher.Start(s.report)
	}
}

func (s *Supervisor) trimJournal() {
	if _, err := s.journal.TrimOlderThan(time.Now().Add(-s.retention)); err != nil && !errors.Is(err, journal.ErrClosed) {
		s.logger.Warn("journal trim failed", map[string]string{"error": err.Error()})
	}
}

// Watchers lists snapshots in configuration order.
func (s *Supervisor) Watchers() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(s.entries))
	for _, item := range s.entries {
		snapshots = append(snapshots, s.snapshotLocked(item))
	}
	return snapshots
}

// Watcher returns the snapshot for one name.
func (s *Supervisor) Watcher(name string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.byName[name]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshotLocked(item), true
}

func (s *Supervisor) snapshotLocked(item *entry) Snapshot {
	snapshot := Snapshot{
		Name:        item.spec.Name,
		Kind:        item.spec.Kind,
		Active:      item.watcher.Active(),
		Description: item.watcher.Describe(),
		Restarts:    item.restarts,
	}
	if last, ok := s.last[item.spec.Name]; ok {
		snapshot.Last = &last
	}
	return snapshot
}

// Summarize counts watchers by liveness for the daemon status surface.
func (s *Supervisor) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{Total: len(s.entries)}
	for _, item := range s.entries {
		if item.watcher.Active() {
			summary.Active++
		} else {
			summary.Down++
		}
		summary.Restarts += item.restarts
	}
	return summary
}
