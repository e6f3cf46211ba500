// Package watch defines the watcher contract the supervisor drives and a
// registry mapping configured kinds to watcher builders.
package watch

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/internal/filter"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/status"
)

// Watcher kinds known to the builder registry.
const (
	KindFileTail = "filetail"
	KindPing     = "ping"
	KindExec     = "exec"
)

// Watcher is one supervised monitoring unit. Start reports progress and
// failures through the reporter and never blocks on it; Stop is idempotent.
type Watcher interface {
	Name() string
	Kind() string
	Active() bool
	Start(report status.Reporter)
	Stop()
	Describe() string
}

// Guard owns the cancellable resources of a running watcher.
type Guard struct {
	once    sync.Once
	release func() error
}

// NewGuard wraps a release function. A nil release yields a no-op guard.
func NewGuard(release func() error) *Guard {
	return &Guard{release: release}
}

// Release frees the guarded resources. Only the first call runs the release
// function; later calls and calls on a nil guard return nil.
func (guard *Guard) Release() error {
	if guard == nil {
		return nil
	}
	var err error
	guard.once.Do(func() {
		if guard.release != nil {
			err = guard.release()
		}
	})
	return err
}

// Order controls how buffered lines are arranged when reported.
type Order int

const (
	NewestLast Order = iota
	NewestFirst
)

func (order Order) String() string {
	if order == NewestFirst {
		return "newest_first"
	}
	return "newest_last"
}

// ParseOrder maps a config string to an Order. The empty string selects
// NewestLast; hyphens and underscores are interchangeable.
func ParseOrder(value string) (Order, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_") {
	case "", "newest_last":
		return NewestLast, nil
	case "newest_first":
		return NewestFirst, nil
	}
	return NewestLast, fmt.Errorf("unknown emit order %q", value)
}

// Spec describes one configured watcher. Fields beyond Name and Kind are
// interpreted by the builder for that kind.
type Spec struct {
	Name     string
	Kind     string
	Path     string
	Address  string
	Command  []string
	Interval time.Duration
	Window   int
	Order    Order
	Filter   filter.Filter
	Failures int
}

// Deps carries the shared services watcher builders wire in.
type Deps struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Notify  notify.Watch
}
