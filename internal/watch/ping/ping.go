// Package ping implements a TCP reachability watcher: it dials an address
// on a fixed interval and reports round-trip times, escalating after
// consecutive failures.
package ping

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/status"
	"vigil/internal/watch"
)

const (
	defaultInterval  = 30 * time.Second
	defaultTimeout   = 5 * time.Second
	defaultThreshold = 3
)

type state int

const (
	stateCreated state = iota
	stateActive
	stateStopped
)

// Probe dials one TCP address on a fixed interval.
type Probe struct {
	name      string
	address   string
	interval  time.Duration
	timeout   time.Duration
	threshold int

	logger   *logging.Logger
	registry *metrics.Registry

	mu    sync.Mutex
	state state
	done  chan struct{}

	// Owned by the probe loop goroutine.
	report   status.Reporter
	failures int
}

func init() {
	_ = watch.Register(watch.KindPing, func(spec watch.Spec, deps watch.Deps) (watch.Watcher, error) {
		return New(spec, deps)
	})
}

// New builds a ping watcher. The failure threshold controls when repeated
// dial failures escalate from warning to critical.
func New(spec watch.Spec, deps watch.Deps) (*Probe, error) {
	if spec.Name == "" {
		return nil, errors.New("watcher name is required")
	}
	if spec.Address == "" {
		return nil, errors.New("address is required")
	}
	if _, _, err := net.SplitHostPort(spec.Address); err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", spec.Address, err)
	}

	interval := spec.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := defaultTimeout
	if interval < timeout {
		timeout = interval
	}
	threshold := spec.Failures
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}
	registry := deps.Metrics
	if registry == nil {
		registry = metrics.Default
	}

	return &Probe{
		name:      spec.Name,
		address:   spec.Address,
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
		logger:    logger,
		registry:  registry,
		done:      make(chan struct{}),
	}, nil
}

func (p *Probe) Name() string { return p.name }

func (p *Probe) Kind() string { return watch.KindPing }

func (p *Probe) Describe() string {
	return fmt.Sprintf("dials %s every %s, critical after %d consecutive failures", p.address, p.interval, p.threshold)
}

func (p *Probe) Active() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateActive
}

// Start launches the probe loop. The first dial happens immediately; later
// dials follow the configured interval.
func (p *Probe) Start(report status.Reporter) {
	if p == nil || report == nil {
		return
	}
	p.mu.Lock()
	if p.state != stateCreated {
		p.mu.Unlock()
		p.logWarn("start ignored", nil)
		return
	}
	p.report = report
	p.state = stateActive
	p.mu.Unlock()

	go p.loop()
}

// Stop cancels the probe loop. Safe to call at any time and more than once.
func (p *Probe) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.state == stateStopped {
		p.mu.Unlock()
		return
	}
	started := p.state == stateActive
	p.state = stateStopped
	p.mu.Unlock()

	if started {
		close(p.done)
	}
}

func (p *Probe) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check()
	for {
		select {
		case <-ticker.C:
			p.check()
		case <-p.done:
			return
		}
	}
}

func (p *Probe) check() {
	if !p.Active() {
		return
	}
	started := time.Now()
	conn, err := net.DialTimeout("tcp", p.address, p.timeout)
	if err != nil {
		p.failures++
		severity := status.Warning
		if p.failures >= p.threshold {
			severity = status.Critical
		}
		address, count, message := p.address, p.failures, err.Error()
		p.report(status.New(p.name, watch.KindPing, severity, func() string {
			return fmt.Sprintf("%s unreachable (%d consecutive failures): %s", address, count, message)
		}))
		p.logWarn("probe failed", map[string]string{"address": p.address, "error": message})
		return
	}
	_ = conn.Close()

	rtt := time.Since(started)
	p.failures = 0
	address := p.address
	p.report(status.New(p.name, watch.KindPing, status.Notice, func() string {
		return fmt.Sprintf("%s responded in %s", address, rtt.Round(time.Microsecond))
	}))
}

func (p *Probe) logWarn(message string, fields map[string]string) {
	if p.logger == nil {
		return
	}
	merged := make(map[string]string, len(fields)+2)
	merged["watcher"] = p.name
	merged["kind"] = watch.KindPing
	for key, value := range fields {
		merged[key] = value
	}
	p.logger.Warn(message, merged)
}
