// Package execprobe runs a command on a fixed interval under a
// pseudo-terminal and reports its output like a tailed file: lines are
// framed, filtered, and kept in a bounded window.
package execprobe

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"vigil/internal/buffer"
	"vigil/internal/filter"
	"vigil/internal/lineframe"
	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/status"
	"vigil/internal/watch"
)

const (
	defaultInterval = time.Minute
	defaultWindow   = 32
	readChunkSize   = 4096
)

type state int

const (
	stateCreated state = iota
	stateActive
	stateStopped
)

// Probe periodically runs one command and watches its output.
type Probe struct {
	name     string
	command  []string
	interval time.Duration
	filter   filter.Filter
	size     int

	logger   *logging.Logger
	registry *metrics.Registry

	mu    sync.Mutex
	state state
	done  chan struct{}

	// Owned by the probe loop goroutine.
	report status.Reporter
	window *buffer.Window[status.LogLine]
	seq    uint64
}

func init() {
	_ = watch.Register(watch.KindExec, func(spec watch.Spec, deps watch.Deps) (watch.Watcher, error) {
		return New(spec, deps)
	})
}

// New builds an exec watcher. A run that outlives the interval is killed
// along with its process group.
func New(spec watch.Spec, deps watch.Deps) (*Probe, error) {
	if spec.Name == "" {
		return nil, errors.New("watcher name is required")
	}
	if len(spec.Command) == 0 {
		return nil, errors.New("command is required")
	}

	interval := spec.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	size := spec.Window
	if size <= 0 {
		size = defaultWindow
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
		name:     spec.Name,
		command:  append([]string(nil), spec.Command...),
		interval: interval,
		filter:   spec.Filter,
		size:     size,
		logger:   logger,
		registry: registry,
		done:     make(chan struct{}),
		window:   buffer.NewWindow[status.LogLine](size, spec.Order == watch.NewestFirst),
	}, nil
}

func (p *Probe) Name() string { return p.name }

func (p *Probe) Kind() string { return watch.KindExec }

func (p *Probe) Describe() string {
	return fmt.Sprintf("runs %q every %s keeping the last %d matching output lines", strings.Join(p.command, " "), p.interval, p.size)
}

func (p *Probe) Active() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateActive
}

// Start launches the run loop. The first run happens immediately; later
// runs follow the configured interval.
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

// Stop cancels the run loop. A run already in flight finishes on its own,
// bounded by the interval kill timer. Safe to call more than once.
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

	p.runOnce()
	for {
		select {
		case <-ticker.C:
			p.runOnce()
		case <-p.done:
			return
		}
	}
}

func (p *Probe) runOnce() {
	if !p.Active() {
		return
	}
	started := time.Now()
	stream, cmd, err := startCommand(p.command[0], p.command[1:]...)
	if err != nil {
		command, message := strings.Join(p.command, " "), err.Error()
		p.report(status.New(p.name, watch.KindExec, status.Critical, func() string {
			return fmt.Sprintf("cannot start %q: %s", command, message)
		}))
		p.logWarn("command start failed", map[string]string{"error": message})
		return
	}

	// A run that outlives the interval loses its process group.
	killer := time.AfterFunc(p.interval, func() {
		killGroup(cmd)
	})

	pending := ""
	accepted := 0
	chunk := make([]byte, readChunkSize)
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			var lines []string
			lines, pending = lineframe.Split(pending, chunk[:n])
			accepted += p.consume(lines)
		}
		if readErr != nil {
			// The pty read fails once the child exits; output is complete.
			break
		}
	}
	if pending != "" {
		accepted += p.consume([]string{pending})
	}

	waitErr := cmd.Wait()
	killer.Stop()
	_ = stream.Close()

	duration := time.Since(started).Round(time.Millisecond)
	snapshot := p.window.Snapshot()
	command := strings.Join(p.command, " ")
	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		took := duration
		p.report(status.New(p.name, watch.KindExec, status.Critical, func() string {
			return fmt.Sprintf("%q exited with code %d after %s", command, code, took)
		}).WithLines(snapshot))
		p.logWarn("command failed", map[string]string{"error": waitErr.Error()})
		return
	}

	count, took := accepted, duration
	p.report(status.New(p.name, watch.KindExec, status.Notice, func() string {
		return fmt.Sprintf("%q completed in %s, %d new lines", command, took, count)
	}).WithLines(snapshot))
}

func (p *Probe) consume(lines []string) int {
	accepted := 0
	for _, line := range lines {
		if line == "" {
			continue
		}
		if !p.filter.Accept(line) {
			p.registry.IncLineFiltered(p.name)
			continue
		}
		p.registry.IncLineAccepted(p.name)
		p.seq++
		p.window.Add(status.LogLine{Content: line, Seq: p.seq})
		accepted++
	}
	return accepted
}

func (p *Probe) logWarn(message string, fields map[string]string) {
	if p.logger == nil {
		return
	}
	merged := make(map[string]string, len(fields)+2)
	merged["watcher"] = p.name
	merged["kind"] = watch.KindExec
	for key, value := range fields {
		merged[key] = value
	}
	p.logger.Warn(message, merged)
}
