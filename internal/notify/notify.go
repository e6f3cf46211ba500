package notify

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"vigil/internal/logging"
	"vigil/internal/metrics"
)

const (
	defaultDebounce    = 100 * time.Millisecond
	defaultMaxWatches  = 100
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

var ErrMaxWatchesExceeded = errors.New("max watches exceeded")

// Event represents a single filesystem change on a watched path.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases notifier resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem changes on a path.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls notifier behavior.
type Options struct {
	Logger       *logging.Logger
	Registry     *metrics.Registry
	Debounce     time.Duration
	MaxWatches   int
	ErrorHandler func(error)
}

// Notifier is the concrete fsnotify-backed implementation.
type Notifier struct {
	source    *fsnotify.Watcher
	mutex     sync.Mutex
	callbacks map[string][]callbackEntry
	debouncer *debouncer
	events    chan fsnotify.Event
	errors    chan error
	done      chan struct{}
	closed    bool
	nextID    uint64

	logger   *logging.Logger
	registry *metrics.Registry

	activeWatches int
	maxWatches    int
	errorHandler  func(error)

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int

	delivered  uint64
	coalesced  uint64
	errorCount uint64
}

// Stats reports current notifier counters.
type Stats struct {
	ActiveWatches   int
	Delivered       uint64
	Coalesced       uint64
	Errors          uint64
	RestartAttempts int
}

// New creates a Notifier with default options.
func New() (*Notifier, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Notifier with custom options.
func NewWithOptions(options Options) (*Notifier, error) {
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.NewLogBuffer(logging.DefaultBufferSize), logging.LevelInfo, nil)
	}

	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}

	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	instance := &Notifier{
		source:       source,
		callbacks:    make(map[string][]callbackEntry),
		debouncer:    newDebouncer(debounce),
		events:       make(chan fsnotify.Event, 16),
		errors:       make(chan error, 4),
		done:         make(chan struct{}),
		logger:       logger,
		registry:     registry,
		maxWatches:   maxWatches,
		errorHandler: options.ErrorHandler,
	}

	instance.startForwarder(source)
	go instance.run()
	return instance, nil
}

// Close shuts down the notifier and stops event processing.
func (notifier *Notifier) Close() error {
	if notifier == nil {
		return nil
	}

	notifier.mutex.Lock()
	if notifier.closed {
		notifier.mutex.Unlock()
		return nil
	}
	notifier.closed = true
	if notifier.debouncer != nil {
		notifier.debouncer.stop()
		notifier.debouncer = nil
	}
	notifier.mutex.Unlock()

	close(notifier.done)
	if notifier.source == nil {
		return nil
	}
	return notifier.source.Close()
}

func (notifier *Notifier) run() {
	for {
		select {
		case event := <-notifier.events:
			notifier.handleEvent(event)
		case err := <-notifier.errors:
			notifier.handleError(err)
		case <-notifier.done:
			return
		}
	}
}

func (notifier *Notifier) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case notifier.events <- event:
				case <-notifier.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case notifier.errors <- err:
				case <-notifier.done:
					return
				}
			case <-notifier.done:
				return
			}
		}
	}()
}

// SetErrorHandler configures a callback for unrecoverable notifier failures.
func (notifier *Notifier) SetErrorHandler(handler func(error)) {
	if notifier == nil {
		return
	}
	notifier.mutex.Lock()
	notifier.errorHandler = handler
	notifier.mutex.Unlock()
}

// Stats reports current notifier counters.
func (notifier *Notifier) Stats() Stats {
	if notifier == nil {
		return Stats{}
	}
	notifier.mutex.Lock()
	active := notifier.activeWatches
	notifier.mutex.Unlock()
	notifier.restartMutex.Lock()
	restartAttempts := notifier.restartAttempts
	notifier.restartMutex.Unlock()
	return Stats{
		ActiveWatches:   active,
		Delivered:       atomic.LoadUint64(&notifier.delivered),
		Coalesced:       atomic.LoadUint64(&notifier.coalesced),
		Errors:          atomic.LoadUint64(&notifier.errorCount),
		RestartAttempts: restartAttempts,
	}
}

func (notifier *Notifier) logWarn(message string, fields map[string]string) {
	if notifier == nil || notifier.logger == nil {
		return
	}
	notifier.logger.Warn(message, withNotifyFields(fields))
}

func (notifier *Notifier) logDebug(message, path string, activeCount int) {
	if notifier == nil || notifier.logger == nil {
		return
	}
	fields := map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	}
	notifier.logger.Debug(message, withNotifyFields(fields))
}

func withNotifyFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["component"] = "notify"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
