// Package event fans watcher statuses out to in-process subscribers:
// the websocket and SSE streams, and anything else the host wires up.
package event

import (
	"sync"
	"sync/atomic"

	"vigil/internal/buffer"
	"vigil/internal/metrics"
	"vigil/internal/status"
)

const defaultChannelSize = 128

type Options struct {
	// Name labels the bus in metrics.
	Name string
	// ChannelSize is the per-subscriber channel capacity.
	ChannelSize int
	// MaxSubscribers caps concurrent subscriptions; zero means unlimited.
	MaxSubscribers int
	// HistorySize bounds the retained status history for replay.
	HistorySize int
	Registry    *metrics.Registry
}

// Bus delivers every published status to all current subscribers without
// ever blocking the publisher: a subscriber whose channel is full loses
// that status, counted as a drop. Recent statuses are kept in a bounded
// history so late subscribers can replay what they missed.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]busSubscriber
	nextID  uint64
	closed  bool
	history *buffer.Window[status.Status]

	opts     Options
	registry *metrics.Registry
	dropped  atomic.Int64
}

type busSubscriber struct {
	ch   chan status.Status
	keep func(status.Status) bool
}

func NewBus(opts Options) *Bus {
	if opts.Name == "" {
		opts.Name = "statuses"
	}
	if opts.ChannelSize <= 0 {
		opts.ChannelSize = defaultChannelSize
	}
	bus := &Bus{
		subs:     make(map[uint64]busSubscriber),
		opts:     opts,
		registry: opts.Registry,
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewWindow[status.Status](opts.HistorySize, false)
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	return bus
}

// Subscribe returns a channel receiving every published status and a
// cancel func. Cancel is safe to call more than once.
func (b *Bus) Subscribe() (<-chan status.Status, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered is Subscribe with a per-subscriber predicate; only
// statuses for which keep returns true are delivered.
func (b *Bus) SubscribeFiltered(keep func(status.Status) bool) (<-chan status.Status, func()) {
	if b == nil {
		return closedStatusChan(), func() {}
	}

	b.mu.Lock()
	if b.closed || (b.opts.MaxSubscribers > 0 && len(b.subs) >= b.opts.MaxSubscribers) {
		b.mu.Unlock()
		return closedStatusChan(), func() {}
	}
	b.nextID++
	id := b.nextID
	ch := make(chan status.Status, b.opts.ChannelSize)
	b.subs[id] = busSubscriber{ch: ch, keep: keep}
	filtered, unfiltered := b.subscriberCountsLocked()
	b.mu.Unlock()

	b.registry.SetEventSubscriberCounts(b.opts.Name, filtered, unfiltered)
	return ch, func() { b.unsubscribe(id) }
}

// SubscribeMin delivers only statuses at or above min.
func (b *Bus) SubscribeMin(min status.Severity) (<-chan status.Status, func()) {
	if min <= status.Any {
		return b.Subscribe()
	}
	return b.SubscribeFiltered(func(entry status.Status) bool {
		return entry.Severity.AtLeast(min)
	})
}

// Publish records entry in the history and offers it to every
// subscriber. Sends never block; full subscribers drop the status.
func (b *Bus) Publish(entry status.Status) {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.history != nil {
		b.history.Add(entry)
	}
	severity := entry.Severity.String()
	for _, sub := range b.subs {
		if sub.keep != nil && !sub.keep(entry) {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			b.dropped.Add(1)
			b.registry.IncEventDropped(b.opts.Name, severity)
		}
	}
	b.mu.Unlock()

	b.registry.IncEventPublished(b.opts.Name, severity)
}

// History returns a copy of the retained statuses, oldest first.
func (b *Bus) History() []status.Status {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.history == nil {
		return nil
	}
	return b.history.Snapshot()
}

func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped reports how many statuses were lost to full subscribers.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes and
// subscriptions are no-ops; Close is idempotent.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]busSubscriber)
	for _, sub := range subs {
		close(sub.ch)
	}
	b.mu.Unlock()

	b.registry.SetEventSubscriberCounts(b.opts.Name, 0, 0)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub.ch)
	}
	filtered, unfiltered := b.subscriberCountsLocked()
	b.mu.Unlock()

	if ok {
		b.registry.SetEventSubscriberCounts(b.opts.Name, filtered, unfiltered)
	}
}

func (b *Bus) subscriberCountsLocked() (filtered, unfiltered int) {
	for _, sub := range b.subs {
		if sub.keep == nil {
			unfiltered++
		} else {
			filtered++
		}
	}
	return filtered, unfiltered
}

func closedStatusChan() chan status.Status {
	ch := make(chan status.Status)
	close(ch)
	return ch
}
