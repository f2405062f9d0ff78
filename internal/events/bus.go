package events

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// DefaultBufferSize is the subscriber buffer used when Subscribe is given 0.
const DefaultBufferSize = 64

// ErrBusClosed is returned by Publish once the bus has been closed.
var ErrBusClosed = errors.New("event bus is closed")

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers. It never blocks on
	// slow subscribers and fails only when the bus is closed.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a subscriber until the returned cleanup function is
	// called or ctx is done, whichever comes first. Either closes the channel.
	// bufferSize 0 uses DefaultBufferSize.
	Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func())

	// Close shuts down the bus and closes every subscriber channel.
	Close() error
}

// MetricsRecorder receives bus activity counters.
type MetricsRecorder interface {
	RecordEventPublished(eventType string, subscriberCount int)
	RecordEventDropped(eventType string, subscriberID string)
}

// DefaultEventBus fans events out to buffered subscriber channels. A
// subscriber whose buffer is full loses the event; the others still get it.
type DefaultEventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	logger  *slog.Logger
	metrics MetricsRecorder
}

type subscriber struct {
	ch     chan Event
	filter Filter
	// stop detaches the context watcher.
	stop func() bool
}

// Option configures a DefaultEventBus.
type Option func(*DefaultEventBus)

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(eb *DefaultEventBus) {
		if recorder != nil {
			eb.metrics = recorder
		}
	}
}

// WithLogger sets the logger that reports dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(eb *DefaultEventBus) {
		if logger != nil {
			eb.logger = logger
		}
	}
}

// NewEventBus creates a DefaultEventBus.
func NewEventBus(opts ...Option) *DefaultEventBus {
	eb := &DefaultEventBus{
		subs:    make(map[uint64]*subscriber),
		logger:  slog.Default(),
		metrics: noopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(eb)
	}
	return eb
}

// Publish implements EventBus.
func (eb *DefaultEventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return ErrBusClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	delivered := 0
	for id, sub := range eb.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			eb.metrics.RecordEventDropped(string(event.Type), strconv.FormatUint(id, 10))
			eb.logger.WarnContext(ctx, "dropped event for slow subscriber",
				"subscriber", id,
				"event_type", event.Type,
				"mission_id", event.MissionID,
			)
		}
	}

	eb.metrics.RecordEventPublished(string(event.Type), delivered)
	return nil
}

// Subscribe implements EventBus. Subscribing to a closed bus returns a closed
// channel.
func (eb *DefaultEventBus) Subscribe(ctx context.Context, filter Filter, bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	eb.nextID++
	id := eb.nextID
	sub := &subscriber{ch: make(chan Event, bufferSize), filter: filter}
	eb.subs[id] = sub
	sub.stop = context.AfterFunc(ctx, func() { eb.unsubscribe(id) })

	return sub.ch, func() { eb.unsubscribe(id) }
}

func (eb *DefaultEventBus) unsubscribe(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	sub, ok := eb.subs[id]
	if !ok {
		return
	}
	delete(eb.subs, id)
	sub.stop()
	close(sub.ch)
}

// Close implements EventBus. It is idempotent.
func (eb *DefaultEventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return nil
	}
	eb.closed = true
	for id, sub := range eb.subs {
		delete(eb.subs, id)
		sub.stop()
		close(sub.ch)
	}
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (eb *DefaultEventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordEventPublished(string, int)  {}
func (noopMetricsRecorder) RecordEventDropped(string, string) {}

var _ EventBus = (*DefaultEventBus)(nil)
