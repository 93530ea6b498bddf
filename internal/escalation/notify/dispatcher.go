package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"safeflame/internal/escalation/application"
	"safeflame/internal/observability/metrics"
)

// Sink consumes outbound events. Each sink runs on its own goroutine.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event application.Event) error
}

// QueueStats describes one sink queue.
type QueueStats struct {
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
}

type sinkQueue struct {
	sink  Sink
	types map[string]struct{}
	limit int

	mu      sync.Mutex
	items   []application.Event
	dropped uint64
	wake    chan struct{}
}

func (q *sinkQueue) accepts(eventType string) bool {
	if len(q.types) == 0 {
		return true
	}
	_, ok := q.types[eventType]
	return ok
}

// push appends the event, evicting the oldest pending one when full.
func (q *sinkQueue) push(event application.Event) bool {
	q.mu.Lock()
	evicted := false
	if len(q.items) >= q.limit {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, event)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return evicted
}

func (q *sinkQueue) pop() (application.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return application.Event{}, false
	}
	event := q.items[0]
	q.items[0] = application.Event{}
	q.items = q.items[1:]
	return event, true
}

func (q *sinkQueue) stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{Pending: len(q.items), Dropped: q.dropped}
}

// Dispatcher fans events out to sinks through bounded per-sink queues.
// Publish never blocks; a slow or failing sink only affects its own queue.
type Dispatcher struct {
	mu        sync.RWMutex
	queues    []*sinkQueue
	queueSize int
	timeout   time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds each sink queue.
func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithSinkTimeout bounds each delivery.
func WithSinkTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queueSize: 32,
		timeout:   10 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a sink receiving the given event types, or all types when none are given.
// Sinks must be registered before Start.
func (d *Dispatcher) Register(sink Sink, eventTypes ...string) error {
	if d == nil {
		return errors.New("dispatcher: nil dispatcher")
	}
	if sink == nil {
		return errors.New("dispatcher: nil sink")
	}
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return errors.New("dispatcher: already started")
	}
	for _, q := range d.queues {
		if q.sink.Name() == sink.Name() {
			return fmt.Errorf("dispatcher: duplicate sink %q", sink.Name())
		}
	}
	d.queues = append(d.queues, &sinkQueue{
		sink:  sink,
		types: types,
		limit: d.queueSize,
		wake:  make(chan struct{}, 1),
	})
	return nil
}

// Start launches one worker per sink.
func (d *Dispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	queues := append([]*sinkQueue(nil), d.queues...)
	d.mu.Unlock()

	for _, q := range queues {
		d.wg.Add(1)
		go d.run(ctx, q)
	}
}

// Close stops workers and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Publish enqueues the event on every interested sink.
func (d *Dispatcher) Publish(event application.Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, q := range d.queues {
		if !q.accepts(event.Type) {
			continue
		}
		if q.push(event) {
			metrics.IncSinkDropped(q.sink.Name())
			d.logger.Debug("sink queue full, dropped oldest", zap.String("sink", q.sink.Name()))
		}
	}
}

// Stats reports queue depth and drops per sink.
func (d *Dispatcher) Stats() map[string]QueueStats {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]QueueStats, len(d.queues))
	for _, q := range d.queues {
		out[q.sink.Name()] = q.stats()
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, q *sinkQueue) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
		for {
			if ctx.Err() != nil {
				return
			}
			event, ok := q.pop()
			if !ok {
				break
			}
			d.deliver(ctx, q.sink, event)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, event application.Event) {
	name := sink.Name()
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveSinkDelivery(name, metrics.ResultPanic, time.Since(started))
			d.logger.Error("sink panicked", zap.String("sink", name), zap.Any("panic", r))
		}
	}()

	err := sink.Deliver(ctx, event)
	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result = metrics.ResultTimeout
	default:
		result = metrics.ResultError
	}
	metrics.ObserveSinkDelivery(name, result, time.Since(started))
	if err != nil {
		d.logger.Warn("sink delivery failed",
			zap.String("sink", name),
			zap.String("event", event.Type),
			zap.Error(err),
		)
	}
}
