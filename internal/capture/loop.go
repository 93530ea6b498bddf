package capture

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
	hazards "safeflame/internal/hazards/domain"
	"safeflame/internal/observability/metrics"
)

// Engine is the escalation engine as seen by the capture loop.
type Engine interface {
	TickFrameFunc(analyze application.AnalyzeFunc, now time.Time) []escalation.Alert
	Snapshot() application.Status
}

// Analyzer turns a frame into per-zone readings.
type Analyzer interface {
	Readings(frame hazards.Frame, zones []escalation.Zone) map[string]escalation.HazardReading
}

// Publisher accepts outbound events without blocking.
type Publisher interface {
	Publish(event application.Event)
}

// Loop is the single producer driving the engine. Frames arrive from any
// number of ingest goroutines through a bounded queue and are ticked in order.
type Loop struct {
	queue          chan hazards.Frame
	engine         Engine
	analyzer       Analyzer
	publisher      Publisher
	clock          application.Clock
	statusInterval time.Duration
	logger         *zap.Logger

	last time.Time
}

// Option customizes the loop.
type Option func(*Loop)

// WithQueueSize bounds the pending frame queue.
func WithQueueSize(size int) Option {
	return func(l *Loop) {
		if size > 0 {
			l.queue = make(chan hazards.Frame, size)
		}
	}
}

// WithStatusInterval sets how often a status snapshot is published. Zero disables it.
func WithStatusInterval(interval time.Duration) Option {
	return func(l *Loop) {
		l.statusInterval = interval
	}
}

// WithClock stamps frames that arrive without a timestamp.
func WithClock(clock application.Clock) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop constructs a capture loop.
func NewLoop(engine Engine, analyzer Analyzer, publisher Publisher, opts ...Option) (*Loop, error) {
	if engine == nil {
		return nil, errors.New("capture loop: nil engine")
	}
	if analyzer == nil {
		return nil, errors.New("capture loop: nil analyzer")
	}
	if publisher == nil {
		return nil, errors.New("capture loop: nil publisher")
	}
	l := &Loop{
		queue:          make(chan hazards.Frame, 64),
		engine:         engine,
		analyzer:       analyzer,
		publisher:      publisher,
		clock:          application.SystemClock(),
		statusInterval: time.Second,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Submit enqueues a frame. It never blocks; a full queue drops the frame.
func (l *Loop) Submit(frame hazards.Frame) bool {
	if frame.Source == "" {
		frame.Source = "unknown"
	}
	select {
	case l.queue <- frame:
		return true
	default:
		metrics.IncFrame(frame.Source, metrics.ResultDropped)
		l.logger.Debug("frame queue full, dropping frame", zap.String("source", frame.Source))
		return false
	}
}

// Pending reports queued frames.
func (l *Loop) Pending() int {
	return len(l.queue)
}

// Run processes frames until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	var statusC <-chan time.Time
	if l.statusInterval > 0 {
		ticker := time.NewTicker(l.statusInterval)
		defer ticker.Stop()
		statusC = ticker.C
	}
	l.logger.Info("capture loop started", zap.Duration("status_interval", l.statusInterval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("capture loop stopped")
			return nil
		case frame := <-l.queue:
			l.process(frame)
		case <-statusC:
			l.publisher.Publish(application.StatusEvent(l.engine.Snapshot()))
		}
	}
}

// process ticks the engine with one frame. Frame times never go backwards.
func (l *Loop) process(frame hazards.Frame) []escalation.Alert {
	at := frame.At
	if at.IsZero() {
		at = l.clock.Now()
	}
	if at.Before(l.last) {
		at = l.last
	}
	l.last = at

	alerts := l.engine.TickFrameFunc(func(zones []escalation.Zone) map[string]escalation.HazardReading {
		return l.analyzer.Readings(frame, zones)
	}, at)
	for _, alert := range alerts {
		l.publisher.Publish(application.AlertEvent(alert))
	}
	metrics.IncFrame(frame.Source, metrics.ResultSuccess)
	return alerts
}
