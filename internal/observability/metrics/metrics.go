package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "safeflame_"

	resultSuccess = "success"
	resultError   = "error"
	resultTimeout = "timeout"
	resultPanic   = "panic"
	resultDropped = "dropped"
)

var (
	registerOnce sync.Once

	ticksTotal  prometheus.Counter
	tickLatency prometheus.Histogram

	alertsTotal     *prometheus.CounterVec
	suppressedTotal *prometheus.CounterVec
	zoneState       *prometheus.GaugeVec

	sinkDeliveries *prometheus.CounterVec
	sinkDropped    *prometheus.CounterVec
	sinkLatency    *prometheus.HistogramVec

	adviceTotal *prometheus.CounterVec
	framesTotal *prometheus.CounterVec

	settingsUpdates *prometheus.CounterVec
)

// Init registers collectors. The archive gauge is only registered when db is set.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ticksTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ticks_total",
				Help: "Total zone ticks evaluated",
			},
		)
		tickLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Frame tick latency in seconds",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Total alerts emitted by kind",
			},
			[]string{"kind"},
		)
		suppressedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_suppressed_total",
				Help: "Total alerts suppressed by cooldown, by kind",
			},
			[]string{"kind"},
		)
		zoneState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "zone_state",
				Help: "Escalation ladder rank per zone (0 monitoring .. 4 critical)",
			},
			[]string{"zone"},
		)
		sinkDeliveries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_deliveries_total",
				Help: "Total sink deliveries by sink and result",
			},
			[]string{"sink", "result"},
		)
		sinkDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_dropped_total",
				Help: "Events evicted from a full sink queue",
			},
			[]string{"sink"},
		)
		sinkLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sink_latency_seconds",
				Help:    "Sink delivery latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		)
		adviceTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "advice_total",
				Help: "Total advice produced by source",
			},
			[]string{"source"},
		)
		framesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "frames_total",
				Help: "Total frames received by source and result",
			},
			[]string{"source", "result"},
		)
		settingsUpdates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settings_updates_total",
				Help: "Total runtime settings updates by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ticksTotal,
			tickLatency,
			alertsTotal,
			suppressedTotal,
			zoneState,
			sinkDeliveries,
			sinkDropped,
			sinkLatency,
			adviceTotal,
			framesTotal,
			settingsUpdates,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveTick records one frame tick over count zones.
func ObserveTick(zones int, duration time.Duration) {
	if ticksTotal != nil && zones > 0 {
		ticksTotal.Add(float64(zones))
	}
	if tickLatency != nil {
		tickLatency.Observe(duration.Seconds())
	}
}

// IncAlert increments the emitted alert counter.
func IncAlert(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(kind).Inc()
	}
}

// IncSuppressed increments the cooldown suppression counter.
func IncSuppressed(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if suppressedTotal != nil {
		suppressedTotal.WithLabelValues(kind).Inc()
	}
}

// SetZoneState publishes the ladder rank of a zone.
func SetZoneState(zone string, rank int) {
	if zoneState != nil && zone != "" {
		zoneState.WithLabelValues(zone).Set(float64(rank))
	}
}

// ResetZoneStates drops every per-zone series, used after a zone set swap.
func ResetZoneStates() {
	if zoneState != nil {
		zoneState.Reset()
	}
}

// ObserveSinkDelivery records a delivery attempt.
func ObserveSinkDelivery(sink, result string, duration time.Duration) {
	if sink == "" {
		sink = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if sinkDeliveries != nil {
		sinkDeliveries.WithLabelValues(sink, result).Inc()
	}
	if sinkLatency != nil {
		sinkLatency.WithLabelValues(sink).Observe(duration.Seconds())
	}
}

// IncSinkDropped counts an event evicted from a sink queue.
func IncSinkDropped(sink string) {
	if sink == "" {
		sink = "unknown"
	}
	if sinkDropped != nil {
		sinkDropped.WithLabelValues(sink).Inc()
	}
}

// IncAdvice counts produced advice by source.
func IncAdvice(source string) {
	if source == "" {
		source = "unknown"
	}
	if adviceTotal != nil {
		adviceTotal.WithLabelValues(source).Inc()
	}
}

// IncFrame counts a received frame.
func IncFrame(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if framesTotal != nil {
		framesTotal.WithLabelValues(source, result).Inc()
	}
}

// IncSettingsUpdate counts runtime settings updates.
func IncSettingsUpdate(result string) {
	if result == "" {
		result = resultSuccess
	}
	if settingsUpdates != nil {
		settingsUpdates.WithLabelValues(result).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultTimeout = resultTimeout
	ResultPanic   = resultPanic
	ResultDropped = resultDropped
)
