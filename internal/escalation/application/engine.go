package application

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	escalation "safeflame/internal/escalation/domain"
	"safeflame/internal/observability/metrics"
)

// AlertRecorder keeps emitted alerts for replay.
type AlertRecorder interface {
	Record(alert escalation.Alert)
}

// Engine runs one escalation state machine per zone. The registry and the
// state table share one mutex so a zone swap never interleaves with a tick.
type Engine struct {
	mu        sync.Mutex
	zones     []escalation.Zone
	states    map[string]*escalation.ZoneState
	overrides map[string]bool

	// generation changes on every registry swap.
	generation uint64

	settings SettingsProvider
	cooldown *Cooldown
	recorder AlertRecorder
	newID    func() string
	clock    Clock
	logger   *zap.Logger
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithAlertRecorder records every emitted alert.
func WithAlertRecorder(recorder AlertRecorder) EngineOption {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(next func() string) EngineOption {
	return func(e *Engine) {
		if next != nil {
			e.newID = next
		}
	}
}

// WithClock assigns the clock used for snapshots.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithZones seeds the zone registry.
func WithZones(zones []escalation.Zone) EngineOption {
	return func(e *Engine) {
		e.zones = append([]escalation.Zone(nil), zones...)
	}
}

// NewEngine constructs an engine reading settings from provider.
func NewEngine(provider SettingsProvider, opts ...EngineOption) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("escalation: nil settings provider")
	}
	current := provider.Current()
	e := &Engine{
		states:    make(map[string]*escalation.ZoneState),
		overrides: make(map[string]bool),
		settings:  provider,
		cooldown:  NewCooldown(current.Cooldown),
		newID:     uuid.NewString,
		clock:     systemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := escalation.ValidateZoneSet(e.zones); err != nil {
		return nil, err
	}
	for _, zone := range e.zones {
		state := escalation.NewZoneState(zone.Name)
		e.states[zone.Name] = &state
	}
	return e, nil
}

type transition struct {
	zone string
	from escalation.BurnerState
	to   escalation.BurnerState
}

// Tick advances a single zone. Unknown zone names start fresh at MONITORING.
func (e *Engine) Tick(zone string, reading escalation.HazardReading, now time.Time) []escalation.Alert {
	if e == nil {
		return nil
	}
	started := time.Now()
	settings := e.settings.Current()

	e.mu.Lock()
	e.cooldown.SetWindow(settings.Cooldown)
	alerts, moved := e.tickLocked(zone, reading, now, settings)
	e.mu.Unlock()

	e.afterTick(alerts, moved)
	metrics.ObserveTick(1, time.Since(started))
	return alerts
}

// AnalyzeFunc derives per-zone readings from a registry snapshot.
type AnalyzeFunc func(zones []escalation.Zone) map[string]escalation.HazardReading

const analyzeAttempts = 3

// TickFrame advances every known zone with one frame's readings. Registered
// zones come first in configured order, then any other known or newly named
// zone in name order. Zones without a reading are ticked with an all-clear
// reading.
func (e *Engine) TickFrame(readings map[string]escalation.HazardReading, now time.Time) []escalation.Alert {
	if e == nil {
		return nil
	}
	started := time.Now()
	settings := e.settings.Current()

	e.mu.Lock()
	alerts, moved, count := e.tickFrameLocked(readings, now, settings)
	e.mu.Unlock()

	e.afterTick(alerts, moved)
	metrics.ObserveTick(count, time.Since(started))
	return alerts
}

// TickFrameFunc analyzes a frame against the registry and ticks it as one
// unit. analyze runs without the engine lock; when the registry is swapped
// meanwhile the analysis is repeated against the new zones. After
// analyzeAttempts swaps in a row, readings for names outside the current
// registry are discarded.
func (e *Engine) TickFrameFunc(analyze AnalyzeFunc, now time.Time) []escalation.Alert {
	if e == nil || analyze == nil {
		return nil
	}
	started := time.Now()
	settings := e.settings.Current()

	for attempt := 1; ; attempt++ {
		e.mu.Lock()
		zones := append([]escalation.Zone(nil), e.zones...)
		generation := e.generation
		e.mu.Unlock()

		readings := analyze(zones)

		e.mu.Lock()
		if e.generation != generation {
			if attempt < analyzeAttempts {
				e.mu.Unlock()
				continue
			}
			readings = e.registeredReadingsLocked(readings)
		}
		alerts, moved, count := e.tickFrameLocked(readings, now, settings)
		e.mu.Unlock()

		e.afterTick(alerts, moved)
		metrics.ObserveTick(count, time.Since(started))
		return alerts
	}
}

func (e *Engine) registeredReadingsLocked(readings map[string]escalation.HazardReading) map[string]escalation.HazardReading {
	kept := make(map[string]escalation.HazardReading, len(readings))
	for _, zone := range e.zones {
		if reading, ok := readings[zone.Name]; ok {
			kept[zone.Name] = reading
		}
	}
	return kept
}

func (e *Engine) tickFrameLocked(readings map[string]escalation.HazardReading, now time.Time, settings escalation.Settings) ([]escalation.Alert, []transition, int) {
	e.cooldown.SetWindow(settings.Cooldown)
	var (
		alerts []escalation.Alert
		moved  []transition
	)
	registered := make(map[string]struct{}, len(e.zones))
	for _, zone := range e.zones {
		registered[zone.Name] = struct{}{}
		zoneAlerts, zoneMoved := e.tickLocked(zone.Name, readings[zone.Name], now, settings)
		alerts = append(alerts, zoneAlerts...)
		moved = append(moved, zoneMoved...)
	}
	extra := make([]string, 0)
	for name := range e.states {
		if _, ok := registered[name]; !ok {
			extra = append(extra, name)
		}
	}
	for name := range readings {
		if _, ok := registered[name]; ok {
			continue
		}
		if _, ok := e.states[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		zoneAlerts, zoneMoved := e.tickLocked(name, readings[name], now, settings)
		alerts = append(alerts, zoneAlerts...)
		moved = append(moved, zoneMoved...)
	}
	return alerts, moved, len(e.zones) + len(extra)
}

func (e *Engine) tickLocked(zone string, reading escalation.HazardReading, now time.Time, settings escalation.Settings) ([]escalation.Alert, []transition) {
	st, ok := e.states[zone]
	if !ok {
		fresh := escalation.NewZoneState(zone)
		st = &fresh
		e.states[zone] = st
	}
	if settings.AssumeBurnersActive || e.overrides[zone] {
		reading.FlamePresent = true
	}
	st.LastHazard = reading
	st.LastTick = now

	var alerts []escalation.Alert
	emit := func(kind escalation.AlertKind, detail escalation.AlertDetail) {
		if !e.cooldown.Allow(kind, zone, now) {
			metrics.IncSuppressed(string(kind))
			return
		}
		alerts = append(alerts, escalation.NewAlert(e.newID(), kind, zone, now, detail))
	}

	prev := st.State
	advance(st, reading, now, settings, emit)

	if reading.SmokePresent {
		emit(escalation.KindSmoke, escalation.AlertDetail{})
	}
	if reading.BoiloverPresent {
		emit(escalation.KindBoilover, escalation.AlertDetail{})
	}
	if reading.FlammableNearby {
		emit(escalation.KindProximity, escalation.AlertDetail{Object: reading.FlammableObject})
	}

	var moved []transition
	if st.State != prev {
		moved = append(moved, transition{zone: zone, from: prev, to: st.State})
	}
	return alerts, moved
}

// advance applies the ladder transitions in their fixed order. Flame loss is
// checked first so stale timers never climb.
func advance(st *escalation.ZoneState, reading escalation.HazardReading, now time.Time, settings escalation.Settings, emit func(escalation.AlertKind, escalation.AlertDetail)) {
	prev := st.State
	if !reading.FlamePresent {
		st.Reset()
		return
	}
	if st.State == escalation.StateMonitoring {
		st.State = escalation.StateActiveAttended
		st.FlameSince = now
	}
	if st.FlameSince.IsZero() {
		st.FlameSince = now
	}
	if reading.PersonPresent {
		st.State = escalation.StateActiveAttended
		st.UnattendedSince = time.Time{}
		return
	}
	if st.UnattendedSince.IsZero() {
		st.UnattendedSince = now
	}
	elapsed := st.UnattendedFor(now)
	detail := escalation.AlertDetail{Unattended: elapsed}

	if st.State == escalation.StateActiveAttended && elapsed >= settings.InfoAfter {
		st.State = escalation.StateUnattendedInfo
		emit(escalation.KindUnattendedInfo, detail)
	}
	if st.State == escalation.StateUnattendedInfo && elapsed >= settings.WarningAfter {
		st.State = escalation.StateUnattendedWarning
		emit(escalation.KindUnattendedWarning, detail)
	}
	if st.State == escalation.StateUnattendedWarning && elapsed >= settings.CriticalAfter {
		st.State = escalation.StateUnattendedCritical
		emit(escalation.KindUnattendedCritical, detail)
		return
	}
	// Sustained CRITICAL keeps reminding, one per cooldown window.
	if prev == escalation.StateUnattendedCritical && st.State == escalation.StateUnattendedCritical {
		emit(escalation.KindUnattendedCritical, detail)
	}
}

func (e *Engine) afterTick(alerts []escalation.Alert, moved []transition) {
	for _, change := range moved {
		metrics.SetZoneState(change.zone, change.to.Rank())
		e.logger.Info("zone state changed",
			zap.String("zone", change.zone),
			zap.String("from", string(change.from)),
			zap.String("to", string(change.to)),
		)
	}
	for _, alert := range alerts {
		metrics.IncAlert(string(alert.Kind))
		if e.recorder != nil {
			e.recorder.Record(alert)
		}
		e.logger.Debug("alert emitted",
			zap.String("id", alert.ID),
			zap.String("kind", string(alert.Kind)),
			zap.String("zone", alert.Zone),
		)
	}
}

// ReplaceZones swaps the whole zone set atomically and resets every zone to MONITORING.
func (e *Engine) ReplaceZones(zones []escalation.Zone) error {
	if e == nil {
		return errors.New("escalation: nil engine")
	}
	if err := escalation.ValidateZoneSet(zones); err != nil {
		return err
	}
	next := append([]escalation.Zone(nil), zones...)
	states := make(map[string]*escalation.ZoneState, len(next))
	for _, zone := range next {
		state := escalation.NewZoneState(zone.Name)
		states[zone.Name] = &state
	}

	e.mu.Lock()
	overrides := make(map[string]bool)
	for name, active := range e.overrides {
		if _, ok := states[name]; ok && active {
			overrides[name] = true
		}
	}
	e.zones = next
	e.states = states
	e.overrides = overrides
	e.generation++
	e.mu.Unlock()

	metrics.ResetZoneStates()
	for _, zone := range next {
		metrics.SetZoneState(zone.Name, 0)
	}
	e.logger.Info("zone set replaced", zap.Int("zones", len(next)))
	return nil
}

// Zones returns a copy of the registry in configured order.
func (e *Engine) Zones() []escalation.Zone {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]escalation.Zone(nil), e.zones...)
}

// State returns a copy of one zone's record.
func (e *Engine) State(zone string) (escalation.ZoneState, bool) {
	if e == nil {
		return escalation.ZoneState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[zone]
	if !ok {
		return escalation.ZoneState{}, false
	}
	return *st, true
}

// SetOverride forces a registered zone to be treated as lit. Clearing an
// override returns the zone to MONITORING.
func (e *Engine) SetOverride(zone string, active bool) error {
	if e == nil {
		return errors.New("escalation: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setOverrideLocked(zone, active)
}

func (e *Engine) setOverrideLocked(zone string, active bool) error {
	if !e.registeredLocked(zone) {
		return escalation.ErrUnknownZone
	}
	if active {
		e.overrides[zone] = true
		return nil
	}
	delete(e.overrides, zone)
	if st, ok := e.states[zone]; ok {
		st.Reset()
	}
	return nil
}

// ToggleOverride flips the override of a zone and returns the new value.
func (e *Engine) ToggleOverride(zone string) (bool, error) {
	if e == nil {
		return false, errors.New("escalation: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	active := !e.overrides[zone]
	if err := e.setOverrideLocked(zone, active); err != nil {
		return false, err
	}
	return active, nil
}

func (e *Engine) registeredLocked(zone string) bool {
	for _, z := range e.zones {
		if z.Name == zone {
			return true
		}
	}
	return false
}

// Snapshot returns a consistent read-only view of every zone.
func (e *Engine) Snapshot() Status {
	if e == nil {
		return Status{}
	}
	settings := e.settings.Current()
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	status := Status{
		At:              now,
		Profile:         settings.Profile,
		SettingsVersion: settings.Version,
		Zones:           make([]ZoneStatus, 0, len(e.states)),
	}
	seen := make(map[string]struct{}, len(e.zones))
	for _, zone := range e.zones {
		zone := zone
		seen[zone.Name] = struct{}{}
		status.Zones = append(status.Zones, e.zoneStatusLocked(zone.Name, &zone, now))
	}
	extra := make([]string, 0)
	for name := range e.states {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		status.Zones = append(status.Zones, e.zoneStatusLocked(name, nil, now))
	}
	return status
}

func (e *Engine) zoneStatusLocked(name string, bounds *escalation.Zone, now time.Time) ZoneStatus {
	view := ZoneStatus{
		Name:     name,
		Bounds:   bounds,
		State:    escalation.StateMonitoring,
		Override: e.overrides[name],
	}
	st, ok := e.states[name]
	if !ok {
		return view
	}
	view.State = st.State
	view.LastHazard = st.LastHazard
	if !st.FlameSince.IsZero() {
		since := st.FlameSince
		view.FlameSince = &since
	}
	if !st.UnattendedSince.IsZero() {
		since := st.UnattendedSince
		view.UnattendedSince = &since
		view.UnattendedSeconds = st.UnattendedFor(now).Seconds()
	}
	return view
}
