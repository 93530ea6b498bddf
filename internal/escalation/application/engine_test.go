package application

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	escalation "safeflame/internal/escalation/domain"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type sliceRecorder struct {
	mu     sync.Mutex
	alerts []escalation.Alert
}

func (r *sliceRecorder) Record(alert escalation.Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, alert)
	r.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("alert-%d", n)
	}
}

var (
	base       = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	unattended = escalation.HazardReading{FlamePresent: true}
	attended   = escalation.HazardReading{FlamePresent: true, PersonPresent: true}
	flameOff   = escalation.HazardReading{}
)

func at(seconds int) time.Time {
	return base.Add(time.Duration(seconds) * time.Second)
}

func newTestEngine(t *testing.T, settings escalation.Settings, opts ...EngineOption) (*Engine, *SettingsStore) {
	t.Helper()
	store, err := NewSettingsStore(settings)
	require.NoError(t, err)
	opts = append([]EngineOption{WithIDGenerator(sequentialIDs()), WithClock(fakeClock{now: base})}, opts...)
	engine, err := NewEngine(store, opts...)
	require.NoError(t, err)
	return engine, store
}

func kinds(alerts []escalation.Alert) []escalation.AlertKind {
	out := make([]escalation.AlertKind, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, alert.Kind)
	}
	return out
}

func TestEngineFrontLeftScenario(t *testing.T) {
	engine, _ := newTestEngine(t, escalation.DefaultSettings())

	alerts := engine.Tick("Front Left", unattended, at(0))
	assert.Empty(t, alerts)
	st, ok := engine.State("Front Left")
	require.True(t, ok)
	assert.Equal(t, escalation.StateActiveAttended, st.State)
	assert.Equal(t, at(0), st.FlameSince)

	alerts = engine.Tick("Front Left", unattended, at(60))
	require.Len(t, alerts, 1)
	assert.Equal(t, escalation.KindUnattendedInfo, alerts[0].Kind)
	assert.Equal(t, "Front Left", alerts[0].Zone)
	assert.Equal(t, escalation.SeverityInfo, alerts[0].Severity)
	st, _ = engine.State("Front Left")
	assert.Equal(t, escalation.StateUnattendedInfo, st.State)

	alerts = engine.Tick("Front Left", attended, at(65))
	assert.Empty(t, alerts)
	st, _ = engine.State("Front Left")
	assert.Equal(t, escalation.StateActiveAttended, st.State)
	assert.True(t, st.UnattendedSince.IsZero())
	assert.Equal(t, at(0), st.FlameSince)
}

func TestEngineDemoScenarioWithReminder(t *testing.T) {
	settings := escalation.DemoSettings()
	settings.AssumeBurnersActive = false
	settings.Cooldown = 60 * time.Second
	engine, _ := newTestEngine(t, settings)

	assert.Empty(t, engine.Tick("Back", unattended, at(0)))
	assert.Equal(t, []escalation.AlertKind{escalation.KindUnattendedInfo}, kinds(engine.Tick("Back", unattended, at(10))))
	assert.Equal(t, []escalation.AlertKind{escalation.KindUnattendedWarning}, kinds(engine.Tick("Back", unattended, at(30))))
	critical := engine.Tick("Back", unattended, at(60))
	require.Equal(t, []escalation.AlertKind{escalation.KindUnattendedCritical}, kinds(critical))
	assert.Equal(t, "CRITICAL: Back has been unattended for over 60s! Turn off the burner immediately.", critical[0].Message)
	assert.Empty(t, engine.Tick("Back", unattended, at(90)))
	assert.Equal(t, []escalation.AlertKind{escalation.KindUnattendedCritical}, kinds(engine.Tick("Back", unattended, at(130))))
}

func TestEngineSustainedCriticalEmitsOncePerWindow(t *testing.T) {
	settings := escalation.DemoSettings()
	settings.AssumeBurnersActive = false
	settings.Cooldown = 60 * time.Second
	engine, _ := newTestEngine(t, settings)

	engine.Tick("z", unattended, at(0))
	engine.Tick("z", unattended, at(60))
	criticals := 0
	// 1000 ticks, 100ms apart, starting just after the CRITICAL edge.
	for i := 1; i <= 1000; i++ {
		now := at(60).Add(time.Duration(i) * 100 * time.Millisecond)
		for _, alert := range engine.Tick("z", unattended, now) {
			if alert.Kind == escalation.KindUnattendedCritical {
				criticals++
			}
		}
	}
	// 100s of ticks after the edge with a 60s window: one reminder at +60s.
	assert.Equal(t, 1, criticals)
}

func TestEngineImmediateRecoveryFromEveryUnattendedRung(t *testing.T) {
	settings := escalation.DemoSettings()
	settings.AssumeBurnersActive = false
	for _, stop := range []int{10, 30, 60} {
		engine, _ := newTestEngine(t, settings)
		engine.Tick("z", unattended, at(0))
		engine.Tick("z", unattended, at(stop))
		st, _ := engine.State("z")
		require.True(t, st.State.Unattended(), "state %s after %ds", st.State, stop)

		alerts := engine.Tick("z", attended, at(stop))
		assert.Empty(t, alerts)
		st, _ = engine.State("z")
		assert.Equal(t, escalation.StateActiveAttended, st.State)
		assert.True(t, st.UnattendedSince.IsZero())
	}
}

func TestEngineIdempotentTick(t *testing.T) {
	settings := escalation.DemoSettings()
	settings.AssumeBurnersActive = false
	engine, _ := newTestEngine(t, settings)

	hazards := escalation.HazardReading{FlamePresent: true, SmokePresent: true, BoiloverPresent: true, FlammableNearby: true, FlammableObject: "paper"}
	engine.Tick("z", hazards, at(0))
	first := engine.Tick("z", hazards, at(10))
	require.NotEmpty(t, first)
	before, _ := engine.State("z")

	second := engine.Tick("z", hazards, at(10))
	after, _ := engine.State("z")
	assert.Empty(t, second)
	assert.Equal(t, before, after)
}

func TestEngineFlameLossWinsOverStaleTimers(t *testing.T) {
	settings := escalation.DemoSettings()
	settings.AssumeBurnersActive = false
	engine, _ := newTestEngine(t, settings)

	engine.Tick("z", unattended, at(0))
	engine.Tick("z", unattended, at(30))
	alerts := engine.Tick("z", flameOff, at(500))
	assert.Empty(t, alerts)
	st, _ := engine.State("z")
	assert.Equal(t, escalation.StateMonitoring, st.State)
	assert.True(t, st.FlameSince.IsZero())
	assert.True(t, st.UnattendedSince.IsZero())
}

func TestEngineClimbsSeveralRungsInOrder(t *testing.T) {
	settings := escalation.DemoSettings()
	settings.AssumeBurnersActive = false
	engine, _ := newTestEngine(t, settings)

	engine.Tick("z", unattended, at(0))
	alerts := engine.Tick("z", unattended, at(120))
	assert.Equal(t, []escalation.AlertKind{
		escalation.KindUnattendedInfo,
		escalation.KindUnattendedWarning,
		escalation.KindUnattendedCritical,
	}, kinds(alerts))
}

func TestEngineLadderIsMonotonic(t *testing.T) {
	settings := escalation.DemoSettings()
	settings.AssumeBurnersActive = false
	engine, _ := newTestEngine(t, settings)

	pattern := []escalation.HazardReading{unattended, unattended, unattended, attended, unattended, flameOff, unattended}
	prev := escalation.StateMonitoring
	for i := 0; i < 400; i++ {
		reading := pattern[(i/23)%len(pattern)]
		engine.Tick("z", reading, at(i))
		st, _ := engine.State("z")
		switch {
		case st.State == prev:
		case st.State == escalation.StateMonitoring, st.State == escalation.StateActiveAttended:
		case st.State.Rank() == prev.Rank()+1:
		default:
			t.Fatalf("illegal transition %s -> %s at tick %d", prev, st.State, i)
		}
		prev = st.State
	}
}

func TestEngineOrthogonalHazardsShareCooldown(t *testing.T) {
	settings := escalation.DefaultSettings()
	engine, _ := newTestEngine(t, settings)

	reading := escalation.HazardReading{SmokePresent: true, FlammableNearby: true, FlammableObject: "book"}
	alerts := engine.Tick("Back Right", reading, at(0))
	assert.Equal(t, []escalation.AlertKind{escalation.KindSmoke, escalation.KindProximity}, kinds(alerts))
	st, _ := engine.State("Back Right")
	assert.Equal(t, escalation.StateMonitoring, st.State)

	assert.Empty(t, engine.Tick("Back Right", reading, at(29)))
	assert.Len(t, engine.Tick("Back Right", reading, at(30)), 2)
}

func TestEngineReadsSettingsEveryTick(t *testing.T) {
	engine, store := newTestEngine(t, escalation.DefaultSettings())

	engine.Tick("z", unattended, at(0))
	assert.Empty(t, engine.Tick("z", unattended, at(20)))

	_, err := store.Update(func(s *escalation.Settings) {
		s.InfoAfter = 15 * time.Second
	})
	require.NoError(t, err)
	assert.Equal(t, []escalation.AlertKind{escalation.KindUnattendedInfo}, kinds(engine.Tick("z", unattended, at(21))))
}

func TestEngineAssumeBurnersActive(t *testing.T) {
	engine, _ := newTestEngine(t, escalation.DemoSettings())

	engine.Tick("z", flameOff, at(0))
	st, _ := engine.State("z")
	assert.Equal(t, escalation.StateActiveAttended, st.State)
}

func TestEngineRecordsAlerts(t *testing.T) {
	recorder := &sliceRecorder{}
	engine, _ := newTestEngine(t, escalation.DefaultSettings(), WithAlertRecorder(recorder))

	engine.Tick("z", escalation.HazardReading{BoiloverPresent: true}, at(0))
	require.Len(t, recorder.alerts, 1)
	assert.Equal(t, "alert-1", recorder.alerts[0].ID)
	assert.Equal(t, escalation.KindBoilover, recorder.alerts[0].Kind)
}

func TestEngineTickFrame(t *testing.T) {
	zones := []escalation.Zone{
		{Name: "Front Left", Width: 10, Height: 10},
		{Name: "Front Right", X: 20, Width: 10, Height: 10},
	}
	engine, _ := newTestEngine(t, escalation.DefaultSettings(), WithZones(zones))

	alerts := engine.TickFrame(map[string]escalation.HazardReading{
		"Front Left": unattended,
		"Ghost":      {SmokePresent: true},
	}, at(0))
	assert.Equal(t, []escalation.AlertKind{escalation.KindSmoke}, kinds(alerts))

	status := engine.Snapshot()
	require.Len(t, status.Zones, 3)
	assert.Equal(t, "Front Left", status.Zones[0].Name)
	assert.Equal(t, escalation.StateActiveAttended, status.Zones[0].State)
	require.NotNil(t, status.Zones[0].FlameSince)
	require.NotNil(t, status.Zones[0].Bounds)
	assert.Equal(t, "Front Right", status.Zones[1].Name)
	assert.Equal(t, escalation.StateMonitoring, status.Zones[1].State)
	assert.Equal(t, "Ghost", status.Zones[2].Name)
	assert.Nil(t, status.Zones[2].Bounds)
}

func TestEngineTickFrameKeepsTickingUnregisteredZones(t *testing.T) {
	engine, _ := newTestEngine(t, escalation.DefaultSettings())

	engine.TickFrame(map[string]escalation.HazardReading{"Ghost": unattended}, at(0))
	st, ok := engine.State("Ghost")
	require.True(t, ok)
	assert.Equal(t, escalation.StateActiveAttended, st.State)

	for hour := 1; hour <= 4; hour++ {
		engine.TickFrame(map[string]escalation.HazardReading{}, at(hour*3600))
	}
	st, ok = engine.State("Ghost")
	require.True(t, ok)
	assert.Equal(t, escalation.StateMonitoring, st.State)
	assert.True(t, st.UnattendedSince.IsZero())
	assert.Equal(t, at(4*3600), st.LastTick)

	status := engine.Snapshot()
	require.Len(t, status.Zones, 1)
	assert.Nil(t, status.Zones[0].UnattendedSince)
	assert.Zero(t, status.Zones[0].UnattendedSeconds)
}

func TestEngineTickFrameFuncReanalyzesAfterSwap(t *testing.T) {
	engine, _ := newTestEngine(t, escalation.DefaultSettings(),
		WithZones([]escalation.Zone{{Name: "Front Left", Width: 10, Height: 10}}))
	swapped := []escalation.Zone{{Name: "Back Right", X: 50, Width: 10, Height: 10}}

	var seen [][]string
	analyze := func(zones []escalation.Zone) map[string]escalation.HazardReading {
		names := make([]string, 0, len(zones))
		readings := make(map[string]escalation.HazardReading, len(zones))
		for _, zone := range zones {
			names = append(names, zone.Name)
			readings[zone.Name] = unattended
		}
		if len(seen) == 0 {
			require.NoError(t, engine.ReplaceZones(swapped))
		}
		seen = append(seen, names)
		return readings
	}
	engine.TickFrameFunc(analyze, at(0))

	assert.Equal(t, [][]string{{"Front Left"}, {"Back Right"}}, seen)
	status := engine.Snapshot()
	require.Len(t, status.Zones, 1)
	assert.Equal(t, "Back Right", status.Zones[0].Name)
	assert.Equal(t, escalation.StateActiveAttended, status.Zones[0].State)
	_, ok := engine.State("Front Left")
	assert.False(t, ok)
}

func TestEngineTickFrameFuncDropsStaleNamesAfterRepeatedSwaps(t *testing.T) {
	engine, _ := newTestEngine(t, escalation.DefaultSettings(),
		WithZones([]escalation.Zone{{Name: "z0", Width: 1, Height: 1}}))

	calls := 0
	analyze := func(zones []escalation.Zone) map[string]escalation.HazardReading {
		readings := map[string]escalation.HazardReading{zones[0].Name: unattended}
		calls++
		next := fmt.Sprintf("z%d", calls)
		require.NoError(t, engine.ReplaceZones([]escalation.Zone{{Name: next, Width: 1, Height: 1}}))
		return readings
	}
	engine.TickFrameFunc(analyze, at(0))

	assert.Equal(t, analyzeAttempts, calls)
	status := engine.Snapshot()
	require.Len(t, status.Zones, 1)
	assert.Equal(t, fmt.Sprintf("z%d", calls), status.Zones[0].Name)
	assert.Equal(t, escalation.StateMonitoring, status.Zones[0].State)
}

func TestEngineReplaceZonesResetsState(t *testing.T) {
	zones := []escalation.Zone{{Name: "a", Width: 1, Height: 1}}
	engine, _ := newTestEngine(t, escalation.DefaultSettings(), WithZones(zones))
	engine.Tick("a", unattended, at(0))

	err := engine.ReplaceZones([]escalation.Zone{{Name: "a", Width: 1, Height: 1}, {Name: "b", Width: 2, Height: 2}})
	require.NoError(t, err)
	st, ok := engine.State("a")
	require.True(t, ok)
	assert.Equal(t, escalation.StateMonitoring, st.State)
	assert.Len(t, engine.Zones(), 2)

	err = engine.ReplaceZones([]escalation.Zone{{Name: "a", Width: 1, Height: 1}, {Name: "a", Width: 1, Height: 1}})
	assert.ErrorIs(t, err, escalation.ErrDuplicateZone)
	assert.Len(t, engine.Zones(), 2)
}

func TestEngineOverrideToggle(t *testing.T) {
	zones := []escalation.Zone{{Name: "a", Width: 1, Height: 1}}
	engine, _ := newTestEngine(t, escalation.DefaultSettings(), WithZones(zones))

	active, err := engine.ToggleOverride("a")
	require.NoError(t, err)
	assert.True(t, active)
	engine.Tick("a", flameOff, at(0))
	st, _ := engine.State("a")
	assert.Equal(t, escalation.StateActiveAttended, st.State)

	active, err = engine.ToggleOverride("a")
	require.NoError(t, err)
	assert.False(t, active)
	st, _ = engine.State("a")
	assert.Equal(t, escalation.StateMonitoring, st.State)

	_, err = engine.ToggleOverride("missing")
	assert.ErrorIs(t, err, escalation.ErrUnknownZone)
}

func TestEngineConcurrentTickAndReplace(t *testing.T) {
	zones := []escalation.Zone{{Name: "a", Width: 1, Height: 1}, {Name: "b", Width: 1, Height: 1}}
	engine, _ := newTestEngine(t, escalation.DefaultSettings(), WithZones(zones))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			engine.TickFrame(map[string]escalation.HazardReading{"a": unattended, "b": attended}, at(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = engine.ReplaceZones(zones)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			status := engine.Snapshot()
			for _, zone := range status.Zones {
				if zone.State == escalation.StateMonitoring && zone.UnattendedSince != nil {
					t.Errorf("zone %s monitoring with unattended timer", zone.Name)
				}
			}
		}
	}()
	wg.Wait()
}

func TestEngineConcurrentTogglesAlternate(t *testing.T) {
	engine, _ := newTestEngine(t, escalation.DefaultSettings(),
		WithZones([]escalation.Zone{{Name: "a", Width: 1, Height: 1}}))

	const toggles = 200
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		enabled int
	)
	wg.Add(toggles)
	for i := 0; i < toggles; i++ {
		go func() {
			defer wg.Done()
			active, err := engine.ToggleOverride("a")
			if err != nil {
				t.Errorf("toggle: %v", err)
				return
			}
			if active {
				mu.Lock()
				enabled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, toggles/2, enabled)
	assert.False(t, engine.Snapshot().Zones[0].Override)
}

func TestNewEngineRejectsNilProvider(t *testing.T) {
	_, err := NewEngine(nil)
	assert.Error(t, err)
}
