package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"safeflame/internal/audit"
	"safeflame/internal/auth"
	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
	"safeflame/internal/escalation/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type memoryAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryAudit) Log(_ context.Context, entry audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []application.Event
}

func (p *capturePublisher) Publish(event application.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type fixture struct {
	handler   *Handler
	engine    *application.Engine
	settings  *application.SettingsStore
	log       *memory.AlertLog
	audit     *memoryAudit
	publisher *capturePublisher
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := application.NewSettingsStore(escalation.DefaultSettings())
	require.NoError(t, err)
	log := memory.NewAlertLog(100)
	engine, err := application.NewEngine(store,
		application.WithAlertRecorder(log),
		application.WithClock(fixedClock{now: base}),
		application.WithZones([]escalation.Zone{
			{Name: "Front Left", X: 0, Y: 0, Width: 100, Height: 100},
			{Name: "Back", X: 200, Y: 0, Width: 100, Height: 100},
		}),
	)
	require.NoError(t, err)
	auditLog := &memoryAudit{}
	publisher := &capturePublisher{}
	handler, err := NewHandler(engine, store, log,
		WithAuditLogger(auditLog),
		WithEventPublisher(publisher),
	)
	require.NoError(t, err)
	handler.now = func() time.Time { return base }
	return fixture{handler: handler, engine: engine, settings: store, log: log, audit: auditLog, publisher: publisher}
}

func serve(h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleSafetyOfficer, "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHandler(nil, nil, nil)
	assert.Error(t, err)
}

func TestStatusReportsZones(t *testing.T) {
	f := newFixture(t)
	f.engine.Tick("Front Left", escalation.HazardReading{FlamePresent: true}, base)

	rec := serve(f.handler, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status application.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Len(t, status.Zones, 2)
	assert.Equal(t, "Front Left", status.Zones[0].Name)
	assert.Equal(t, escalation.StateActiveAttended, status.Zones[0].State)
	assert.Equal(t, uint64(1), status.SettingsVersion)

	assert.Equal(t, http.StatusMethodNotAllowed, serve(f.handler, http.MethodPost, "/api/v1/status", "").Code)
}

func TestReplaceZones(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.handler, http.MethodPut, "/api/v1/zones", `[{"name":"Left","x":0,"y":0,"w":50,"h":50}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	zones := f.engine.Zones()
	require.Len(t, zones, 1)
	assert.Equal(t, "Left", zones[0].Name)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "zones.replace", f.audit.entries[0].Action)
	assert.Equal(t, "alice", f.audit.entries[0].Actor)
	assert.Equal(t, "safety_officer", f.audit.entries[0].Role)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, application.EventStatus, f.publisher.events[0].Type)

	rec = serve(f.handler, http.MethodPost, "/api/v1/zones", `[{"name":"A","x":0,"y":0,"w":5,"h":5},{"name":"A","x":9,"y":9,"w":5,"h":5}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(f.handler, http.MethodPost, "/api/v1/zones", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.engine.Zones(), 1)
}

func TestToggleOverride(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.handler, http.MethodPost, "/api/v1/zones/Back/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Zone   string `json:"zone"`
		Active bool   `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Back", body.Zone)
	assert.True(t, body.Active)

	f.engine.Tick("Back", escalation.HazardReading{}, base)
	state, ok := f.engine.State("Back")
	require.True(t, ok)
	assert.Equal(t, escalation.StateActiveAttended, state.State)

	rec = serve(f.handler, http.MethodPost, "/api/v1/zones/Back/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state, _ = f.engine.State("Back")
	assert.Equal(t, escalation.StateMonitoring, state.State)

	assert.Equal(t, http.StatusNotFound, serve(f.handler, http.MethodPost, "/api/v1/zones/Nope/toggle", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(f.handler, http.MethodPost, "/api/v1/zones/Back/other", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(f.handler, http.MethodGet, "/api/v1/zones/Back/toggle", "").Code)
}

func TestSettingsPatchAndProfile(t *testing.T) {
	f := newFixture(t)

	rec := serve(f.handler, http.MethodGet, "/api/v1/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view settingsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 60.0, view.InfoAfterSeconds)
	assert.Equal(t, 30.0, view.CooldownSeconds)

	rec = serve(f.handler, http.MethodPatch, "/api/v1/settings", `{"info_after_seconds":5,"cooldown_seconds":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 5.0, view.InfoAfterSeconds)
	assert.Equal(t, uint64(2), view.Version)
	assert.Equal(t, 5*time.Second, f.settings.Current().InfoAfter)

	rec = serve(f.handler, http.MethodPatch, "/api/v1/settings", `{"warning_after_seconds":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(f.handler, http.MethodPatch, "/api/v1/settings", `{"cooldown_seconds":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(f.handler, http.MethodPatch, "/api/v1/settings", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, uint64(2), f.settings.Current().Version)

	rec = serve(f.handler, http.MethodPost, "/api/v1/settings/profile", `{"profile":"demo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "demo", view.Profile)
	assert.True(t, view.AssumeBurnersActive)
	assert.Equal(t, uint64(3), view.Version)

	rec = serve(f.handler, http.MethodPost, "/api/v1/settings/profile", `{"profile":"turbo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	actions := make([]string, 0, len(f.audit.entries))
	for _, entry := range f.audit.entries {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{"settings.update", "settings.profile"}, actions)
}

func TestSettingsPatchRejectsOutOfRangeSeconds(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"critical_after_seconds":1e10}`,
		`{"cooldown_seconds":9.3e9}`,
		`{"info_after_seconds":-1}`,
	} {
		rec := serve(f.handler, http.MethodPatch, "/api/v1/settings", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "must be between 0 and", body)
		assert.NotContains(t, rec.Body.String(), "warning", body)
	}
	assert.Equal(t, uint64(1), f.settings.Current().Version)
	assert.Empty(t, f.audit.entries)
}

func TestListAlerts(t *testing.T) {
	f := newFixture(t)
	f.engine.Tick("Front Left", escalation.HazardReading{SmokePresent: true}, base)
	f.engine.Tick("Back", escalation.HazardReading{SmokePresent: true}, base.Add(time.Second))

	rec := serve(f.handler, http.MethodGet, "/api/v1/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []escalation.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "Back", list[0].Zone)

	rec = serve(f.handler, http.MethodGet, "/api/v1/alerts?zone=Front+Left", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, escalation.KindSmoke, list[0].Kind)

	rec = serve(f.handler, http.MethodGet, "/api/v1/alerts?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, serve(f.handler, http.MethodGet, "/api/v1/alerts?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(f.handler, http.MethodGet, "/api/v1/alerts?source=archive", "").Code)
}

type stubArchive struct {
	zone  string
	limit int
}

func (s *stubArchive) ListRecent(_ context.Context, zone string, limit int) ([]escalation.Alert, error) {
	s.zone = zone
	s.limit = limit
	return []escalation.Alert{{ID: "archived", Zone: zone}}, nil
}

func TestListAlertsFromArchiveCapsLimit(t *testing.T) {
	f := newFixture(t)
	archive := &stubArchive{}
	WithArchive(archive)(f.handler)

	rec := serve(f.handler, http.MethodGet, "/api/v1/alerts?source=archive&zone=Back&limit=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Back", archive.zone)
	assert.Equal(t, maxAlertLimit, archive.limit)
}

func TestExports(t *testing.T) {
	f := newFixture(t)
	f.engine.Tick("Back", escalation.HazardReading{BoiloverPresent: true}, base)

	rec := serve(f.handler, http.MethodGet, "/api/v1/alerts/export.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "safeflame-alerts.xlsx")
	book, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	zone, err := book.GetCellValue("alerts", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Back", zone)
	kind, _ := book.GetCellValue("alerts", "C2")
	assert.Equal(t, "BOILOVER", kind)

	rec = serve(f.handler, http.MethodGet, "/api/v1/alerts/report.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestSSEStreamDeliversEvents(t *testing.T) {
	broker := NewSSEBroker()
	server := httptest.NewServer(NewStreamHandler(broker))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)
	require.Eventually(t, func() bool { return broker.Clients() == 1 }, time.Second, 10*time.Millisecond)

	alert := escalation.NewAlert("a1", escalation.KindSmoke, "Back", base, escalation.AlertDetail{})
	require.NoError(t, broker.Deliver(context.Background(), application.AlertEvent(alert)))

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "data: {}") {
			continue
		}
		lines = append(lines, line)
	}
	assert.Equal(t, "event: alert", lines[0])
	assert.Contains(t, lines[1], `"id":"a1"`)
}

func TestWSHubBroadcasts(t *testing.T) {
	hub := NewWSHub(nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	advice := escalation.Advice{AlertID: "a1", Zone: "Back", Text: "Lower the heat."}
	require.NoError(t, hub.Deliver(context.Background(), application.AdviceEvent(advice)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	var event application.Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, application.EventAdvice, event.Type)
	require.NotNil(t, event.Advice)
	assert.Equal(t, "Lower the heat.", event.Advice.Text)

	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
