package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"safeflame/internal/audit"
	"safeflame/internal/auth"
	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
	"safeflame/internal/observability/metrics"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 100
	maxBodyBytes      = 1 << 20
)

// AlertReader returns the most recent alerts, newest first.
type AlertReader interface {
	Recent(n int) []escalation.Alert
}

// AlertArchiveReader lists archived alerts.
type AlertArchiveReader interface {
	ListRecent(ctx context.Context, zone string, limit int) ([]escalation.Alert, error)
}

// EventPublisher accepts events for fan-out.
type EventPublisher interface {
	Publish(event application.Event)
}

// Handler provides the escalation admin and read API.
type Handler struct {
	engine    *application.Engine
	settings  *application.SettingsStore
	alerts    AlertReader
	archive   AlertArchiveReader
	auditLog  audit.Logger
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes the handler.
type Option func(*Handler)

// WithAuditLogger records administrative changes.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.auditLog = logger
	}
}

// WithArchive serves ?source=archive from durable storage.
func WithArchive(archive AlertArchiveReader) Option {
	return func(h *Handler) {
		h.archive = archive
	}
}

// WithEventPublisher broadcasts a status event after each change.
func WithEventPublisher(publisher EventPublisher) Option {
	return func(h *Handler) {
		h.publisher = publisher
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(engine *application.Engine, settings *application.SettingsStore, alerts AlertReader, opts ...Option) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("escalation handler: nil engine")
	}
	if settings == nil {
		return nil, errors.New("escalation handler: nil settings store")
	}
	if alerts == nil {
		return nil, errors.New("escalation handler: nil alert reader")
	}
	h := &Handler{
		engine:   engine,
		settings: settings,
		alerts:   alerts,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP handles /api/v1/status, /api/v1/zones, /api/v1/settings and /api/v1/alerts.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/status":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, h.engine.Snapshot())
	case path == "/api/v1/zones":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.engine.Zones())
		case http.MethodPut, http.MethodPost:
			h.handleReplaceZones(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(path, "/api/v1/zones/"):
		h.handleToggle(w, r)
	case path == "/api/v1/settings":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, newSettingsView(h.settings.Current()))
		case http.MethodPatch:
			h.handleUpdateSettings(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/api/v1/settings/profile":
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		h.handleApplyProfile(w, r)
	case path == "/api/v1/alerts":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		h.handleListAlerts(w, r)
	case path == "/api/v1/alerts/export.xlsx":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		h.handleExport(w, r, "xlsx")
	case path == "/api/v1/alerts/report.pdf":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		h.handleExport(w, r, "pdf")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleReplaceZones(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	var zones []escalation.Zone
	if err := json.Unmarshal(body, &zones); err != nil {
		http.Error(w, "invalid zones payload", http.StatusBadRequest)
		return
	}
	if err := h.engine.ReplaceZones(zones); err != nil {
		respondDomainError(w, err)
		return
	}
	names := make([]string, 0, len(zones))
	for _, zone := range zones {
		names = append(names, zone.Name)
	}
	h.logAudit(r, "zones.replace", "zone_set", "", map[string]any{"zones": names})
	h.publishStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"zones":  h.engine.Zones(),
	})
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/zones/")
	name, action, ok := strings.Cut(rest, "/")
	if !ok || action != "toggle" || name == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	active, err := h.engine.ToggleOverride(name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.logAudit(r, "zones.toggle", "zone", name, map[string]any{"active": active})
	h.publishStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"zone":   name,
		"active": active,
	})
}

type settingsView struct {
	Profile              string  `json:"profile"`
	InfoAfterSeconds     float64 `json:"info_after_seconds"`
	WarningAfterSeconds  float64 `json:"warning_after_seconds"`
	CriticalAfterSeconds float64 `json:"critical_after_seconds"`
	CooldownSeconds      float64 `json:"cooldown_seconds"`
	AssumeBurnersActive  bool    `json:"assume_burners_active"`
	Version              uint64  `json:"version"`
}

func newSettingsView(s escalation.Settings) settingsView {
	return settingsView{
		Profile:              s.Profile,
		InfoAfterSeconds:     s.InfoAfter.Seconds(),
		WarningAfterSeconds:  s.WarningAfter.Seconds(),
		CriticalAfterSeconds: s.CriticalAfter.Seconds(),
		CooldownSeconds:      s.Cooldown.Seconds(),
		AssumeBurnersActive:  s.AssumeBurnersActive,
		Version:              s.Version,
	}
}

type settingsPatch struct {
	InfoAfterSeconds     *float64 `json:"info_after_seconds"`
	WarningAfterSeconds  *float64 `json:"warning_after_seconds"`
	CriticalAfterSeconds *float64 `json:"critical_after_seconds"`
	CooldownSeconds      *float64 `json:"cooldown_seconds"`
	AssumeBurnersActive  *bool    `json:"assume_burners_active"`
}

func (p settingsPatch) empty() bool {
	return p.InfoAfterSeconds == nil && p.WarningAfterSeconds == nil && p.CriticalAfterSeconds == nil &&
		p.CooldownSeconds == nil && p.AssumeBurnersActive == nil
}

func (p settingsPatch) apply(s *escalation.Settings) {
	if p.InfoAfterSeconds != nil {
		s.InfoAfter = seconds(*p.InfoAfterSeconds)
	}
	if p.WarningAfterSeconds != nil {
		s.WarningAfter = seconds(*p.WarningAfterSeconds)
	}
	if p.CriticalAfterSeconds != nil {
		s.CriticalAfter = seconds(*p.CriticalAfterSeconds)
	}
	if p.CooldownSeconds != nil {
		s.Cooldown = seconds(*p.CooldownSeconds)
	}
	if p.AssumeBurnersActive != nil {
		s.AssumeBurnersActive = *p.AssumeBurnersActive
	}
}

// maxSettingSeconds is the largest whole-second value a time.Duration holds.
const maxSettingSeconds = float64(math.MaxInt64 / int64(time.Second))

func (p settingsPatch) validate() error {
	fields := []struct {
		name  string
		value *float64
	}{
		{"info_after_seconds", p.InfoAfterSeconds},
		{"warning_after_seconds", p.WarningAfterSeconds},
		{"critical_after_seconds", p.CriticalAfterSeconds},
		{"cooldown_seconds", p.CooldownSeconds},
	}
	for _, field := range fields {
		if field.value == nil {
			continue
		}
		if v := *field.value; math.IsNaN(v) || v < 0 || v > maxSettingSeconds {
			return fmt.Errorf("%s must be between 0 and %.0f", field.name, maxSettingSeconds)
		}
	}
	return nil
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	var patch settingsPatch
	if err := json.Unmarshal(body, &patch); err != nil {
		http.Error(w, "invalid settings payload", http.StatusBadRequest)
		return
	}
	if patch.empty() {
		http.Error(w, "no settings to update", http.StatusBadRequest)
		return
	}
	if err := patch.validate(); err != nil {
		metrics.IncSettingsUpdate(metrics.ResultError)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	updated, err := h.settings.Update(patch.apply)
	if err != nil {
		metrics.IncSettingsUpdate(metrics.ResultError)
		respondDomainError(w, err)
		return
	}
	metrics.IncSettingsUpdate(metrics.ResultSuccess)
	h.logAudit(r, "settings.update", "settings", strconv.FormatUint(updated.Version, 10), json.RawMessage(body))
	h.publishStatus()
	writeJSON(w, http.StatusOK, newSettingsView(updated))
}

func (h *Handler) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid profile payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Profile) == "" {
		http.Error(w, "profile is required", http.StatusBadRequest)
		return
	}
	updated, err := h.settings.ApplyProfile(req.Profile)
	if err != nil {
		metrics.IncSettingsUpdate(metrics.ResultError)
		respondDomainError(w, err)
		return
	}
	metrics.IncSettingsUpdate(metrics.ResultSuccess)
	h.logAudit(r, "settings.profile", "settings", strconv.FormatUint(updated.Version, 10), map[string]any{"profile": updated.Profile})
	h.publishStatus()
	writeJSON(w, http.StatusOK, newSettingsView(updated))
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.listAlerts(r)
	if err != nil {
		var badRequest badRequestError
		if errors.As(err, &badRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	list, err := h.listAlerts(r)
	if err != nil {
		var badRequest badRequestError
		if errors.As(err, &badRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generatedAt := h.now()
	var (
		payload     []byte
		contentType string
		filename    string
	)
	switch format {
	case "pdf":
		payload, err = BuildAlertsPDF(list, h.engine.Snapshot(), generatedAt)
		contentType = "application/pdf"
		filename = "safeflame-incidents.pdf"
	default:
		payload, err = BuildAlertsXLSX(list, generatedAt)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "safeflame-alerts.xlsx"
	}
	if err != nil {
		h.logger.Error("alert export failed", zap.String("format", format), zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func (h *Handler) listAlerts(r *http.Request) ([]escalation.Alert, error) {
	query := r.URL.Query()
	limit := defaultAlertLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return nil, badRequestError{msg: "limit must be a positive integer"}
		}
		limit = parsed
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	zone := query.Get("zone")

	if query.Get("source") == "archive" {
		if h.archive == nil {
			return nil, badRequestError{msg: "alert archive is not configured"}
		}
		return h.archive.ListRecent(r.Context(), zone, limit)
	}

	recent := h.alerts.Recent(0)
	out := make([]escalation.Alert, 0, limit)
	for _, alert := range recent {
		if zone != "" && alert.Zone != zone {
			continue
		}
		out = append(out, alert)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (h *Handler) publishStatus() {
	if h.publisher == nil {
		return
	}
	h.publisher.Publish(application.StatusEvent(h.engine.Snapshot()))
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID string, metadata any) {
	if h.auditLog == nil {
		return
	}
	meta, _ := json.Marshal(metadata)
	if err := h.auditLog.Log(r.Context(), audit.Entry{
		ID:           audit.NewID(),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
		CreatedAt:    h.now(),
	}); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escalation.ErrUnknownZone):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, escalation.ErrInvalidZone),
		errors.Is(err, escalation.ErrDuplicateZone),
		errors.Is(err, escalation.ErrInvalidThresholds),
		errors.Is(err, escalation.ErrInvalidCooldown),
		errors.Is(err, escalation.ErrUnknownProfile):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
