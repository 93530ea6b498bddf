package advisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	escalation "safeflame/internal/escalation/domain"
)

const systemPrompt = "You are a kitchen safety advisor. Give ONE short, actionable safety tip " +
	"(one sentence, under 30 words). Be direct and specific."

var hazardPrompts = map[string]string{
	"unattended": "A kitchen burner has been left on with no one watching. What should the person do?",
	"proximity":  "A flammable object ({object}) is near an active burner ({zone}). What's the immediate risk and action?",
	"boilover":   "A pot is boiling over on burner {zone}. What should the person do right now?",
	"smoke":      "Smoke has been detected in the kitchen. What's the safest immediate action?",
}

// Fallback is the canned advice used when the model is disabled, slow or failing.
var Fallback = map[string]string{
	"unattended": "Turn off the burner or return to the kitchen immediately.",
	"proximity":  "Move flammable objects away from the active burner now.",
	"boilover":   "Reduce heat immediately and slide the pot off the burner.",
	"smoke":      "Check the source of smoke, turn off heat and ventilate the area.",
}

// Config configures the model client.
type Config struct {
	BaseURL         string
	Model           string
	Timeout         time.Duration
	CacheSize       int
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// Advisor produces one-sentence safety advice for warning and critical alerts.
type Advisor struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	model   string
	timeout time.Duration
	cache   *adviceCache
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes the advisor.
type Option func(*Advisor)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Advisor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the advice timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Advisor) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds an advisor backed by an Ollama-compatible chat endpoint.
func New(cfg Config, opts ...Option) (*Advisor, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("advisor: base url is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("advisor: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	a := newAdvisor(cfg.CacheSize, opts...)
	a.model = cfg.Model
	a.timeout = cfg.Timeout
	a.client = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	failures := cfg.BreakerFailures
	logger := a.logger
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm-advisor",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("advisor breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return a, nil
}

// NewFallbackOnly builds an advisor that never calls a model.
func NewFallbackOnly(opts ...Option) *Advisor {
	return newAdvisor(0, opts...)
}

func newAdvisor(cacheSize int, opts ...Option) *Advisor {
	a := &Advisor{
		cache:  newAdviceCache(cacheSize),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Advise returns advice for the alert. Info alerts get none.
func (a *Advisor) Advise(ctx context.Context, alert escalation.Alert) (escalation.Advice, bool) {
	if a == nil || alert.Severity.Rank() < escalation.SeverityWarning.Rank() {
		return escalation.Advice{}, false
	}
	hazard := hazardKey(alert.Kind)
	advice := escalation.Advice{
		AlertID:   alert.ID,
		Kind:      alert.Kind,
		Zone:      alert.Zone,
		Timestamp: a.now(),
	}

	if a.client == nil {
		return a.fallback(advice, hazard)
	}

	vars := promptVars(alert)
	key := cacheKey(hazard, vars)
	if text, ok := a.cache.get(key); ok {
		advice.Text = text
		advice.Source = escalation.AdviceSourceCache
		return advice, true
	}

	text, err := a.query(ctx, buildPrompt(hazard, vars))
	if err != nil {
		a.logger.Warn("advisor falling back",
			zap.String("alert_id", alert.ID),
			zap.String("kind", string(alert.Kind)),
			zap.Error(err),
		)
		return a.fallback(advice, hazard)
	}
	a.cache.put(key, text)
	advice.Text = text
	advice.Source = escalation.AdviceSourceLLM
	return advice, true
}

func (a *Advisor) fallback(advice escalation.Advice, hazard string) (escalation.Advice, bool) {
	text, ok := Fallback[hazard]
	if !ok {
		return escalation.Advice{}, false
	}
	advice.Text = text
	advice.Source = escalation.AdviceSourceFallback
	return advice, true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

func (a *Advisor) query(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.breaker.Execute(func() (any, error) {
		var response chatResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetBody(chatRequest{
				Model: a.model,
				Messages: []chatMessage{
					{Role: "system", Content: systemPrompt},
					{Role: "user", Content: prompt},
				},
			}).
			SetResult(&response).
			SetError(&response).
			Post("/api/chat")
		if err != nil {
			return nil, fmt.Errorf("advisor: chat request: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("advisor: chat status %d: %s", resp.StatusCode(), response.Error)
		}
		text := strings.TrimSpace(response.Message.Content)
		if text == "" {
			return nil, errors.New("advisor: empty response")
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func hazardKey(kind escalation.AlertKind) string {
	switch kind {
	case escalation.KindUnattendedInfo, escalation.KindUnattendedWarning, escalation.KindUnattendedCritical:
		return "unattended"
	case escalation.KindSmoke:
		return "smoke"
	case escalation.KindBoilover:
		return "boilover"
	case escalation.KindProximity:
		return "proximity"
	default:
		return strings.ToLower(string(kind))
	}
}

func promptVars(alert escalation.Alert) map[string]string {
	vars := map[string]string{"zone": alert.Zone}
	if alert.Kind == escalation.KindProximity && alert.Object != "" {
		vars["object"] = alert.Object
	}
	return vars
}

func buildPrompt(hazard string, vars map[string]string) string {
	prompt, ok := hazardPrompts[hazard]
	if !ok {
		prompt = fmt.Sprintf("Kitchen hazard: %s. What should be done?", hazard)
	}
	if _, ok := vars["object"]; !ok {
		prompt = strings.ReplaceAll(prompt, "{object}", "flammable object")
	}
	for k, v := range vars {
		prompt = strings.ReplaceAll(prompt, "{"+k+"}", v)
	}
	return prompt
}

func cacheKey(hazard string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(hazard)
	for _, k := range keys {
		b.WriteString("_")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(vars[k])
	}
	return b.String()
}
