package notify

import (
	"bytes"
	"errors"
	"text/template"
	"time"

	escalation "safeflame/internal/escalation/domain"
)

const DefaultTemplate = `[SafeFlame {{.SeverityLabel}}]
Zone: {{.Zone}}
Alert: {{.Kind}}
Time: {{.Time}}
{{.Message}}
{{- if .Advice }}
Advice: {{.Advice}}
{{- end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	ID            string
	Kind          string
	Zone          string
	Severity      string
	SeverityLabel string
	Message       string
	Object        string
	Time          string
	Advice        string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func templateDataFor(alert escalation.Alert) TemplateData {
	return TemplateData{
		ID:            alert.ID,
		Kind:          string(alert.Kind),
		Zone:          alert.Zone,
		Severity:      string(alert.Severity),
		SeverityLabel: severityLabel(alert.Severity),
		Message:       alert.Message,
		Object:        alert.Object,
		Time:          alert.Timestamp.UTC().Format(time.RFC3339),
	}
}

func severityLabel(severity escalation.Severity) string {
	switch severity {
	case escalation.SeverityCritical:
		return "CRITICAL"
	case escalation.SeverityWarning:
		return "Warning"
	default:
		return "Notice"
	}
}
