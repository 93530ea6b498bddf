package escalation

import (
	"fmt"
	"time"
)

// AlertKind identifies what produced an alert.
type AlertKind string

const (
	KindUnattendedInfo     AlertKind = "UNATTENDED_INFO"
	KindUnattendedWarning  AlertKind = "UNATTENDED_WARNING"
	KindUnattendedCritical AlertKind = "UNATTENDED_CRITICAL"
	KindSmoke              AlertKind = "SMOKE"
	KindBoilover           AlertKind = "BOILOVER"
	KindProximity          AlertKind = "PROXIMITY"
)

// AllKinds lists every alert kind in ladder-then-hazard order.
var AllKinds = []AlertKind{
	KindUnattendedInfo,
	KindUnattendedWarning,
	KindUnattendedCritical,
	KindSmoke,
	KindBoilover,
	KindProximity,
}

// Severity drives sink urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, info being 1.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// SeverityOf maps a kind to its fixed severity.
func SeverityOf(kind AlertKind) Severity {
	switch kind {
	case KindUnattendedInfo:
		return SeverityInfo
	case KindUnattendedCritical, KindSmoke:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Alert is an immutable notification produced by the engine.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Zone      string    `json:"zone"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Object    string    `json:"object,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertDetail carries the values interpolated into alert messages.
type AlertDetail struct {
	Unattended time.Duration
	Object     string
}

// NewAlert builds an alert with its severity and message filled in.
func NewAlert(id string, kind AlertKind, zone string, at time.Time, detail AlertDetail) Alert {
	return Alert{
		ID:        id,
		Kind:      kind,
		Zone:      zone,
		Severity:  SeverityOf(kind),
		Message:   Message(kind, zone, detail),
		Object:    detail.Object,
		Timestamp: at,
	}
}

// Message renders the human-readable text for an alert.
func Message(kind AlertKind, zone string, detail AlertDetail) string {
	seconds := int(detail.Unattended / time.Second)
	switch kind {
	case KindUnattendedInfo:
		return fmt.Sprintf("Notice: %s is on and no one is in the kitchen.", zone)
	case KindUnattendedWarning:
		return fmt.Sprintf("Warning: %s unattended for %ds. Please check your cooking.", zone, seconds)
	case KindUnattendedCritical:
		return fmt.Sprintf("CRITICAL: %s has been unattended for over %ds! Turn off the burner immediately.", zone, seconds)
	case KindSmoke:
		return fmt.Sprintf("CRITICAL: Smoke detected at %s! Check for fire immediately.", zone)
	case KindBoilover:
		return fmt.Sprintf("Warning: Potential boil-over detected at %s! Reduce heat or remove the pot.", zone)
	case KindProximity:
		object := detail.Object
		if object == "" {
			object = "Flammable object"
		}
		return fmt.Sprintf("Warning: %s detected near %s. Move it away from the heat source.", object, zone)
	default:
		return fmt.Sprintf("Alert at %s.", zone)
	}
}

// Advice is safety guidance attached to an alert after the fact.
type Advice struct {
	AlertID   string    `json:"alert_id"`
	Kind      AlertKind `json:"kind"`
	Zone      string    `json:"zone"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	AdviceSourceLLM      = "llm"
	AdviceSourceCache    = "cache"
	AdviceSourceFallback = "fallback"
)
