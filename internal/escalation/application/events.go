package application

import (
	"time"

	escalation "safeflame/internal/escalation/domain"
)

// Event types fanned out to sinks.
const (
	EventAlert  = "alert"
	EventAdvice = "advice"
	EventStatus = "status"
)

// Event is one outbound item for the sink dispatcher.
type Event struct {
	Type   string             `json:"type"`
	Alert  *escalation.Alert  `json:"alert,omitempty"`
	Advice *escalation.Advice `json:"advice,omitempty"`
	Status *Status            `json:"status,omitempty"`
	At     time.Time          `json:"at"`
}

// AlertEvent wraps an alert.
func AlertEvent(alert escalation.Alert) Event {
	return Event{Type: EventAlert, Alert: &alert, At: alert.Timestamp}
}

// AdviceEvent wraps advice.
func AdviceEvent(advice escalation.Advice) Event {
	return Event{Type: EventAdvice, Advice: &advice, At: advice.Timestamp}
}

// StatusEvent wraps a snapshot.
func StatusEvent(status Status) Event {
	return Event{Type: EventStatus, Status: &status, At: status.At}
}

// ZoneStatus is the read-only view of one zone.
type ZoneStatus struct {
	Name              string                   `json:"name"`
	Bounds            *escalation.Zone         `json:"bounds,omitempty"`
	State             escalation.BurnerState   `json:"state"`
	FlameSince        *time.Time               `json:"flame_since,omitempty"`
	UnattendedSince   *time.Time               `json:"unattended_since,omitempty"`
	UnattendedSeconds float64                  `json:"unattended_seconds"`
	LastHazard        escalation.HazardReading `json:"last_hazard"`
	Override          bool                     `json:"override"`
}

// Status is a consistent snapshot of every zone.
type Status struct {
	At              time.Time    `json:"at"`
	Profile         string       `json:"profile"`
	SettingsVersion uint64       `json:"settings_version"`
	Zones           []ZoneStatus `json:"zones"`
}
