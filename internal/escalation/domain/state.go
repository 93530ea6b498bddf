package escalation

import "time"

// BurnerState is a rung on the escalation ladder.
type BurnerState string

const (
	StateMonitoring         BurnerState = "MONITORING"
	StateActiveAttended     BurnerState = "ACTIVE_ATTENDED"
	StateUnattendedInfo     BurnerState = "UNATTENDED_INFO"
	StateUnattendedWarning  BurnerState = "UNATTENDED_WARNING"
	StateUnattendedCritical BurnerState = "UNATTENDED_CRITICAL"
)

// Rank orders states along the ladder, MONITORING being 0.
func (s BurnerState) Rank() int {
	switch s {
	case StateActiveAttended:
		return 1
	case StateUnattendedInfo:
		return 2
	case StateUnattendedWarning:
		return 3
	case StateUnattendedCritical:
		return 4
	default:
		return 0
	}
}

// Unattended reports whether the state is one of the UNATTENDED_* rungs.
func (s BurnerState) Unattended() bool {
	return s.Rank() >= StateUnattendedInfo.Rank()
}

// ZoneState is the mutable per-zone record. Zero timestamps mean absent.
type ZoneState struct {
	Zone            string
	State           BurnerState
	FlameSince      time.Time
	UnattendedSince time.Time
	LastHazard      HazardReading
	LastTick        time.Time
}

// NewZoneState returns a fresh record at MONITORING.
func NewZoneState(zone string) ZoneState {
	return ZoneState{Zone: zone, State: StateMonitoring}
}

// Reset returns the zone to MONITORING and clears both timers.
func (s *ZoneState) Reset() {
	s.State = StateMonitoring
	s.FlameSince = time.Time{}
	s.UnattendedSince = time.Time{}
}

// UnattendedFor returns how long the zone has been unattended at now.
func (s ZoneState) UnattendedFor(now time.Time) time.Duration {
	if s.UnattendedSince.IsZero() || now.Before(s.UnattendedSince) {
		return 0
	}
	return now.Sub(s.UnattendedSince)
}
