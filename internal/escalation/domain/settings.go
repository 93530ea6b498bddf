package escalation

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProfileDefault = "default"
	ProfileDemo    = "demo"
)

// Settings is a snapshot of the tunables the engine reads on every tick.
type Settings struct {
	Profile             string        `json:"profile"`
	InfoAfter           time.Duration `json:"info_after"`
	WarningAfter        time.Duration `json:"warning_after"`
	CriticalAfter       time.Duration `json:"critical_after"`
	Cooldown            time.Duration `json:"cooldown"`
	AssumeBurnersActive bool          `json:"assume_burners_active"`
	Version             uint64        `json:"version"`
}

// DefaultSettings returns the production profile.
func DefaultSettings() Settings {
	return Settings{
		Profile:       ProfileDefault,
		InfoAfter:     60 * time.Second,
		WarningAfter:  180 * time.Second,
		CriticalAfter: 300 * time.Second,
		Cooldown:      30 * time.Second,
	}
}

// DemoSettings returns the shortened demo profile.
func DemoSettings() Settings {
	return Settings{
		Profile:             ProfileDemo,
		InfoAfter:           10 * time.Second,
		WarningAfter:        30 * time.Second,
		CriticalAfter:       60 * time.Second,
		Cooldown:            10 * time.Second,
		AssumeBurnersActive: true,
	}
}

// ProfileSettings resolves a profile by name.
func ProfileSettings(name string) (Settings, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ProfileDefault:
		return DefaultSettings(), nil
	case ProfileDemo:
		return DemoSettings(), nil
	default:
		return Settings{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
}

// Validate checks threshold ordering and the cooldown window.
func (s Settings) Validate() error {
	if s.InfoAfter < 0 {
		return fmt.Errorf("%w: info threshold %s is negative", ErrInvalidThresholds, s.InfoAfter)
	}
	if s.WarningAfter < s.InfoAfter {
		return fmt.Errorf("%w: warning %s below info %s", ErrInvalidThresholds, s.WarningAfter, s.InfoAfter)
	}
	if s.CriticalAfter < s.WarningAfter {
		return fmt.Errorf("%w: critical %s below warning %s", ErrInvalidThresholds, s.CriticalAfter, s.WarningAfter)
	}
	if s.Cooldown <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCooldown, s.Cooldown)
	}
	return nil
}
