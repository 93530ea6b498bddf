package application

import (
	"errors"
	"sync"

	escalation "safeflame/internal/escalation/domain"
)

// SettingsProvider yields the snapshot the engine applies on a tick.
type SettingsProvider interface {
	Current() escalation.Settings
}

// SettingsStore holds the versioned runtime settings.
type SettingsStore struct {
	mu       sync.RWMutex
	settings escalation.Settings
}

// NewSettingsStore validates the initial settings and stores them as version 1.
func NewSettingsStore(initial escalation.Settings) (*SettingsStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	initial.Version = 1
	return &SettingsStore{settings: initial}, nil
}

// Current returns a copy of the active settings.
func (s *SettingsStore) Current() escalation.Settings {
	if s == nil {
		return escalation.DefaultSettings()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies mutate to a copy, validates it and bumps the version.
// On validation failure the active settings are unchanged.
func (s *SettingsStore) Update(mutate func(*escalation.Settings)) (escalation.Settings, error) {
	if s == nil {
		return escalation.Settings{}, errors.New("settings: nil store")
	}
	if mutate == nil {
		return escalation.Settings{}, errors.New("settings: nil mutation")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	mutate(&next)
	if err := next.Validate(); err != nil {
		return s.settings, err
	}
	next.Version = s.settings.Version + 1
	s.settings = next
	return next, nil
}

// ApplyProfile swaps in a named profile.
func (s *SettingsStore) ApplyProfile(name string) (escalation.Settings, error) {
	profile, err := escalation.ProfileSettings(name)
	if err != nil {
		return s.Current(), err
	}
	return s.Update(func(settings *escalation.Settings) {
		version := settings.Version
		*settings = profile
		settings.Version = version
	})
}
