package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	escalation "safeflame/internal/escalation/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SAFEFLAME_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, settings.InfoAfter)
	assert.Equal(t, 180*time.Second, settings.WarningAfter)
	assert.Equal(t, 300*time.Second, settings.CriticalAfter)
	assert.Equal(t, 30*time.Second, settings.Cooldown)
	assert.Equal(t, 150.0, cfg.Hazards.ProximityPx)
	assert.Contains(t, cfg.Hazards.FlammableLabels, "paper")
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
}

func TestLoadDemoProfileFromEnv(t *testing.T) {
	t.Setenv("SAFEFLAME_CONFIG", "")
	t.Setenv("SAFEFLAME_PROFILE", "demo")
	t.Setenv("ALERT_COOLDOWN", "60")
	cfg, err := Load()
	require.NoError(t, err)

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, escalation.ProfileDemo, settings.Profile)
	assert.Equal(t, 10*time.Second, settings.InfoAfter)
	assert.Equal(t, 60*time.Second, settings.Cooldown)
	assert.True(t, settings.AssumeBurnersActive)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "safeflame.yaml")
	data := []byte(`
http_addr: ":9000"
engine:
  profile: default
  info_after: 45s
  assume_burners_active: true
zones:
  - {name: "Front Left", x: 10, y: 20, w: 100, h: 80}
  - {name: "Front Right", x: 150, y: 20, w: 100, h: 80}
mqtt:
  broker: tcp://localhost:1883
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("SAFEFLAME_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	require.Len(t, cfg.Zones, 2)
	assert.Equal(t, 100.0, cfg.Zones[0].Width)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, settings.InfoAfter)
	assert.True(t, settings.AssumeBurnersActive)
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("SAFEFLAME_CONFIG", "")
	t.Setenv("UNATTENDED_INFO_AFTER", "200s")
	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, escalation.ErrInvalidThresholds)
}

func TestLoadRejectsDuplicateZones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
zones:
  - {name: a, x: 0, y: 0, w: 1, h: 1}
  - {name: a, x: 0, y: 0, w: 1, h: 1}
`), 0o600))
	t.Setenv("SAFEFLAME_CONFIG", path)
	_, err := Load()
	assert.ErrorIs(t, err, escalation.ErrDuplicateZone)
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "1.5")
	assert.Equal(t, 1500*time.Millisecond, getenvDuration("X_DURATION", 0))
	t.Setenv("X_DURATION", "2m")
	assert.Equal(t, 2*time.Minute, getenvDuration("X_DURATION", 0))
	t.Setenv("X_DURATION", "soon")
	assert.Equal(t, time.Second, getenvDuration("X_DURATION", time.Second))
}
