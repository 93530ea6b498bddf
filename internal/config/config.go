package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	escalation "safeflame/internal/escalation/domain"
)

// Config is the process configuration.
type Config struct {
	HTTPAddr    string            `yaml:"http_addr"`
	DatabaseURL string            `yaml:"database_url"`
	Log         LogConfig         `yaml:"log"`
	Engine      EngineConfig      `yaml:"engine"`
	Zones       []escalation.Zone `yaml:"zones"`
	Hazards     HazardsConfig     `yaml:"hazards"`
	Capture     CaptureConfig     `yaml:"capture"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	LLM         LLMConfig         `yaml:"llm"`
	Voice       VoiceConfig       `yaml:"voice"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Auth        AuthConfig        `yaml:"auth"`
}

// LogConfig selects level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig selects a profile and optional per-field overrides.
type EngineConfig struct {
	Profile             string        `yaml:"profile"`
	InfoAfter           time.Duration `yaml:"info_after"`
	WarningAfter        time.Duration `yaml:"warning_after"`
	CriticalAfter       time.Duration `yaml:"critical_after"`
	Cooldown            time.Duration `yaml:"cooldown"`
	AssumeBurnersActive *bool         `yaml:"assume_burners_active"`
}

// HazardsConfig tunes frame analysis.
type HazardsConfig struct {
	ProximityPx     float64  `yaml:"proximity_px"`
	FlammableLabels []string `yaml:"flammable_labels"`
}

// CaptureConfig tunes the producer loop.
type CaptureConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

// DispatchConfig tunes sink queues.
type DispatchConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// MQTTConfig configures the broker connection. Empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FramesTopic string `yaml:"frames_topic"`
	AlertsTopic string `yaml:"alerts_topic"`
	QoS         byte   `yaml:"qos"`
}

// LLMConfig configures the advisor.
type LLMConfig struct {
	Enabled         bool          `yaml:"enabled"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheSize       int           `yaml:"cache_size"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
}

// VoiceConfig configures spoken alerts.
type VoiceConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Command        string  `yaml:"command"`
	Rate           int     `yaml:"rate"`
	VolumeInfo     float64 `yaml:"volume_info"`
	VolumeWarning  float64 `yaml:"volume_warning"`
	VolumeCritical float64 `yaml:"volume_critical"`
}

// WebhookConfig configures the chat webhook sink. Empty URL disables it.
type WebhookConfig struct {
	URL      string `yaml:"url"`
	Template string `yaml:"template"`
}

// AuthConfig configures API and ingest authentication.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	IngestSecret  string        `yaml:"ingest_secret"`
	IngestMaxSkew time.Duration `yaml:"ingest_max_skew"`
}

// DefaultFlammableLabels are detector labels treated as flammable near a burner.
var DefaultFlammableLabels = []string{
	"bottle", "cup", "cell phone", "book", "paper",
	"backpack", "handbag", "tie", "umbrella", "suitcase",
	"wine glass", "teddy bear", "laptop", "remote",
	"keyboard", "mouse", "hair drier", "scissors",
	"potted plant", "vase",
}

// Load reads the environment, then overlays the YAML file named by SAFEFLAME_CONFIG.
func Load() (Config, error) {
	cfg := fromEnv()
	if path := os.Getenv("SAFEFLAME_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func fromEnv() Config {
	cfg := Config{
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8000"),
		DatabaseURL: getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		Log: LogConfig{
			Level:  getenvDefault("LOG_LEVEL", "info"),
			Format: getenvDefault("LOG_FORMAT", "json"),
		},
		Engine: EngineConfig{
			Profile:       getenvDefault("SAFEFLAME_PROFILE", escalation.ProfileDefault),
			InfoAfter:     getenvDuration("UNATTENDED_INFO_AFTER", 0),
			WarningAfter:  getenvDuration("UNATTENDED_WARNING_AFTER", 0),
			CriticalAfter: getenvDuration("UNATTENDED_CRITICAL_AFTER", 0),
			Cooldown:      getenvDuration("ALERT_COOLDOWN", 0),
		},
		Hazards: HazardsConfig{
			ProximityPx:     getenvFloatDefault("PROXIMITY_DISTANCE_PX", 150),
			FlammableLabels: splitCSV(os.Getenv("FLAMMABLE_LABELS")),
		},
		Capture: CaptureConfig{
			QueueSize:      getenvIntDefault("CAPTURE_QUEUE_SIZE", 8),
			StatusInterval: getenvDuration("STATUS_INTERVAL", time.Second),
		},
		Dispatch: DispatchConfig{
			QueueSize:   getenvIntDefault("SINK_QUEUE_SIZE", 32),
			SinkTimeout: getenvDuration("SINK_TIMEOUT", 10*time.Second),
		},
		MQTT: MQTTConfig{
			Broker:      os.Getenv("MQTT_BROKER"),
			ClientID:    getenvDefault("MQTT_CLIENT_ID", "safeflame"),
			Username:    os.Getenv("MQTT_USERNAME"),
			Password:    os.Getenv("MQTT_PASSWORD"),
			FramesTopic: getenvDefault("MQTT_FRAMES_TOPIC", "safeflame/frames"),
			AlertsTopic: getenvDefault("MQTT_ALERTS_TOPIC", "safeflame/alerts"),
			QoS:         byte(getenvIntDefault("MQTT_QOS", 1)),
		},
		LLM: LLMConfig{
			Enabled:         getenvBool("LLM_ENABLED", true),
			BaseURL:         getenvDefault("OLLAMA_URL", "http://localhost:11434"),
			Model:           getenvDefault("OLLAMA_MODEL", "llama3.1:8b"),
			Timeout:         getenvDuration("LLM_TIMEOUT", 5*time.Second),
			CacheSize:       getenvIntDefault("LLM_CACHE_SIZE", 100),
			BreakerFailures: uint32(getenvIntDefault("LLM_BREAKER_FAILURES", 3)),
			BreakerOpenFor:  getenvDuration("LLM_BREAKER_OPEN_FOR", 30*time.Second),
		},
		Voice: VoiceConfig{
			Enabled:        getenvBool("VOICE_ENABLED", true),
			Command:        getenvDefault("VOICE_COMMAND", "espeak"),
			Rate:           getenvIntDefault("VOICE_RATE", 175),
			VolumeInfo:     getenvFloatDefault("VOICE_VOLUME_INFO", 0.7),
			VolumeWarning:  getenvFloatDefault("VOICE_VOLUME_WARNING", 0.9),
			VolumeCritical: getenvFloatDefault("VOICE_VOLUME_CRITICAL", 1.0),
		},
		Webhook: WebhookConfig{
			URL:      os.Getenv("ALERT_WEBHOOK_URL"),
			Template: os.Getenv("ALERT_WEBHOOK_TEMPLATE"),
		},
		Auth: AuthConfig{
			JWTSecret:     getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
			IngestSecret:  os.Getenv("INGEST_HMAC_SECRET"),
			IngestMaxSkew: getenvDuration("INGEST_MAX_SKEW", 5*time.Minute),
		},
	}
	if value := os.Getenv("ASSUME_BURNERS_ACTIVE"); value != "" {
		active := getenvBool("ASSUME_BURNERS_ACTIVE", false)
		cfg.Engine.AssumeBurnersActive = &active
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8000"
	}
	if c.Hazards.ProximityPx <= 0 {
		c.Hazards.ProximityPx = 150
	}
	if len(c.Hazards.FlammableLabels) == 0 {
		c.Hazards.FlammableLabels = append([]string(nil), DefaultFlammableLabels...)
	}
	if c.Capture.QueueSize <= 0 {
		c.Capture.QueueSize = 8
	}
	if c.Capture.StatusInterval <= 0 {
		c.Capture.StatusInterval = time.Second
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 32
	}
	if c.Dispatch.SinkTimeout <= 0 {
		c.Dispatch.SinkTimeout = 10 * time.Second
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 5 * time.Second
	}
	if c.LLM.CacheSize <= 0 {
		c.LLM.CacheSize = 100
	}
}

// Settings resolves the engine profile and applies explicit overrides.
func (c Config) Settings() (escalation.Settings, error) {
	settings, err := escalation.ProfileSettings(c.Engine.Profile)
	if err != nil {
		return settings, err
	}
	if c.Engine.InfoAfter > 0 {
		settings.InfoAfter = c.Engine.InfoAfter
	}
	if c.Engine.WarningAfter > 0 {
		settings.WarningAfter = c.Engine.WarningAfter
	}
	if c.Engine.CriticalAfter > 0 {
		settings.CriticalAfter = c.Engine.CriticalAfter
	}
	if c.Engine.Cooldown > 0 {
		settings.Cooldown = c.Engine.Cooldown
	}
	if c.Engine.AssumeBurnersActive != nil {
		settings.AssumeBurnersActive = *c.Engine.AssumeBurnersActive
	}
	return settings, settings.Validate()
}

// Validate checks the configuration once at load time.
func (c Config) Validate() error {
	if _, err := c.Settings(); err != nil {
		return fmt.Errorf("config: engine: %w", err)
	}
	if err := escalation.ValidateZoneSet(c.Zones); err != nil {
		return fmt.Errorf("config: zones: %w", err)
	}
	for name, volume := range map[string]float64{
		"info":     c.Voice.VolumeInfo,
		"warning":  c.Voice.VolumeWarning,
		"critical": c.Voice.VolumeCritical,
	} {
		if volume < 0 || volume > 1 {
			return fmt.Errorf("config: voice volume %s out of range: %v", name, volume)
		}
	}
	if c.MQTT.Broker != "" && c.MQTT.QoS > 2 {
		return errors.New("config: mqtt qos must be 0, 1 or 2")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration accepts Go durations ("30s") or bare seconds ("30").
func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
