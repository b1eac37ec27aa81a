package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

type HTTPConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (h HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", h.Host, h.Port) }

// DecisionConfig tunes the automatic decision engine.
type DecisionConfig struct {
	MaxSnapshotAge       time.Duration `yaml:"max_snapshot_age"`
	TargetMoisture       float64       `yaml:"target_moisture"`
	MinutesPerPercent    float64       `yaml:"minutes_per_percent"`
	MaxIrrigationMinutes int           `yaml:"max_irrigation_minutes"`
	RainPauseMinutes     int           `yaml:"rain_pause_minutes"`
	CoolingMinutes       int           `yaml:"cooling_minutes"`
	WaterFull            float64       `yaml:"water_full"`
}

type CollectorMQTTConfig struct {
	MQTTConfig          `yaml:",inline"`
	Enabled             bool   `yaml:"enabled"`
	SnapshotTopic       string `yaml:"snapshot_topic"`
	RecommendationTopic string `yaml:"recommendation_topic"` // {device} is replaced
}

type InfluxConfig struct {
	URL             string        `yaml:"url"` // empty disables the event sink
	Token           string        `yaml:"token"`
	Org             string        `yaml:"org"`
	Bucket          string        `yaml:"bucket"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
}

type CollectorConfig struct {
	HTTP            HTTPConfig          `yaml:"http"`
	GRPCPort        int                 `yaml:"grpc_port"` // 0 disables the gRPC health server
	DefaultDeviceID string              `yaml:"default_device_id"`
	DefaultMode     entities.Mode       `yaml:"default_mode"`
	Decision        DecisionConfig      `yaml:"decision"`
	Thresholds      Thresholds          `yaml:"thresholds"`
	SampleInterval  time.Duration       `yaml:"sample_interval"` // advertised on /api/constants
	MQTT            CollectorMQTTConfig `yaml:"mqtt"`
	Influx          InfluxConfig        `yaml:"influx"`
	DedupTTL        time.Duration       `yaml:"dedup_ttl"`
	Log             LogConfig           `yaml:"log"`
}

func DefaultCollector() CollectorConfig {
	return CollectorConfig{
		HTTP: HTTPConfig{
			Port:           5000,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			RequestTimeout: 5 * time.Second,
		},
		GRPCPort:        50051,
		DefaultDeviceID: "plot-1",
		DefaultMode:     entities.ModeAutomatic,
		Decision: DecisionConfig{
			MaxSnapshotAge:       30 * time.Second,
			TargetMoisture:       45,
			MinutesPerPercent:    1,
			MaxIrrigationMinutes: 30,
			RainPauseMinutes:     30,
			CoolingMinutes:       10,
			WaterFull:            1000,
		},
		Thresholds:     DefaultThresholds(),
		SampleInterval: 2 * time.Second,
		MQTT: CollectorMQTTConfig{
			MQTTConfig:          MQTTConfig{Host: "localhost", Port: 1883, User: "guest", Password: "guest", ClientID: "collector"},
			SnapshotTopic:       "sensor/snapshot/+",
			RecommendationTopic: "event/recommendation/{device}",
		},
		Influx: InfluxConfig{
			Bucket:          "recommendations",
			WriteTimeout:    2 * time.Second,
			BreakerFailures: 3,
			BreakerOpenFor:  30 * time.Second,
		},
		DedupTTL: 2 * time.Minute,
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// LoadCollector reads defaults, then the optional YAML file, then env overrides.
func LoadCollector(path string) (*CollectorConfig, error) {
	cfg := DefaultCollector()
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("collector config: %w", err)
	}
	return &cfg, nil
}

func (c *CollectorConfig) applyEnvOverrides() {
	envInt("PORT", &c.HTTP.Port)
	envInt("GRPC_PORT", &c.GRPCPort)
	envStr("DEFAULT_DEVICE_ID", &c.DefaultDeviceID)
	var mode string
	envStr("DEFAULT_MODE", &mode)
	if mode != "" {
		c.DefaultMode = entities.Mode(mode)
	}
	envDuration("MAX_SNAPSHOT_AGE", &c.Decision.MaxSnapshotAge)
	envInt("MAX_IRRIGATION_MINUTES", &c.Decision.MaxIrrigationMinutes)
	envInt("RAIN_PAUSE_MINUTES", &c.Decision.RainPauseMinutes)
	envBool("MQTT_ENABLED", &c.MQTT.Enabled)
	envStr("INFLUX_URL", &c.Influx.URL)
	envStr("INFLUX_TOKEN", &c.Influx.Token)
	envStr("INFLUX_ORG", &c.Influx.Org)
	envStr("INFLUX_BUCKET", &c.Influx.Bucket)
	c.Thresholds.applyEnv()
	c.MQTT.applyEnv()
	c.Log.applyEnv()
}

func (c *CollectorConfig) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port out of range: %d", c.HTTP.Port)
	}
	if strings.TrimSpace(c.DefaultDeviceID) == "" {
		return fmt.Errorf("default_device_id is required")
	}
	if _, err := entities.ParseMode(string(c.DefaultMode)); err != nil {
		return fmt.Errorf("default_mode: %w", err)
	}
	d := c.Decision
	if d.MaxSnapshotAge <= 0 {
		return fmt.Errorf("decision.max_snapshot_age %w", errPositive)
	}
	if d.TargetMoisture <= 0 || d.TargetMoisture > 100 {
		return fmt.Errorf("decision.target_moisture must be in (0,100], got %v", d.TargetMoisture)
	}
	if d.MaxIrrigationMinutes <= 0 || d.RainPauseMinutes <= 0 || d.WaterFull <= 0 {
		return fmt.Errorf("decision durations and water_full %w", errPositive)
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("influx.org and influx.bucket are required when influx.url is set")
	}
	return c.Thresholds.Validate()
}
