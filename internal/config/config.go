package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds drive the status classifier and the decision engine rationale.
type Thresholds struct {
	WaterCritical       float64 `yaml:"water_critical"`       // litres
	IrrigationThreshold float64 `yaml:"irrigation_threshold"` // soil moisture %
	HeatThreshold       float64 `yaml:"heat_threshold"`       // °C
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		WaterCritical:       200,
		IrrigationThreshold: 30,
		HeatThreshold:       35,
	}
}

func (t Thresholds) Validate() error {
	if t.WaterCritical < 0 {
		return fmt.Errorf("water_critical must be >= 0, got %v", t.WaterCritical)
	}
	if t.IrrigationThreshold < 0 || t.IrrigationThreshold > 100 {
		return fmt.Errorf("irrigation_threshold must be in [0,100], got %v", t.IrrigationThreshold)
	}
	return nil
}

// MQTTConfig is the broker connection shared by edge and collector.
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// loadYAML overlays the file at path onto out. An empty path keeps the defaults.
func loadYAML(path string, out any) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// ===== env helpers =====

func envStr(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func (m *MQTTConfig) applyEnv() {
	envStr("RABBITMQ_HOST", &m.Host)
	envInt("RABBITMQ_PORT", &m.Port)
	envStr("RABBITMQ_USER", &m.User)
	envStr("RABBITMQ_PASSWORD", &m.Password)
	envStr("MQTT_CLIENT_ID", &m.ClientID)
}

func (t *Thresholds) applyEnv() {
	envFloat("WATER_CRITICAL", &t.WaterCritical)
	envFloat("IRRIGATION_THRESHOLD", &t.IrrigationThreshold)
	envFloat("HEAT_THRESHOLD", &t.HeatThreshold)
}

func (l *LogConfig) applyEnv() {
	envStr("LOG_LEVEL", &l.Level)
	envStr("LOG_FORMAT", &l.Format)
}

var errPositive = errors.New("must be positive")
