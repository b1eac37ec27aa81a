package config

import (
	"fmt"
	"strings"
	"time"
)

// Calibration is a two-point linear map from raw ADC counts to a physical unit.
// RawA may be greater than RawB (capacitive soil probes read lower when wet).
type Calibration struct {
	RawA float64 `yaml:"raw_a"`
	OutA float64 `yaml:"out_a"`
	RawB float64 `yaml:"raw_b"`
	OutB float64 `yaml:"out_b"`
}

// Map applies the calibration without clamping.
func (c Calibration) Map(raw float64) float64 {
	if c.RawB == c.RawA {
		return c.OutA
	}
	return c.OutA + (raw-c.RawA)*(c.OutB-c.OutA)/(c.RawB-c.RawA)
}

type DeviceConfig struct {
	ID            string `yaml:"id"`
	SystemVersion string `yaml:"system_version"`
	IP            string `yaml:"ip"`        // empty: detected from the outbound route
	Interface     string `yaml:"interface"` // wireless interface used for signal strength
}

type LoopConfig struct {
	SampleInterval    time.Duration `yaml:"sample_interval"`
	LinkCheckInterval time.Duration `yaml:"link_check_interval"`
	Tick              time.Duration `yaml:"tick"`
}

type SamplingConfig struct {
	Samples      int           `yaml:"samples"`
	SampleDelay  time.Duration `yaml:"sample_delay"`
	RainDebounce int           `yaml:"rain_debounce"`
	AdcMax       float64       `yaml:"adc_max"`
	TempMin      float64       `yaml:"temp_min"`
	TempMax      float64       `yaml:"temp_max"`
	HumidityMin  float64       `yaml:"humidity_min"`
	HumidityMax  float64       `yaml:"humidity_max"`
	Soil         Calibration   `yaml:"soil"`
	Water        Calibration   `yaml:"water"`
	WaterMax     float64       `yaml:"water_max"`
}

type LinkConfig struct {
	ProbeAddr      string        `yaml:"probe_addr"` // host:port; empty derives it from the reporter endpoint
	HealthTimeout  time.Duration `yaml:"health_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	ReconnectCmd   []string      `yaml:"reconnect_cmd"` // e.g. [wpa_cli, -i, wlan0, reassociate]; empty only re-probes
}

type ReporterConfig struct {
	Transport string        `yaml:"transport"` // http | mqtt
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
	Topic     string        `yaml:"topic"` // mqtt only, {device} is replaced
}

type SourceConfig struct {
	Kind         string  `yaml:"kind"` // simulator | raspi
	RainPin      string  `yaml:"rain_pin"`
	PumpPin      string  `yaml:"pump_pin"`
	LedPin       string  `yaml:"led_pin"`
	SoilChannel  int     `yaml:"soil_channel"`
	WaterChannel int     `yaml:"water_channel"`
	Seed         int64   `yaml:"seed"`
	GlitchRate   float64 `yaml:"glitch_rate"`
}

type EdgeConfig struct {
	Device      DeviceConfig   `yaml:"device"`
	Loop        LoopConfig     `yaml:"loop"`
	Sampling    SamplingConfig `yaml:"sampling"`
	Thresholds  Thresholds     `yaml:"thresholds"`
	Link        LinkConfig     `yaml:"link"`
	Reporter    ReporterConfig `yaml:"reporter"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	Source      SourceConfig   `yaml:"source"`
	MetricsAddr string         `yaml:"metrics_addr"`
	Log         LogConfig      `yaml:"log"`
}

func DefaultEdge() EdgeConfig {
	return EdgeConfig{
		Device: DeviceConfig{ID: "plot-1", SystemVersion: "8.3", Interface: "wlan0"},
		Loop: LoopConfig{
			SampleInterval:    2 * time.Second,
			LinkCheckInterval: 30 * time.Second,
			Tick:              50 * time.Millisecond,
		},
		Sampling: SamplingConfig{
			Samples:      5,
			SampleDelay:  10 * time.Millisecond,
			RainDebounce: 2,
			AdcMax:       4095,
			TempMin:      -40,
			TempMax:      80,
			HumidityMin:  0,
			HumidityMax:  100,
			Soil:         Calibration{RawA: 3200, OutA: 0, RawB: 1300, OutB: 100},
			Water:        Calibration{RawA: 0, OutA: 0, RawB: 4095, OutB: 1000},
			WaterMax:     1000,
		},
		Thresholds: DefaultThresholds(),
		Link: LinkConfig{
			HealthTimeout:  2 * time.Second,
			MaxAttempts:    3,
			AttemptTimeout: 5 * time.Second,
			BackoffInitial: 500 * time.Millisecond,
			BackoffMax:     4 * time.Second,
		},
		Reporter: ReporterConfig{
			Transport: "http",
			Endpoint:  "http://localhost:5000/api/sensors",
			Timeout:   3 * time.Second,
			Topic:     "sensor/snapshot/{device}",
		},
		MQTT:   MQTTConfig{Host: "localhost", Port: 1883, User: "guest", Password: "guest"},
		Source: SourceConfig{Kind: "simulator", RainPin: "11", PumpPin: "32", LedPin: "12", SoilChannel: 0, WaterChannel: 1, GlitchRate: 0.05},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// LoadEdge reads defaults, then the optional YAML file, then env overrides.
func LoadEdge(path string) (*EdgeConfig, error) {
	cfg := DefaultEdge()
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "edge-" + cfg.Device.ID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("edge config: %w", err)
	}
	return &cfg, nil
}

func (c *EdgeConfig) applyEnvOverrides() {
	envStr("DEVICE_ID", &c.Device.ID)
	envStr("SYSTEM_VERSION", &c.Device.SystemVersion)
	envStr("DEVICE_IP", &c.Device.IP)
	envStr("WIFI_INTERFACE", &c.Device.Interface)
	envDuration("SAMPLE_INTERVAL", &c.Loop.SampleInterval)
	envDuration("LINK_CHECK_INTERVAL", &c.Loop.LinkCheckInterval)
	envInt("SAMPLES_PER_CYCLE", &c.Sampling.Samples)
	envInt("RAIN_DEBOUNCE", &c.Sampling.RainDebounce)
	envStr("COLLECTOR_URL", &c.Reporter.Endpoint)
	envStr("REPORT_TRANSPORT", &c.Reporter.Transport)
	envDuration("REPORT_TIMEOUT", &c.Reporter.Timeout)
	envStr("LINK_PROBE_ADDR", &c.Link.ProbeAddr)
	envInt("LINK_MAX_ATTEMPTS", &c.Link.MaxAttempts)
	envStr("SENSOR_SOURCE", &c.Source.Kind)
	envStr("METRICS_ADDR", &c.MetricsAddr)
	c.Thresholds.applyEnv()
	c.MQTT.applyEnv()
	c.Log.applyEnv()
}

func (c *EdgeConfig) Validate() error {
	if strings.TrimSpace(c.Device.ID) == "" {
		return fmt.Errorf("device.id is required")
	}
	if c.Loop.SampleInterval <= 0 || c.Loop.LinkCheckInterval <= 0 {
		return fmt.Errorf("loop intervals %w", errPositive)
	}
	if c.Loop.Tick <= 0 {
		c.Loop.Tick = 50 * time.Millisecond
	}
	if c.Sampling.Samples < 1 {
		return fmt.Errorf("sampling.samples must be >= 1, got %d", c.Sampling.Samples)
	}
	if c.Sampling.RainDebounce < 1 {
		return fmt.Errorf("sampling.rain_debounce must be >= 1, got %d", c.Sampling.RainDebounce)
	}
	if c.Sampling.WaterMax <= 0 {
		return fmt.Errorf("sampling.water_max %w", errPositive)
	}
	if c.Link.MaxAttempts < 1 {
		return fmt.Errorf("link.max_attempts must be >= 1, got %d", c.Link.MaxAttempts)
	}
	if c.Reporter.Timeout <= 0 {
		return fmt.Errorf("reporter.timeout %w", errPositive)
	}
	switch c.Reporter.Transport {
	case "http", "mqtt":
	default:
		return fmt.Errorf("reporter.transport must be http or mqtt, got %q", c.Reporter.Transport)
	}
	switch c.Source.Kind {
	case "simulator", "raspi":
	default:
		return fmt.Errorf("source.kind must be simulator or raspi, got %q", c.Source.Kind)
	}
	return c.Thresholds.Validate()
}
