package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadEdge_Defaults(t *testing.T) {
	cfg, err := LoadEdge("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Sampling.Samples)
	assert.Equal(t, 10*time.Millisecond, cfg.Sampling.SampleDelay)
	assert.Equal(t, 2, cfg.Sampling.RainDebounce)
	assert.Equal(t, 3, cfg.Link.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Reporter.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Loop.SampleInterval)
	assert.Equal(t, 30*time.Second, cfg.Loop.LinkCheckInterval)
	assert.Equal(t, DefaultThresholds(), cfg.Thresholds)
	assert.Equal(t, "edge-plot-1", cfg.MQTT.ClientID)
}

func TestLoadEdge_FileThenEnv(t *testing.T) {
	p := writeFile(t, `
device:
  id: plot-7
loop:
  sample_interval: 5s
thresholds:
  heat_threshold: 38
reporter:
  timeout: 1500ms
`)
	t.Setenv("SAMPLES_PER_CYCLE", "9")
	t.Setenv("HEAT_THRESHOLD", "40,5")

	cfg, err := LoadEdge(p)
	require.NoError(t, err)

	assert.Equal(t, "plot-7", cfg.Device.ID)
	assert.Equal(t, 5*time.Second, cfg.Loop.SampleInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Reporter.Timeout)
	assert.Equal(t, 9, cfg.Sampling.Samples)
	assert.InDelta(t, 40.5, cfg.Thresholds.HeatThreshold, 1e-9)
	// untouched keys keep their defaults
	assert.InDelta(t, 200, cfg.Thresholds.WaterCritical, 1e-9)
}

func TestEdgeValidate_Rejects(t *testing.T) {
	cases := map[string]func(*EdgeConfig){
		"no samples":     func(c *EdgeConfig) { c.Sampling.Samples = 0 },
		"no attempts":    func(c *EdgeConfig) { c.Link.MaxAttempts = 0 },
		"bad transport":  func(c *EdgeConfig) { c.Reporter.Transport = "carrier-pigeon" },
		"bad source":     func(c *EdgeConfig) { c.Source.Kind = "usb" },
		"empty device":   func(c *EdgeConfig) { c.Device.ID = " " },
		"zero timeout":   func(c *EdgeConfig) { c.Reporter.Timeout = 0 },
		"soil threshold": func(c *EdgeConfig) { c.Thresholds.IrrigationThreshold = 120 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultEdge()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestCalibration_Map(t *testing.T) {
	soil := Calibration{RawA: 3200, OutA: 0, RawB: 1300, OutB: 100}
	assert.InDelta(t, 0, soil.Map(3200), 1e-9)
	assert.InDelta(t, 100, soil.Map(1300), 1e-9)
	assert.InDelta(t, 50, soil.Map(2250), 1e-9)
	// no clamping at this layer
	assert.Less(t, soil.Map(4000), 0.0)

	flat := Calibration{RawA: 10, OutA: 7, RawB: 10, OutB: 9}
	assert.InDelta(t, 7, flat.Map(500), 1e-9)
}

func TestLoadCollector(t *testing.T) {
	p := writeFile(t, `
default_device_id: greenhouse
default_mode: manual
mqtt:
  enabled: true
  host: broker
decision:
  max_snapshot_age: 1m
`)
	t.Setenv("PORT", "8081")

	cfg, err := LoadCollector(p)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.HTTP.Port)
	assert.Equal(t, "greenhouse", cfg.DefaultDeviceID)
	assert.Equal(t, entities.ModeManual, cfg.DefaultMode)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "broker", cfg.MQTT.Host)
	assert.Equal(t, "sensor/snapshot/+", cfg.MQTT.SnapshotTopic)
	assert.Equal(t, time.Minute, cfg.Decision.MaxSnapshotAge)
	assert.Equal(t, 30, cfg.Decision.MaxIrrigationMinutes)
}

func TestLoadCollector_Invalid(t *testing.T) {
	_, err := LoadCollector(writeFile(t, "default_mode: sometimes\n"))
	assert.Error(t, err)

	_, err = LoadCollector(writeFile(t, "influx:\n  url: http://influx:8086\n  org: \"\"\n"))
	assert.Error(t, err)

	_, err = LoadCollector(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
