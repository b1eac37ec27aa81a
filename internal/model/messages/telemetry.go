package messages

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

var ErrInvalidSnapshot = errors.New("invalid snapshot")

// DeviceMeta is the static part of every telemetry payload.
type DeviceMeta struct {
	DeviceID       string
	DeviceIP       string
	SystemVersion  string
	SignalStrength int // dBm
	Uptime         time.Duration
}

// TelemetryPayload is the JSON object the edge posts once per cycle.
type TelemetryPayload struct {
	DeviceID       string  `json:"device_id,omitempty"`
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
	SoilMoisture   float64 `json:"soil_moisture"`
	WaterLevel     int     `json:"water_level"`
	RainDetected   bool    `json:"rain_detected"`
	PumpRunning    bool    `json:"pump_running"`
	DeviceIP       string  `json:"device_ip"`
	LinkConnected  bool    `json:"link_connected"`
	LastUpdated    string  `json:"last_updated"` // RFC3339
	Status         string  `json:"status"`
	EcoMode        string  `json:"eco_mode"`
	SignalStrength int     `json:"signal_strength"`
	Uptime         int64   `json:"uptime"` // seconds
	SystemVersion  string  `json:"system_version"`
}

// NewTelemetryPayload rounds temperature, humidity and soil moisture to one
// decimal and water level to an integer.
func NewTelemetryPayload(s entities.Snapshot, meta DeviceMeta) TelemetryPayload {
	return TelemetryPayload{
		DeviceID:       meta.DeviceID,
		Temperature:    round1(s.Temperature),
		Humidity:       round1(s.Humidity),
		SoilMoisture:   round1(s.SoilMoisture),
		WaterLevel:     int(math.Round(s.WaterLevel)),
		RainDetected:   s.RainDetected,
		PumpRunning:    s.PumpRunning,
		DeviceIP:       meta.DeviceIP,
		LinkConnected:  s.LinkConnected,
		LastUpdated:    s.Timestamp.UTC().Format(time.RFC3339),
		Status:         s.Status(),
		EcoMode:        s.EcoMode(),
		SignalStrength: meta.SignalStrength,
		Uptime:         int64(meta.Uptime / time.Second),
		SystemVersion:  meta.SystemVersion,
	}
}

// Snapshot rebuilds and validates the snapshot carried by a payload.
func (p TelemetryPayload) Snapshot() (entities.Snapshot, error) {
	cond, err := entities.ParseCondition(p.Status, p.EcoMode)
	if err != nil {
		return entities.Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if math.IsNaN(p.SoilMoisture) || p.SoilMoisture < 0 || p.SoilMoisture > 100 {
		return entities.Snapshot{}, fmt.Errorf("%w: soil_moisture %.1f outside [0,100]", ErrInvalidSnapshot, p.SoilMoisture)
	}
	if p.WaterLevel < 0 {
		return entities.Snapshot{}, fmt.Errorf("%w: negative water_level %d", ErrInvalidSnapshot, p.WaterLevel)
	}
	if math.IsNaN(p.Temperature) || math.IsNaN(p.Humidity) {
		return entities.Snapshot{}, fmt.Errorf("%w: NaN climate reading", ErrInvalidSnapshot)
	}

	var ts time.Time
	if v := strings.TrimSpace(p.LastUpdated); v != "" {
		ts, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return entities.Snapshot{}, fmt.Errorf("%w: last_updated: %v", ErrInvalidSnapshot, err)
		}
	}

	r := entities.Readings{
		Temperature:  p.Temperature,
		Humidity:     p.Humidity,
		SoilMoisture: p.SoilMoisture,
		WaterLevel:   float64(p.WaterLevel),
		RainDetected: p.RainDetected,
		PumpRunning:  p.PumpRunning,
	}
	return entities.NewSnapshot(r, cond, p.LinkConnected, ts), nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
