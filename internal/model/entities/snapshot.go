package entities

import "time"

// Readings holds the aggregated channel values of one cycle.
type Readings struct {
	Temperature  float64 `json:"temperature"`   // °C
	Humidity     float64 `json:"humidity"`      // %RH
	SoilMoisture float64 `json:"soil_moisture"` // % in [0,100]
	WaterLevel   float64 `json:"water_level"`   // litres, >= 0
	RainDetected bool    `json:"rain_detected"`
	PumpRunning  bool    `json:"pump_running"`
}

// Snapshot is one fully aggregated and classified reading set. It is passed
// by value; a new cycle builds a new one.
type Snapshot struct {
	Readings
	LinkConnected bool      `json:"link_connected"`
	Timestamp     time.Time `json:"timestamp"`
	Condition     Condition `json:"condition"`
}

func NewSnapshot(r Readings, cond Condition, linkConnected bool, ts time.Time) Snapshot {
	return Snapshot{
		Readings:      r,
		LinkConnected: linkConnected,
		Timestamp:     ts,
		Condition:     cond,
	}
}

func (s Snapshot) Status() string  { return s.Condition.Status() }
func (s Snapshot) EcoMode() string { return s.Condition.EcoMode() }
