package entities

import (
	"fmt"
	"time"
)

// Mode tells the collector whether the decision engine runs for a device.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAutomatic, ModeManual:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q, use 'automatic' or 'manual'", s)
}

// Action is the advisory outcome of a decision.
type Action string

const (
	ActionRefillReservoir Action = "refill_reservoir"
	ActionIrrigate        Action = "irrigate"
	ActionPauseIrrigation Action = "pause_irrigation"
	ActionCoolingCycle    Action = "cooling_cycle"
	ActionMonitor         Action = "monitor"
)

// Recommendation is produced by the decision engine; it is never sent to the
// edge device as a command.
type Recommendation struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	Action          Action    `json:"action"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Score           float64   `json:"score"` // 0..100, higher is closer to optimal
	Rationale       string    `json:"rationale"`
	Status          string    `json:"status"`
	SnapshotTime    time.Time `json:"snapshot_time"`
}

// ModeState is the per-device record kept by the collector.
type ModeState struct {
	DeviceID       string          `json:"device_id"`
	Mode           Mode            `json:"mode"`
	Snapshot       *Snapshot       `json:"snapshot,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Declined       string          `json:"declined,omitempty"` // why the engine produced nothing
	Updates        int64           `json:"updates"`
}
