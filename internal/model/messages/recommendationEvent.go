package messages

import "time"

// RecommendationEvent is published by the collector each time the decision
// engine produces a recommendation in automatic mode.
type RecommendationEvent struct {
	ID              string    `json:"id"`
	DeviceID        string    `json:"device_id"`
	Action          string    `json:"action"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Score           float64   `json:"score"`
	Rationale       string    `json:"rationale"`
	Status          string    `json:"status"`
	SnapshotTime    time.Time `json:"snapshot_time"`
	Timestamp       time.Time `json:"timestamp"`
}
