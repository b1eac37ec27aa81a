package entities

import "time"

// LinkPhase is the wireless link lifecycle as seen by the edge device.
type LinkPhase string

const (
	LinkPending      LinkPhase = "pending"
	LinkConnected    LinkPhase = "connected"
	LinkDegraded     LinkPhase = "degraded"
	LinkReconnecting LinkPhase = "reconnecting"
	LinkFailedHard   LinkPhase = "failed_hard"
)

// DeviceLinkState is owned by the connectivity manager; everyone else gets a copy.
type DeviceLinkState struct {
	Phase               LinkPhase `json:"phase"`
	Connected           bool      `json:"connected"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check"`
}
