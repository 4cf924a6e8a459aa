package events

import "time"

// Escalation trigger labels.
const (
	TriggerRadiusExpansion = "radius_expansion"
	TriggerAutoExpiry      = "auto_expiry"
	TriggerEmergencyMatch  = "emergency_rematch"
)

// EscalationEvent is published when a watcher trigger fires.
type EscalationEvent struct {
	PostingID string
	Trigger   string
	RadiusKm  float64
	Remaining time.Duration
	At        time.Time
}
