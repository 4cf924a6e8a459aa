package model

import "time"

// Route is the 3-waypoint plan for one delivery: volunteer position at
// assignment time, donor location, receiver location, in that order.
type Route struct {
	ID          string      `json:"id"`
	PostingID   string      `json:"posting_id"`
	VolunteerID string      `json:"volunteer_id"`
	Waypoints   [3]Location `json:"waypoints"`

	EstimatedKm  float64   `json:"estimated_km"`
	EstimatedMin float64   `json:"estimated_min"`
	PickupETA    time.Time `json:"pickup_eta"`

	// DeadlineAtRisk flags an estimated donor arrival after the pickup
	// deadline. The assignment still proceeds; the deadline is a soft
	// constraint.
	DeadlineAtRisk bool `json:"deadline_at_risk,omitempty"`
	// StaleLocation flags that the volunteer position used for planning
	// was older than the configured staleness bound.
	StaleLocation   bool `json:"stale_location,omitempty"`
	PlannerDegraded bool `json:"planner_degraded,omitempty"`

	ActualKm  float64 `json:"actual_km,omitempty"`
	ActualMin float64 `json:"actual_min,omitempty"`

	AssignedAt  time.Time `json:"assigned_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// ReliabilityReason labels a reliability ledger event.
type ReliabilityReason string

const (
	ReasonLateArrival      ReliabilityReason = "late_arrival"
	ReasonCancellation     ReliabilityReason = "cancellation"
	ReasonOnTimeCompletion ReliabilityReason = "on_time_completion"
)

// ReliabilityEvent is one append-only score adjustment. The event log is
// the source of truth for reconstructing a volunteer's score.
type ReliabilityEvent struct {
	ID          string            `json:"id"`
	VolunteerID string            `json:"volunteer_id"`
	Delta       int               `json:"delta"`
	Reason      ReliabilityReason `json:"reason"`
	Timestamp   time.Time         `json:"timestamp"`
}
