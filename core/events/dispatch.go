package events

import "time"

// AssignmentEvent is published when a volunteer is assigned a route.
type AssignmentEvent struct {
	PostingID      string
	VolunteerID    string
	DeadlineAtRisk bool
	PickupETA      time.Time
}

// AssignmentQueuedEvent is published when no volunteer was available
// and the assignment entered the retry queue.
type AssignmentQueuedEvent struct {
	PostingID string
}
