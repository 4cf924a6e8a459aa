package events

import "time"

// ClaimEvent is published when a receiver wins a claim.
type ClaimEvent struct {
	PostingID  string
	ReceiverID string
	ClaimedAt  time.Time
}

// LateCancelEvent is published when a claimant cancels with less than
// half the spoilage window remaining. The escalation controller
// consumes it to trigger an emergency re-match.
type LateCancelEvent struct {
	PostingID   string
	ReceiverID  string
	Reason      string
	Remaining   time.Duration
	CancelledAt time.Time
}
