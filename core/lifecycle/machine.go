// Package lifecycle owns posting state. It is the only component that
// mutates a posting's status and history; all changes go through the
// per-posting locks of the Store and the edge table of this file.
package lifecycle

import (
	"time"

	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/model"
)

// forwardEdges is the exhaustive table of valid transitions. Cancelled
// and expired are additionally reachable from every non-terminal state.
// Rolling an in-flight posting back to claimed is not an edge here; it
// only happens through Recover when the volunteer drops out.
var forwardEdges = map[model.PostingStatus][]model.PostingStatus{
	model.StatusAvailable:       {model.StatusClaimed},
	model.StatusClaimed:         {model.StatusAssigned, model.StatusAvailable},
	model.StatusAssigned:        {model.StatusEnRoutePickup},
	model.StatusEnRoutePickup:   {model.StatusPickingUp},
	model.StatusPickingUp:       {model.StatusEnRouteDelivery},
	model.StatusEnRouteDelivery: {model.StatusDelivering},
	model.StatusDelivering:      {model.StatusDelivered},
}

// recoverable lists the in-flight states a volunteer drop-out rolls
// back from.
var recoverable = map[model.PostingStatus]bool{
	model.StatusAssigned:        true,
	model.StatusEnRoutePickup:   true,
	model.StatusPickingUp:       true,
	model.StatusEnRouteDelivery: true,
	model.StatusDelivering:      true,
}

// CanTransition reports whether from -> to is a valid edge.
func CanTransition(from, to model.PostingStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == model.StatusCancelled || to == model.StatusExpired {
		return true
	}
	for _, next := range forwardEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition advances the posting to the next status, appending a
// history snapshot. It fails with InvalidTransitionError on any edge
// outside the table, leaving the posting untouched.
func Transition(p *model.Posting, to model.PostingStatus, now time.Time, note string) error {
	if !to.IsValid() {
		return &faults.ValidationError{Field: "status", Reason: "unknown status " + to.String()}
	}
	if !CanTransition(p.Status, to) {
		return &faults.InvalidTransitionError{From: p.Status.String(), To: to.String()}
	}
	p.Status = to
	p.UpdatedAt = now
	p.History = append(p.History, model.HistorySnapshot{
		Timestamp: now,
		Status:    to,
		ClaimedBy: p.ClaimedBy,
		Volunteer: p.Volunteer,
		Note:      note,
	})
	return nil
}

// Recover rolls an in-flight posting back to claimed after its
// volunteer drops out. The receiver's claim survives, the volunteer
// slot is cleared so dispatch can pick a replacement, and the rollback
// lands in history. Status-update callers never reach this edge; it is
// reserved for the assignment-cancellation path.
func Recover(p *model.Posting, now time.Time, note string) error {
	if !recoverable[p.Status] {
		return &faults.InvalidTransitionError{From: p.Status.String(), To: model.StatusClaimed.String()}
	}
	p.Status = model.StatusClaimed
	p.Volunteer = ""
	p.UpdatedAt = now
	p.History = append(p.History, model.HistorySnapshot{
		Timestamp: now,
		Status:    model.StatusClaimed,
		ClaimedBy: p.ClaimedBy,
		Note:      note,
	})
	return nil
}
