package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/model"
)

var allStatuses = []model.PostingStatus{
	model.StatusAvailable, model.StatusClaimed, model.StatusAssigned,
	model.StatusEnRoutePickup, model.StatusPickingUp,
	model.StatusEnRouteDelivery, model.StatusDelivering,
	model.StatusDelivered, model.StatusExpired, model.StatusCancelled,
}

func TestCanTransition_EdgeTable(t *testing.T) {
	allowed := map[model.PostingStatus]map[model.PostingStatus]bool{}
	for from, tos := range forwardEdges {
		allowed[from] = map[model.PostingStatus]bool{}
		for _, to := range tos {
			allowed[from][to] = true
		}
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[from][to]
			if !from.IsTerminal() && (to == model.StatusCancelled || to == model.StatusExpired) {
				want = true
			}
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %t, want %t", from, to, got, want)
			}
		}
	}
}

func TestTransition_TerminalStatesAreAbsorbing(t *testing.T) {
	for _, terminal := range []model.PostingStatus{model.StatusDelivered, model.StatusExpired, model.StatusCancelled} {
		p := &model.Posting{ID: "p1", Status: terminal}
		for _, to := range allStatuses {
			if err := Transition(p, to, time.Now(), ""); err == nil {
				t.Errorf("transition %s -> %s must fail", terminal, to)
			}
		}
	}
}

func TestTransition_AppendsHistory(t *testing.T) {
	now := time.Now()
	p := &model.Posting{ID: "p1", Status: model.StatusAvailable, ClaimedBy: "r1"}
	if err := Transition(p, model.StatusClaimed, now, "claimed by r1"); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(p.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(p.History))
	}
	h := p.History[0]
	if h.Status != model.StatusClaimed || h.ClaimedBy != "r1" || !h.Timestamp.Equal(now) {
		t.Errorf("unexpected history entry: %+v", h)
	}
	if !p.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt not advanced")
	}
}

func TestTransition_InvalidEdgeLeavesPostingUntouched(t *testing.T) {
	p := &model.Posting{ID: "p1", Status: model.StatusAvailable}
	err := Transition(p, model.StatusDelivered, time.Now(), "")
	var ite *faults.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != "available" || ite.To != "delivered" {
		t.Errorf("unexpected error detail: %+v", ite)
	}
	if p.Status != model.StatusAvailable || len(p.History) != 0 {
		t.Errorf("failed transition mutated the posting")
	}
}

func TestTransition_NeverRollsBackToClaimed(t *testing.T) {
	for _, from := range []model.PostingStatus{
		model.StatusAssigned, model.StatusEnRoutePickup, model.StatusPickingUp,
		model.StatusEnRouteDelivery, model.StatusDelivering,
	} {
		p := &model.Posting{ID: "p1", Status: from, ClaimedBy: "r1", Volunteer: "v1"}
		if err := Transition(p, model.StatusClaimed, time.Now(), ""); !faults.IsInvalidTransition(err) {
			t.Errorf("transition %s -> claimed must be invalid, got %v", from, err)
		}
	}
}

func TestRecover_VolunteerDropOut(t *testing.T) {
	now := time.Now()
	for _, from := range []model.PostingStatus{
		model.StatusAssigned, model.StatusEnRoutePickup, model.StatusPickingUp,
		model.StatusEnRouteDelivery, model.StatusDelivering,
	} {
		p := &model.Posting{ID: "p1", Status: from, ClaimedBy: "r1", Volunteer: "v1"}
		if err := Recover(p, now, "volunteer cancelled"); err != nil {
			t.Fatalf("recover from %s: %v", from, err)
		}
		if p.Status != model.StatusClaimed || p.Volunteer != "" {
			t.Errorf("recover from %s left %s/%q", from, p.Status, p.Volunteer)
		}
		if p.ClaimedBy != "r1" {
			t.Errorf("recover must keep the claim, got %q", p.ClaimedBy)
		}
		h := p.History[len(p.History)-1]
		if h.Status != model.StatusClaimed || h.Volunteer != "" {
			t.Errorf("unexpected history entry: %+v", h)
		}
	}
}

func TestRecover_OnlyFromInFlightStates(t *testing.T) {
	for _, from := range []model.PostingStatus{
		model.StatusAvailable, model.StatusClaimed,
		model.StatusDelivered, model.StatusExpired, model.StatusCancelled,
	} {
		p := &model.Posting{ID: "p1", Status: from, ClaimedBy: "r1"}
		if err := Recover(p, time.Now(), ""); !faults.IsInvalidTransition(err) {
			t.Errorf("recover from %s must be invalid, got %v", from, err)
		}
		if p.Status != from {
			t.Errorf("failed recover mutated the posting: %s", p.Status)
		}
	}
}
