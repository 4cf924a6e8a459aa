package claim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foodbridge/relay/core/events"
	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/roster"
	infralogger "github.com/foodbridge/relay/infra/logger"
	"github.com/foodbridge/relay/internal/eventbus"
)

func setup(t *testing.T, window time.Duration, now time.Time) (*Coordinator, *lifecycle.Store, *roster.Store, *eventbus.Bus) {
	t.Helper()
	postings := lifecycle.NewStore()
	ros := roster.NewStore()
	bus := eventbus.New()
	c := NewCoordinator(postings, ros, bus, infralogger.NopLogger{})
	c.SetNow(func() time.Time { return now })

	if err := postings.Create(model.Posting{
		ID:     "p1",
		City:   "lyon",
		Status: model.StatusAvailable,
		Food: model.FoodInfo{
			Type:       model.FoodCookedMeal,
			Quantity:   5,
			Freshness:  model.FreshnessCookedToday,
			PreparedAt: now,
			Storage:    model.StorageRoomTemp,
		},
		SpoilageDeadline: now.Add(window),
	}); err != nil {
		t.Fatalf("create posting: %v", err)
	}
	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		ros.PutReceiver(model.Receiver{User: model.User{ID: id, City: "lyon"}})
	}
	return c, postings, ros, bus
}

func TestClaim_ExactlyOneWinner(t *testing.T) {
	now := time.Now()
	c, _, _, _ := setup(t, 6*time.Hour, now)

	receivers := []string{"r1", "r2", "r3", "r4", "r5"}
	errs := make([]error, len(receivers))
	var wg sync.WaitGroup
	for i, id := range receivers {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = c.Claim(context.Background(), "p1", id, "")
		}(i, id)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		var ce *faults.ConflictError
		if !errors.As(err, &ce) {
			t.Errorf("loser got unexpected error: %v", err)
			continue
		}
		if !ce.ClaimedAt.Equal(now) {
			t.Errorf("conflict must carry the winning claim's timestamp, got %v", ce.ClaimedAt)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestClaim_IdempotencyToken(t *testing.T) {
	now := time.Now()
	c, _, ros, _ := setup(t, 6*time.Hour, now)

	first, err := c.Claim(context.Background(), "p1", "r1", "tok-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	replay, err := c.Claim(context.Background(), "p1", "r1", "tok-1")
	if err != nil {
		t.Fatalf("replay must succeed: %v", err)
	}
	if replay.ClaimedBy != first.ClaimedBy || !replay.ClaimedAt.Equal(first.ClaimedAt) {
		t.Errorf("replay returned a different result")
	}
	r, _ := ros.Receiver("r1")
	if r.ClaimsMade != 1 {
		t.Errorf("replayed claim must not double-count, got %d", r.ClaimsMade)
	}
}

func TestClaim_UnknownReceiver(t *testing.T) {
	now := time.Now()
	c, _, _, _ := setup(t, 6*time.Hour, now)
	_, err := c.Claim(context.Background(), "p1", "ghost", "")
	if !faults.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestUnclaim_IdempotentOnAvailable(t *testing.T) {
	now := time.Now()
	c, _, _, _ := setup(t, 6*time.Hour, now)
	p, err := c.Unclaim(context.Background(), "p1", "changed my mind")
	if err != nil {
		t.Fatalf("unclaim of an available posting must be a no-op: %v", err)
	}
	if p.Status != model.StatusAvailable {
		t.Errorf("status changed: %s", p.Status)
	}
}

func TestUnclaim_EarlyCancelHasNoPenalty(t *testing.T) {
	now := time.Now()
	c, _, ros, _ := setup(t, 6*time.Hour, now)
	if _, err := c.Claim(context.Background(), "p1", "r1", ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// More than half the window remains.
	p, err := c.Unclaim(context.Background(), "p1", "plans changed")
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if p.Status != model.StatusAvailable || p.ClaimedBy != "" {
		t.Errorf("claim not released: %+v", p)
	}
	if !p.LateCancelAt.IsZero() {
		t.Errorf("early cancel must not set the late marker")
	}
	r, _ := ros.Receiver("r1")
	if r.PenaltyClaims != 0 {
		t.Errorf("early cancel must not penalise the receiver")
	}
}

func TestUnclaim_LateCancelFlagsAndPublishes(t *testing.T) {
	start := time.Now()
	c, _, ros, bus := setup(t, 6*time.Hour, start)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	if _, err := c.Claim(context.Background(), "p1", "r1", ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// 4 of 6 hours elapsed: less than half the window remains.
	late := start.Add(4 * time.Hour)
	c.SetNow(func() time.Time { return late })

	p, err := c.Unclaim(context.Background(), "p1", "no longer needed")
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if p.LateCancelAt.IsZero() || p.LateCancelReason != "no longer needed" {
		t.Errorf("late cancel markers not set: %+v", p)
	}
	r, _ := ros.Receiver("r1")
	if r.PenaltyClaims != 1 {
		t.Errorf("late cancel must penalise the receiver, got %d", r.PenaltyClaims)
	}

	var seenLate bool
	for done := false; !done; {
		select {
		case e := <-sub:
			if lc, ok := e.(events.LateCancelEvent); ok {
				seenLate = true
				if lc.PostingID != "p1" || lc.ReceiverID != "r1" {
					t.Errorf("unexpected event: %+v", lc)
				}
				if lc.Remaining != 2*time.Hour {
					t.Errorf("expected 2h remaining, got %s", lc.Remaining)
				}
				done = true
			}
		case <-time.After(time.Second):
			done = true
		}
	}
	if !seenLate {
		t.Errorf("late cancellation must publish a LateCancelEvent")
	}
}

func TestUnclaim_RejectsInFlightPostings(t *testing.T) {
	now := time.Now()
	c, postings, _, _ := setup(t, 6*time.Hour, now)
	if _, err := c.Claim(context.Background(), "p1", "r1", ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := postings.Update("p1", func(p *model.Posting) error {
		return lifecycle.Transition(p, model.StatusAssigned, now, "")
	}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	_, err := c.Unclaim(context.Background(), "p1", "too late")
	if !faults.IsConflict(err) {
		t.Fatalf("expected conflict for an assigned posting, got %v", err)
	}
}
