package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/foodbridge/relay/core/events"
	"github.com/foodbridge/relay/core/geo"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/match"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/notify"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/core/scoring"
	infralogger "github.com/foodbridge/relay/infra/logger"
	"github.com/foodbridge/relay/internal/eventbus"
)

var donorLoc = model.Location{Lat: 45.76, Lng: 4.84}

func locKmNorth(km float64) model.Location {
	return model.Location{Lat: donorLoc.Lat + km/111.0, Lng: donorLoc.Lng}
}

type fixture struct {
	controller *Controller
	postings   *lifecycle.Store
	roster     *roster.Store
	recorder   *notify.Recorder
	clock      *time.Time
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Now()
	clock := now
	nowFn := func() time.Time { return clock }

	postings := lifecycle.NewStore()
	ros := roster.NewStore()
	ix := geo.NewIndex()
	rec := &notify.Recorder{}
	scorer := scoring.NewEngine(scoring.DefaultWeights())
	b := match.NewBroadcaster(ix, ros, scorer, rec, nil, nil, infralogger.NopLogger{})
	b.SetNow(nowFn)
	c := NewController(postings, ros, b, rec, eventbus.New(), nil, nil, infralogger.NopLogger{}, Config{SweepSeconds: 1})
	c.SetNow(nowFn)

	// A receiver just outside the base radius; only an expansion reaches it.
	ros.PutReceiver(model.Receiver{User: model.User{ID: "edge", City: "lyon", Location: locKmNorth(6)}})
	ix.Upsert(geo.Point{ID: "edge", Kind: geo.KindReceiver, City: "lyon", Loc: locKmNorth(6), Active: true, UpdatedAt: now})

	f := &fixture{controller: c, postings: postings, roster: ros, recorder: rec, now: now}
	f.clock = &clock
	return f
}

func (f *fixture) createPosting(t *testing.T, id string, prepared time.Time, window time.Duration, status model.PostingStatus) {
	t.Helper()
	if err := f.postings.Create(model.Posting{
		ID:       id,
		DonorID:  "d1",
		City:     "lyon",
		Status:   status,
		Location: donorLoc,
		Food: model.FoodInfo{
			Type: model.FoodBakery, Quantity: 4,
			Freshness: model.FreshnessFresh, PreparedAt: prepared,
			Storage: model.StorageRoomTemp,
		},
		PickupDeadline:   prepared.Add(window),
		SpoilageDeadline: prepared.Add(window),
		BaseRadiusKm:     5,
		NotifyRadiusKm:   5,
	}); err != nil {
		t.Fatalf("create posting: %v", err)
	}
}

// waitBroadcasts polls until the fire-and-forget notification goroutines
// have landed n messages.
func (f *fixture) waitBroadcasts(t *testing.T, n int) []notify.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := f.recorder.Sent(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d notifications, got %d", n, len(f.recorder.Sent()))
	return nil
}

func TestSweep_RadiusExpansionAtThreshold(t *testing.T) {
	f := newFixture(t)
	f.createPosting(t, "p1", f.now.Add(-9*time.Hour), 10*time.Hour, model.StatusAvailable)

	f.controller.Sweep(context.Background())
	p, _ := f.postings.Get("p1")
	if !p.RadiusExpanded || p.NotifyRadiusKm != 7.5 {
		t.Fatalf("expected 1.5x expansion at 90%% elapsed, got %+v", p)
	}

	msgs := f.waitBroadcasts(t, 1)
	if msgs[0].Type != notify.TypeRadiusExpanded || msgs[0].Recipient != "edge" {
		t.Errorf("expansion must notify the newly reachable receiver: %+v", msgs[0])
	}

	// A second sweep is a no-op: the radius never compounds.
	f.controller.Sweep(context.Background())
	p, _ = f.postings.Get("p1")
	if p.NotifyRadiusKm != 7.5 {
		t.Errorf("expansion must be idempotent, got %.1f km", p.NotifyRadiusKm)
	}
}

func TestSweep_NoExpansionBeforeThreshold(t *testing.T) {
	f := newFixture(t)
	f.createPosting(t, "p1", f.now.Add(-7*time.Hour), 10*time.Hour, model.StatusAvailable)

	f.controller.Sweep(context.Background())
	p, _ := f.postings.Get("p1")
	if p.RadiusExpanded {
		t.Errorf("70%% elapsed must not expand")
	}
}

func TestSweep_ClaimedPostingsDoNotExpand(t *testing.T) {
	f := newFixture(t)
	f.createPosting(t, "p1", f.now.Add(-9*time.Hour), 10*time.Hour, model.StatusClaimed)

	f.controller.Sweep(context.Background())
	p, _ := f.postings.Get("p1")
	if p.RadiusExpanded {
		t.Errorf("expansion applies to unclaimed postings only")
	}
}

func TestSweep_ExpiryWinsOverExpansion(t *testing.T) {
	f := newFixture(t)
	// Past the deadline and past the expansion threshold at once.
	f.createPosting(t, "p1", f.now.Add(-11*time.Hour), 10*time.Hour, model.StatusAvailable)

	f.controller.Sweep(context.Background())
	p, _ := f.postings.Get("p1")
	if p.Status != model.StatusExpired {
		t.Fatalf("expected expiry, got %s", p.Status)
	}
	if p.RadiusExpanded {
		t.Errorf("an expired posting must not expand")
	}

	msgs := f.waitBroadcasts(t, 1)
	if msgs[0].Type != notify.TypePostingExpired || msgs[0].Recipient != "d1" {
		t.Errorf("expiry must notify the donor: %+v", msgs[0])
	}
}

func TestSweep_ExpiryReleasesVolunteer(t *testing.T) {
	f := newFixture(t)
	f.createPosting(t, "p1", f.now.Add(-11*time.Hour), 10*time.Hour, model.StatusEnRoutePickup)
	if _, err := f.postings.Update("p1", func(p *model.Posting) error {
		p.ClaimedBy = "r1"
		p.Volunteer = "v1"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	f.roster.PutVolunteer(model.Volunteer{
		User: model.User{ID: "v1", City: "lyon"}, Status: model.VolunteerInTransit, ActiveAssignment: "p1",
	})

	f.controller.Sweep(context.Background())
	p, _ := f.postings.Get("p1")
	if p.Status != model.StatusExpired {
		t.Fatalf("in-flight postings still expire, got %s", p.Status)
	}
	v, _ := f.roster.Volunteer("v1")
	if v.Status != model.VolunteerAvailable || v.ActiveAssignment != "" {
		t.Errorf("volunteer not released on expiry: %+v", v)
	}
}

func TestEmergency_DoublesRadiusAndSticksUrgent(t *testing.T) {
	f := newFixture(t)
	f.createPosting(t, "p1", f.now.Add(-time.Hour), 10*time.Hour, model.StatusAvailable)
	if _, err := f.postings.Update("p1", func(p *model.Posting) error {
		p.LateCancelAt = f.now
		p.LateCancelReason = "claimant backed out"
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// The bus event was dropped; the sweep reconciles from state.
	f.controller.Sweep(context.Background())
	p, _ := f.postings.Get("p1")
	if !p.Urgent || p.NotifyRadiusKm != 10 {
		t.Fatalf("expected urgent at 2x radius, got %+v", p)
	}

	msgs := f.waitBroadcasts(t, 1)
	m := msgs[0]
	if m.Type != notify.TypeEmergencyRematch || m.Priority != notify.PriorityUrgent {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.Payload["escalation_reason"] != "claimant backed out" {
		t.Errorf("payload must carry the cancellation reason: %+v", m.Payload)
	}
	if _, ok := m.Payload["remaining_min"]; !ok {
		t.Errorf("payload must carry the remaining time")
	}

	// Replays are absorbed by the sticky urgent flag.
	f.controller.Sweep(context.Background())
	p, _ = f.postings.Get("p1")
	if p.NotifyRadiusKm != 10 {
		t.Errorf("emergency must not compound, got %.1f km", p.NotifyRadiusKm)
	}
}

func TestRun_ReactsToLateCancelEvents(t *testing.T) {
	f := newFixture(t)
	f.createPosting(t, "p1", f.now.Add(-time.Hour), 10*time.Hour, model.StatusAvailable)

	bus := eventbus.New()
	scorer := scoring.NewEngine(scoring.DefaultWeights())
	ix := geo.NewIndex()
	b := match.NewBroadcaster(ix, f.roster, scorer, f.recorder, nil, nil, infralogger.NopLogger{})
	c := NewController(f.postings, f.roster, b, f.recorder, bus, nil, nil, infralogger.NopLogger{}, Config{SweepSeconds: 3600})
	c.SetNow(func() time.Time { return f.now })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// Let the subscriber attach, then mix in an unrelated event.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(struct{ ignored bool }{})
	bus.Publish(events.LateCancelEvent{PostingID: "p1", ReceiverID: "r1", Reason: "backed out", CancelledAt: f.now})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, _ := f.postings.Get("p1")
		if p.Urgent {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("late-cancel event did not trigger the emergency path")
}
