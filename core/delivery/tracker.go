// Package delivery advances postings through the in-flight delivery
// states and settles the volunteer's score and credits on completion.
package delivery

import (
	"context"
	"time"

	"github.com/foodbridge/relay/core/dispatch"
	"github.com/foodbridge/relay/core/events"
	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/journal"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/metrics"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/reliability"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/internal/eventbus"
	"github.com/foodbridge/relay/internal/idempotency"
)

// onTimeFraction: a delivery completed before this fraction of the
// spoilage window has elapsed counts as on time.
const onTimeFraction = 0.8

// progressStatuses is the set of statuses Advance may drive to. Claim,
// assignment and recovery changes have their own entry points with
// their own bookkeeping and are rejected here.
var progressStatuses = map[model.PostingStatus]bool{
	model.StatusEnRoutePickup:   true,
	model.StatusPickingUp:       true,
	model.StatusEnRouteDelivery: true,
	model.StatusDelivering:      true,
	model.StatusDelivered:       true,
}

// Tracker advances delivery status and settles completions.
type Tracker struct {
	postings *lifecycle.Store
	roster   *roster.Store
	planner  *dispatch.Planner
	ledger   *reliability.Ledger
	bus      eventbus.EventBus
	journal  journal.Store
	sink     metrics.Sink
	tokens   *idempotency.Store
	log      logger.Logger
	grace    time.Duration
	now      func() time.Time
}

// NewTracker wires a Tracker. graceMinutes bounds how far past the
// pickup ETA an arrival may be before it counts as late. bus, journal
// and sink may be nil.
func NewTracker(postings *lifecycle.Store, ros *roster.Store, planner *dispatch.Planner, ledger *reliability.Ledger, bus eventbus.EventBus, jstore journal.Store, sink metrics.Sink, log logger.Logger, graceMinutes int) *Tracker {
	if graceMinutes <= 0 {
		graceMinutes = 15
	}
	return &Tracker{
		postings: postings,
		roster:   ros,
		planner:  planner,
		ledger:   ledger,
		bus:      bus,
		journal:  jstore,
		sink:     sink,
		tokens:   idempotency.NewStore(0),
		log:      log,
		grace:    time.Duration(graceMinutes) * time.Minute,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (t *Tracker) SetNow(now func() time.Time) { t.now = now }

// Advance moves the posting to the next delivery status. Only the
// delivery-progress statuses are accepted; transitions outside the
// lifecycle table fail without touching the posting. token deduplicates
// retried requests so side effects run exactly once.
func (t *Tracker) Advance(ctx context.Context, postingID string, next model.PostingStatus, token string) (model.Posting, error) {
	if v, err, ok := t.tokens.Get(token); ok {
		if p, isP := v.(model.Posting); isP {
			return p, err
		}
		return model.Posting{}, err
	}
	if !progressStatuses[next] {
		return model.Posting{}, &faults.ValidationError{Field: "status", Reason: next.String() + " is not a delivery progress status"}
	}
	now := t.now()
	p, err := t.postings.Update(postingID, func(p *model.Posting) error {
		return lifecycle.Transition(p, next, now, "")
	})
	if err != nil {
		t.tokens.Put(token, model.Posting{}, err)
		return model.Posting{}, err
	}

	lateArrival := false
	switch next {
	case model.StatusEnRoutePickup, model.StatusEnRouteDelivery:
		t.setVolunteerStatus(p.Volunteer, model.VolunteerInTransit)
	case model.StatusPickingUp:
		lateArrival = t.checkArrival(p, now)
	case model.StatusDelivered:
		t.settle(ctx, p, now, token)
	}

	if t.bus != nil {
		t.bus.Publish(events.DeliveryEvent{
			PostingID:   p.ID,
			VolunteerID: p.Volunteer,
			Status:      next,
			LateArrival: lateArrival,
			At:          now,
		})
	}
	if t.journal != nil {
		_ = t.journal.Append(ctx, journal.Record{
			Timestamp: now,
			Kind:      journal.KindDelivery,
			PostingID: p.ID,
			City:      p.City,
			Details: map[string]any{
				"status":       next.String(),
				"volunteer":    p.Volunteer,
				"late_arrival": lateArrival,
			},
		})
	}
	t.tokens.Put(token, p, nil)
	t.log.Infof("posting %s -> %s (volunteer %s)", p.ID, next, p.Volunteer)
	return p, nil
}

// CancelAssignment handles a volunteer dropping an in-flight delivery.
// The posting falls back to claimed so dispatch can find a replacement,
// and the cancelling volunteer takes the cancellation score hit.
func (t *Tracker) CancelAssignment(ctx context.Context, postingID, reason string) (model.Posting, error) {
	now := t.now()
	var volunteerID string
	p, err := t.postings.Update(postingID, func(p *model.Posting) error {
		volunteerID = p.Volunteer
		return lifecycle.Recover(p, now, "volunteer cancelled: "+reason)
	})
	if err != nil {
		return model.Posting{}, err
	}
	t.planner.Release(postingID)
	if volunteerID != "" {
		if _, err := t.ledger.Adjust(volunteerID, model.ReasonCancellation); err != nil {
			t.log.Errorf("cancellation penalty for %s: %v", volunteerID, err)
		}
		t.releaseVolunteer(volunteerID)
	}
	t.log.Warnf("volunteer %s cancelled posting %s: %s", volunteerID, postingID, reason)
	return p, nil
}

// checkArrival compares the actual pickup time against the planned ETA
// and applies the late-arrival penalty when the grace window is blown.
func (t *Tracker) checkArrival(p model.Posting, now time.Time) bool {
	route, ok := t.planner.Route(p.ID)
	if !ok {
		return false
	}
	if !now.After(route.PickupETA.Add(t.grace)) {
		return false
	}
	if _, err := t.ledger.Adjust(p.Volunteer, model.ReasonLateArrival); err != nil {
		t.log.Errorf("late-arrival penalty for %s: %v", p.Volunteer, err)
	}
	t.log.Warnf("volunteer %s arrived late for posting %s (eta %s)", p.Volunteer, p.ID, route.PickupETA.Format(time.RFC3339))
	return true
}

// settle runs the completion bookkeeping for a delivered posting.
func (t *Tracker) settle(ctx context.Context, p model.Posting, now time.Time, token string) {
	onTime := p.ElapsedFraction(now) < onTimeFraction

	var route model.Route
	if active, ok := t.planner.Route(p.ID); ok {
		actualMin := now.Sub(active.AssignedAt).Minutes()
		route, _ = t.planner.Complete(p.ID, active.EstimatedKm, actualMin, now)
	}

	if _, err := t.ledger.AwardCredits(p.Volunteer, route.EstimatedKm, onTime, token); err != nil {
		t.log.Errorf("credit award for %s: %v", p.Volunteer, err)
	}
	if onTime {
		if _, err := t.ledger.Adjust(p.Volunteer, model.ReasonOnTimeCompletion); err != nil {
			t.log.Errorf("on-time bonus for %s: %v", p.Volunteer, err)
		}
	}
	t.releaseVolunteer(p.Volunteer)
	if p.ClaimedBy != "" {
		if _, err := t.roster.UpdateReceiver(p.ClaimedBy, func(r *model.Receiver) error {
			r.ClaimsCompleted++
			return nil
		}); err != nil {
			t.log.Errorf("completion bookkeeping for %s: %v", p.ClaimedBy, err)
		}
	}
	if dr, ok := t.sink.(metrics.DeliveryRecorder); ok {
		if err := dr.RecordDelivery(metrics.DeliveryMetric{
			PostingID:   p.ID,
			VolunteerID: p.Volunteer,
			City:        p.City,
			DistanceKm:  route.ActualKm,
			DurationMin: route.ActualMin,
			OnTime:      onTime,
			Time:        now,
		}); err != nil {
			t.log.Errorf("delivery metrics: %v", err)
		}
	}
	t.log.Infof("posting %s delivered by %s (on_time=%t)", p.ID, p.Volunteer, onTime)
}

func (t *Tracker) setVolunteerStatus(volunteerID string, status model.VolunteerStatus) {
	if volunteerID == "" {
		return
	}
	if _, err := t.roster.UpdateVolunteer(volunteerID, func(v *model.Volunteer) error {
		v.Status = status
		return nil
	}); err != nil {
		t.log.Errorf("volunteer status update for %s: %v", volunteerID, err)
	}
}

func (t *Tracker) releaseVolunteer(volunteerID string) {
	if volunteerID == "" {
		return
	}
	if _, err := t.roster.UpdateVolunteer(volunteerID, func(v *model.Volunteer) error {
		v.ActiveAssignment = ""
		if v.Status != model.VolunteerSuspended {
			v.Status = model.VolunteerAvailable
		}
		return nil
	}); err != nil {
		t.log.Errorf("volunteer release for %s: %v", volunteerID, err)
	}
}
