// Package dispatch selects a courier for a claimed posting and builds
// the 3-waypoint route. The pickup deadline is a soft constraint: an
// infeasible ETA is flagged on the route and surfaced as an event, but
// never blocks the assignment. When no volunteer is available the
// posting enters a retry queue instead of failing hard.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foodbridge/relay/core/events"
	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/geo"
	"github.com/foodbridge/relay/core/journal"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/metrics"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/core/routing"
	"github.com/foodbridge/relay/core/scoring"
	"github.com/foodbridge/relay/internal/eventbus"
)

// ErrNoVolunteer signals that no eligible volunteer was found. It is a
// queue-and-retry condition, not a structured fault.
var ErrNoVolunteer = errors.New("dispatch: no volunteer available")

// Config tunes the planner.
type Config struct {
	// RadiusKm bounds the volunteer search around the donor location.
	RadiusKm float64 `json:"radius_km"`
	// RetrySeconds is the interval of the no-volunteer retry queue.
	RetrySeconds int `json:"retry_seconds"`
	// StaleLocationSeconds bounds the age of a volunteer location fix
	// before route planning flags it as stale.
	StaleLocationSeconds int `json:"stale_location_seconds"`
	// LateArrivalGraceMinutes past the pickup ETA before an arrival
	// counts as late.
	LateArrivalGraceMinutes int `json:"late_arrival_grace_minutes"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.RadiusKm <= 0 {
		c.RadiusKm = 10
	}
	if c.RetrySeconds <= 0 {
		c.RetrySeconds = 60
	}
	if c.StaleLocationSeconds <= 0 {
		c.StaleLocationSeconds = 120
	}
	if c.LateArrivalGraceMinutes <= 0 {
		c.LateArrivalGraceMinutes = 15
	}
}

// Planner assigns volunteers to claimed postings and owns their routes
// until delivery completion.
type Planner struct {
	postings *lifecycle.Store
	roster   *roster.Store
	geo      *geo.Index
	router   *routing.Engine
	bus      eventbus.EventBus
	journal  journal.Store
	sink     metrics.Sink
	log      logger.Logger
	cfg      Config
	now      func() time.Time

	mu      sync.Mutex
	routes  map[string]model.Route // keyed by posting id
	pending map[string]struct{}    // retry queue
}

// NewPlanner wires a Planner. bus, journal and sink may be nil.
func NewPlanner(postings *lifecycle.Store, ros *roster.Store, ix *geo.Index, router *routing.Engine, bus eventbus.EventBus, jstore journal.Store, sink metrics.Sink, log logger.Logger, cfg Config) *Planner {
	cfg.SetDefaults()
	return &Planner{
		postings: postings,
		roster:   ros,
		geo:      ix,
		router:   router,
		bus:      bus,
		journal:  jstore,
		sink:     sink,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		routes:   make(map[string]model.Route),
		pending:  make(map[string]struct{}),
	}
}

// SetNow overrides the clock, for tests.
func (pl *Planner) SetNow(now func() time.Time) { pl.now = now }

// Route returns the active route for the posting.
func (pl *Planner) Route(postingID string) (model.Route, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	r, ok := pl.routes[postingID]
	return r, ok
}

// Complete records actuals on the route and releases planner ownership.
// The returned route is the read-only history copy.
func (pl *Planner) Complete(postingID string, actualKm, actualMin float64, at time.Time) (model.Route, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	r, ok := pl.routes[postingID]
	if !ok {
		return model.Route{}, false
	}
	r.ActualKm = actualKm
	r.ActualMin = actualMin
	r.CompletedAt = at
	delete(pl.routes, postingID)
	return r, true
}

// Release drops the route without completion (cancellation, expiry).
func (pl *Planner) Release(postingID string) {
	pl.mu.Lock()
	delete(pl.routes, postingID)
	pl.mu.Unlock()
}

// Assign selects the best eligible volunteer for the claimed posting
// and advances it to assigned. It returns ErrNoVolunteer after queueing
// the posting for retry when nobody is eligible.
func (pl *Planner) Assign(ctx context.Context, postingID string) (model.Route, error) {
	p, err := pl.postings.Get(postingID)
	if err != nil {
		return model.Route{}, err
	}
	if p.Status != model.StatusClaimed {
		return model.Route{}, &faults.ConflictError{
			Resource: "posting " + p.ID,
			Reason:   "cannot assign while " + p.Status.String(),
		}
	}
	receiver, err := pl.roster.Receiver(p.ClaimedBy)
	if err != nil {
		return model.Route{}, err
	}

	now := pl.now()
	cands := pl.discover(ctx, p, now)
	if fr, ok := pl.sink.(metrics.FleetSizeRecorder); ok {
		if err := fr.RecordFleetSize(p.City, len(cands)); err != nil {
			pl.log.Errorf("fleet size metrics: %v", err)
		}
	}
	if len(cands) == 0 {
		pl.enqueue(postingID)
		return model.Route{}, ErrNoVolunteer
	}

	ranked := scoring.RankVolunteers(cands)
	top := ranked[0]
	v := top.Volunteer

	plan, err := pl.router.Route(ctx, []model.Location{v.Location, p.Location, receiver.Location})
	if err != nil {
		return model.Route{}, err
	}
	eta := now.Add(time.Duration(top.TravelMin * float64(time.Minute)))

	route := model.Route{
		ID:              uuid.NewString(),
		PostingID:       p.ID,
		VolunteerID:     v.ID,
		Waypoints:       [3]model.Location{v.Location, p.Location, receiver.Location},
		EstimatedKm:     plan.DistanceKm,
		EstimatedMin:    plan.DurationMin,
		PickupETA:       eta,
		DeadlineAtRisk:  eta.After(p.PickupDeadline),
		StaleLocation:   top.Stale,
		PlannerDegraded: plan.Degraded,
		AssignedAt:      now,
	}

	if _, err := pl.postings.Update(postingID, func(p *model.Posting) error {
		if p.Status != model.StatusClaimed {
			return &faults.ConflictError{
				Resource: "posting " + p.ID,
				Reason:   "state changed during assignment",
			}
		}
		p.Volunteer = v.ID
		return lifecycle.Transition(p, model.StatusAssigned, now, "assigned "+v.ID)
	}); err != nil {
		return model.Route{}, err
	}
	if _, err := pl.roster.UpdateVolunteer(v.ID, func(vol *model.Volunteer) error {
		vol.Status = model.VolunteerAssigned
		vol.ActiveAssignment = p.ID
		return nil
	}); err != nil {
		pl.log.Errorf("volunteer bookkeeping for %s: %v", v.ID, err)
	}

	pl.mu.Lock()
	pl.routes[p.ID] = route
	delete(pl.pending, p.ID)
	pl.mu.Unlock()

	if route.DeadlineAtRisk {
		pl.log.Warnf("posting %s: pickup ETA %s is past the deadline %s", p.ID, eta.Format(time.RFC3339), p.PickupDeadline.Format(time.RFC3339))
	}
	if route.StaleLocation {
		pl.log.Warnf("posting %s: volunteer %s location is stale", p.ID, v.ID)
	}
	if pl.bus != nil {
		pl.bus.Publish(events.AssignmentEvent{
			PostingID:      p.ID,
			VolunteerID:    v.ID,
			DeadlineAtRisk: route.DeadlineAtRisk,
			PickupETA:      eta,
		})
	}
	if ar, ok := pl.sink.(metrics.AssignmentRecorder); ok {
		if err := ar.RecordAssignment(metrics.AssignmentMetric{
			PostingID:      p.ID,
			VolunteerID:    v.ID,
			City:           p.City,
			TravelMin:      top.TravelMin,
			DeadlineAtRisk: route.DeadlineAtRisk,
			Time:           now,
		}); err != nil {
			pl.log.Errorf("assignment metrics: %v", err)
		}
	}
	if pl.journal != nil {
		_ = pl.journal.Append(ctx, journal.Record{
			Timestamp: now,
			Kind:      journal.KindAssignment,
			PostingID: p.ID,
			City:      p.City,
			Details: map[string]any{
				"volunteer":        v.ID,
				"travel_min":       top.TravelMin,
				"deadline_at_risk": route.DeadlineAtRisk,
				"stale_location":   route.StaleLocation,
			},
		})
	}
	pl.log.Infof("posting %s assigned to volunteer %s (eta %s)", p.ID, v.ID, eta.Format(time.RFC3339))
	return route, nil
}

// discover returns eligible volunteer candidates with travel estimates.
// The city scope and availability filters run before any distance math.
func (pl *Planner) discover(ctx context.Context, p model.Posting, now time.Time) []scoring.VolunteerCandidate {
	staleBound := time.Duration(pl.cfg.StaleLocationSeconds) * time.Second
	hits := pl.geo.WithinRadius(p.City, p.Location, pl.cfg.RadiusKm, geo.Filter{
		Kind:       geo.KindVolunteer,
		ActiveOnly: true,
	})
	var cands []scoring.VolunteerCandidate
	for _, h := range hits {
		v, err := pl.roster.Volunteer(h.ID)
		if err != nil {
			continue
		}
		if !v.CanAcceptAssignment(now) {
			continue
		}
		plan, err := pl.router.Route(ctx, []model.Location{v.Location, p.Location})
		if err != nil {
			continue
		}
		cands = append(cands, scoring.VolunteerCandidate{
			Volunteer: v,
			TravelMin: plan.DurationMin,
			Stale:     now.Sub(v.LocationUpdatedAt) > staleBound,
		})
	}
	return cands
}

func (pl *Planner) enqueue(postingID string) {
	pl.mu.Lock()
	pl.pending[postingID] = struct{}{}
	pl.mu.Unlock()
	if pl.bus != nil {
		pl.bus.Publish(events.AssignmentQueuedEvent{PostingID: postingID})
	}
	pl.log.Warnf("no volunteer for posting %s, queued for retry", postingID)
}

// Pending returns the posting ids currently queued for retry.
func (pl *Planner) Pending() []string {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	ids := make([]string, 0, len(pl.pending))
	for id := range pl.pending {
		ids = append(ids, id)
	}
	return ids
}
