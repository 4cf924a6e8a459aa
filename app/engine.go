package app

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/foodbridge/relay/config"
	"github.com/foodbridge/relay/core/claim"
	"github.com/foodbridge/relay/core/delivery"
	"github.com/foodbridge/relay/core/dispatch"
	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/geo"
	"github.com/foodbridge/relay/core/lifecycle"
	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/match"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/notify"
	"github.com/foodbridge/relay/core/reliability"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/core/spoilage"
	"github.com/foodbridge/relay/internal/idempotency"
)

// PostingInput is the donor-facing payload for creating a posting.
type PostingInput struct {
	DonorID        string         `json:"donor_id"`
	City           string         `json:"city"`
	Food           model.FoodInfo `json:"food"`
	Location       model.Location `json:"location"`
	PickupDeadline time.Time      `json:"pickup_deadline"`
	RadiusKm       float64        `json:"radius_km,omitempty"`
}

// PostingUpdate carries the donor-editable fields. Nil pointers leave
// the field unchanged.
type PostingUpdate struct {
	Quantity       *int       `json:"quantity,omitempty"`
	PickupDeadline *time.Time `json:"pickup_deadline,omitempty"`
}

// Engine is the façade every caller goes through. It owns no state of
// its own; each operation delegates to the component responsible for
// the invariant it touches.
type Engine struct {
	cfg         *config.Config
	postings    *lifecycle.Store
	roster      *roster.Store
	geo         *geo.Index
	spoilage    *spoilage.Engine
	broadcaster *match.Broadcaster
	coordinator *claim.Coordinator
	planner     *dispatch.Planner
	tracker     *delivery.Tracker
	ledger      *reliability.Ledger
	tokens      *idempotency.Store
	log         logger.Logger
	now         func() time.Time
}

// SetNow overrides the façade clock and the clocks of every component
// behind it, for tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
	e.broadcaster.SetNow(now)
	e.coordinator.SetNow(now)
	e.planner.SetNow(now)
	e.tracker.SetNow(now)
	e.ledger.SetNow(now)
}

// RegisterReceiver adds the receiver to the roster and the geo index.
func (e *Engine) RegisterReceiver(r model.Receiver) error {
	if _, ok := e.cfg.CityByName(r.City); !ok {
		return &faults.ValidationError{Field: "city", Reason: "unknown city " + r.City}
	}
	if !r.Location.Valid() {
		return &faults.ValidationError{Field: "location", Reason: "malformed coordinates"}
	}
	e.roster.PutReceiver(r)
	e.geo.Upsert(geo.Point{
		ID:        r.ID,
		Kind:      geo.KindReceiver,
		City:      r.City,
		Loc:       r.Location,
		Active:    true,
		UpdatedAt: e.now(),
	})
	return nil
}

// RegisterVolunteer adds the volunteer to the roster and the geo index.
func (e *Engine) RegisterVolunteer(v model.Volunteer) error {
	if _, ok := e.cfg.CityByName(v.City); !ok {
		return &faults.ValidationError{Field: "city", Reason: "unknown city " + v.City}
	}
	if !v.Location.Valid() {
		return &faults.ValidationError{Field: "location", Reason: "malformed coordinates"}
	}
	e.roster.PutVolunteer(v)
	e.geo.Upsert(geo.Point{
		ID:        v.ID,
		Kind:      geo.KindVolunteer,
		City:      v.City,
		Loc:       v.Location,
		Active:    true,
		UpdatedAt: e.now(),
	})
	return nil
}

// CreatePosting validates the input, resolves the spoilage deadline and
// broadcasts the new posting to nearby receivers. token deduplicates
// retried requests so a retry never mints a second posting.
func (e *Engine) CreatePosting(ctx context.Context, in PostingInput, token string) (model.Posting, error) {
	if v, err, ok := e.tokens.Get(token); ok {
		if p, isP := v.(model.Posting); isP {
			return p, err
		}
		return model.Posting{}, err
	}
	now := e.now()
	city, ok := e.cfg.CityByName(in.City)
	if !ok {
		return model.Posting{}, &faults.ValidationError{Field: "city", Reason: "unknown city " + in.City}
	}
	if !in.PickupDeadline.After(now) {
		return model.Posting{}, &faults.ValidationError{Field: "pickup_deadline", Reason: "must be in the future"}
	}
	if in.Food.PreparedAt.IsZero() || in.Food.PreparedAt.After(now) {
		return model.Posting{}, &faults.ValidationError{Field: "prepared_at", Reason: "must be set and not in the future"}
	}

	w := e.spoilage.Window(ctx, spoilage.Conditions{
		FoodType:     in.Food.Type,
		Freshness:    in.Food.Freshness,
		Storage:      in.Food.Storage,
		ElapsedHours: now.Sub(in.Food.PreparedAt).Hours(),
	})
	radius := in.RadiusKm
	if radius <= 0 {
		radius = city.DefaultRadiusKm
	}
	if radius > city.MaxRadiusKm {
		radius = city.MaxRadiusKm
	}

	p := model.Posting{
		ID:                uuid.NewString(),
		DonorID:           in.DonorID,
		City:              in.City,
		Food:              in.Food,
		Location:          in.Location,
		PickupDeadline:    in.PickupDeadline,
		SpoilageDeadline:  in.Food.PreparedAt.Add(w.Duration),
		PredictorDegraded: w.Degraded,
		Status:            model.StatusAvailable,
		BaseRadiusKm:      radius,
		NotifyRadiusKm:    radius,
		CreatedAt:         now,
		UpdatedAt:         now,
		History: []model.HistorySnapshot{{
			Timestamp: now,
			Status:    model.StatusAvailable,
			Note:      "created",
		}},
	}
	if err := p.Validate(); err != nil {
		return model.Posting{}, &faults.ValidationError{Field: "posting", Reason: err.Error()}
	}
	if err := e.postings.Create(p); err != nil {
		return model.Posting{}, err
	}
	// Failed creates leave no state behind, so only the success is
	// recorded and a retry after an error re-executes.
	e.tokens.Put(token, p, nil)
	e.log.Infof("posting %s created in %s (spoils %s)", p.ID, p.City, p.SpoilageDeadline.Format(time.RFC3339))
	e.broadcaster.Broadcast(ctx, p, notify.TypeNewPosting, "")
	return p, nil
}

// GetPosting returns a copy of the posting.
func (e *Engine) GetPosting(id string) (model.Posting, error) {
	return e.postings.Get(id)
}

// ListPostings returns postings in the city with the given status; an
// empty status returns every non-terminal posting.
func (e *Engine) ListPostings(city string, status model.PostingStatus) []model.Posting {
	return e.postings.List(func(p model.Posting) bool {
		if city != "" && p.City != city {
			return false
		}
		if status != "" {
			return p.Status == status
		}
		return !p.Status.IsTerminal()
	})
}

// UpdatePosting applies donor edits. Only available postings may be
// edited.
func (e *Engine) UpdatePosting(ctx context.Context, id string, upd PostingUpdate) (model.Posting, error) {
	now := e.now()
	return e.postings.Update(id, func(p *model.Posting) error {
		if p.Status != model.StatusAvailable {
			return &faults.ConflictError{
				Resource: "posting " + p.ID,
				Reason:   "cannot edit while " + p.Status.String(),
			}
		}
		if upd.Quantity != nil {
			if *upd.Quantity <= 0 {
				return &faults.ValidationError{Field: "quantity", Reason: "must be positive"}
			}
			p.Food.Quantity = *upd.Quantity
		}
		if upd.PickupDeadline != nil {
			if !upd.PickupDeadline.After(now) {
				return &faults.ValidationError{Field: "pickup_deadline", Reason: "must be in the future"}
			}
			p.PickupDeadline = *upd.PickupDeadline
		}
		p.UpdatedAt = now
		return nil
	})
}

// CancelPosting terminates the posting on the donor's request,
// releasing any claim or assignment.
func (e *Engine) CancelPosting(ctx context.Context, id, reason string) (model.Posting, error) {
	now := e.now()
	var volunteerID string
	p, err := e.postings.Update(id, func(p *model.Posting) error {
		volunteerID = p.Volunteer
		return lifecycle.Transition(p, model.StatusCancelled, now, "donor cancelled: "+reason)
	})
	if err != nil {
		return model.Posting{}, err
	}
	e.planner.Release(id)
	if volunteerID != "" {
		if _, rerr := e.roster.UpdateVolunteer(volunteerID, func(v *model.Volunteer) error {
			v.ActiveAssignment = ""
			if v.Status != model.VolunteerSuspended {
				v.Status = model.VolunteerAvailable
			}
			return nil
		}); rerr != nil {
			e.log.Errorf("volunteer release on cancel for %s: %v", volunteerID, rerr)
		}
	}
	e.log.Infof("posting %s cancelled by donor", id)
	return p, nil
}

// ClaimPosting atomically reserves the posting for the receiver.
func (e *Engine) ClaimPosting(ctx context.Context, postingID, receiverID, token string) (model.Posting, error) {
	return e.coordinator.Claim(ctx, postingID, receiverID, token)
}

// UnclaimPosting reverses a claim, marking it late when appropriate.
func (e *Engine) UnclaimPosting(ctx context.Context, postingID, reason string) (model.Posting, error) {
	return e.coordinator.Unclaim(ctx, postingID, reason)
}

// AssignVolunteer dispatches the best eligible volunteer for the
// claimed posting.
func (e *Engine) AssignVolunteer(ctx context.Context, postingID string) (model.Route, error) {
	return e.planner.Assign(ctx, postingID)
}

// GetRoute returns the active route for the posting.
func (e *Engine) GetRoute(postingID string) (model.Route, bool) {
	return e.planner.Route(postingID)
}

// AdvanceDeliveryStatus moves the posting to the next delivery state.
func (e *Engine) AdvanceDeliveryStatus(ctx context.Context, postingID string, next model.PostingStatus, token string) (model.Posting, error) {
	return e.tracker.Advance(ctx, postingID, next, token)
}

// CancelAssignment handles a volunteer dropping an in-flight delivery.
func (e *Engine) CancelAssignment(ctx context.Context, postingID, reason string) (model.Posting, error) {
	return e.tracker.CancelAssignment(ctx, postingID, reason)
}

// UpdateVolunteerLocation records a location fix in the roster and the
// geo index. Out-of-order fixes are dropped by both.
func (e *Engine) UpdateVolunteerLocation(id string, loc model.Location, at time.Time) error {
	if !loc.Valid() {
		return &faults.ValidationError{Field: "location", Reason: "malformed coordinates"}
	}
	v, err := e.roster.UpdateVolunteerLocation(id, loc, at)
	if err != nil {
		return err
	}
	e.geo.Upsert(geo.Point{
		ID:        v.ID,
		Kind:      geo.KindVolunteer,
		City:      v.City,
		Loc:       v.Location,
		Active:    v.Status != model.VolunteerOffline,
		UpdatedAt: v.LocationUpdatedAt,
	})
	return nil
}

// SetVolunteerAvailability flips the volunteer's availability and the
// geo index active flag.
func (e *Engine) SetVolunteerAvailability(id string, status model.VolunteerStatus) error {
	if !status.IsValid() {
		return &faults.ValidationError{Field: "status", Reason: "unknown status " + string(status)}
	}
	v, err := e.roster.UpdateVolunteer(id, func(v *model.Volunteer) error {
		v.Status = status
		return nil
	})
	if err != nil {
		return err
	}
	e.geo.Upsert(geo.Point{
		ID:        v.ID,
		Kind:      geo.KindVolunteer,
		City:      v.City,
		Loc:       v.Location,
		Active:    status != model.VolunteerOffline,
		UpdatedAt: e.now(),
	})
	return nil
}

// GetVolunteer returns a copy of the volunteer record.
func (e *Engine) GetVolunteer(id string) (model.Volunteer, error) {
	return e.roster.Volunteer(id)
}

// AwardCredits grants delivery credits outside the tracker's settlement
// path, for manual corrections. token deduplicates retried grants.
func (e *Engine) AwardCredits(volunteerID string, distanceKm float64, onTime bool, token string) (int, error) {
	return e.ledger.AwardCredits(volunteerID, distanceKm, onTime, token)
}

// GetReliabilityHistory returns the volunteer's score events, oldest
// first.
func (e *Engine) GetReliabilityHistory(volunteerID string) []model.ReliabilityEvent {
	return e.ledger.Events(volunteerID)
}

// GetLeaderboard ranks volunteers in the city by credits. since bounds
// the period aggregates; zero means all time.
func (e *Engine) GetLeaderboard(city string, since time.Time) reliability.Board {
	return e.ledger.Leaderboard(city, since)
}
