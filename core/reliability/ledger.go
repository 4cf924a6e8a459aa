// Package reliability owns the volunteer score and credit accounting.
// All mutations of Volunteer.Reliability and Volunteer.Credits go
// through the Ledger so every change has a matching append-only event.
package reliability

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foodbridge/relay/core/logger"
	"github.com/foodbridge/relay/core/model"
	"github.com/foodbridge/relay/core/roster"
	"github.com/foodbridge/relay/internal/idempotency"
)

const (
	minScore = 0
	maxScore = 100

	// Below this score the volunteer is suspended from matching.
	suspensionThreshold = 50
	suspensionWindow    = 7 * 24 * time.Hour

	baseCredits   = 10
	onTimeCredits = 5
)

// deltaFor maps a reliability reason to its score delta.
func deltaFor(reason model.ReliabilityReason) int {
	switch reason {
	case model.ReasonLateArrival:
		return -5
	case model.ReasonCancellation:
		return -10
	case model.ReasonOnTimeCompletion:
		return 2
	default:
		return 0
	}
}

// CreditAward is one credit grant for a completed delivery.
type CreditAward struct {
	ID          string    `json:"id"`
	VolunteerID string    `json:"volunteer_id"`
	Credits     int       `json:"credits"`
	DistanceKm  float64   `json:"distance_km"`
	OnTime      bool      `json:"on_time"`
	At          time.Time `json:"at"`
}

// Ledger applies reliability events and credit awards to volunteers.
type Ledger struct {
	roster *roster.Store
	tokens *idempotency.Store
	log    logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	events map[string][]model.ReliabilityEvent // keyed by volunteer id
	awards map[string][]CreditAward
}

// NewLedger wires a Ledger over the roster.
func NewLedger(ros *roster.Store, log logger.Logger) *Ledger {
	return &Ledger{
		roster: ros,
		tokens: idempotency.NewStore(0),
		log:    log,
		now:    time.Now,
		events: make(map[string][]model.ReliabilityEvent),
		awards: make(map[string][]CreditAward),
	}
}

// SetNow overrides the clock, for tests.
func (l *Ledger) SetNow(now func() time.Time) { l.now = now }

// Adjust applies the score delta for reason to the volunteer. The
// roster seeds fresh volunteers at the full score; records imported
// without it are seeded here before the delta. Crossing below 50
// suspends the volunteer for seven days; eligibility is re-checked
// lazily at selection time, the score itself stays put.
func (l *Ledger) Adjust(volunteerID string, reason model.ReliabilityReason) (model.Volunteer, error) {
	now := l.now()
	delta := deltaFor(reason)
	v, err := l.roster.UpdateVolunteer(volunteerID, func(v *model.Volunteer) error {
		if !v.ReliabilitySet {
			v.Reliability = model.InitialReliability
			v.ReliabilitySet = true
		}
		v.Reliability += delta
		if v.Reliability > maxScore {
			v.Reliability = maxScore
		}
		if v.Reliability < minScore {
			v.Reliability = minScore
		}
		if v.Reliability < suspensionThreshold && v.Status != model.VolunteerSuspended {
			v.Status = model.VolunteerSuspended
			v.SuspendedUntil = now.Add(suspensionWindow)
		}
		return nil
	})
	if err != nil {
		return model.Volunteer{}, err
	}
	ev := model.ReliabilityEvent{
		ID:          uuid.NewString(),
		VolunteerID: volunteerID,
		Delta:       delta,
		Reason:      reason,
		Timestamp:   now,
	}
	l.mu.Lock()
	l.events[volunteerID] = append(l.events[volunteerID], ev)
	l.mu.Unlock()
	if v.Status == model.VolunteerSuspended && !v.SuspendedUntil.IsZero() && v.Reliability < suspensionThreshold {
		l.log.Warnf("volunteer %s suspended until %s (score %d)", volunteerID, v.SuspendedUntil.Format(time.RFC3339), v.Reliability)
	}
	l.log.Debugf("reliability %s %+d -> %d (%s)", volunteerID, delta, v.Reliability, reason)
	return v, nil
}

// AwardCredits grants delivery credits: a flat base, one per full
// kilometre, and a bonus when the delivery was on time. token
// deduplicates retried completion requests.
func (l *Ledger) AwardCredits(volunteerID string, distanceKm float64, onTime bool, token string) (int, error) {
	if v, err, ok := l.tokens.Get(token); ok {
		if n, isN := v.(int); isN {
			return n, err
		}
		return 0, err
	}
	credits := baseCredits + int(math.Floor(distanceKm))
	if onTime {
		credits += onTimeCredits
	}
	now := l.now()
	if _, err := l.roster.UpdateVolunteer(volunteerID, func(v *model.Volunteer) error {
		v.Credits += credits
		v.Deliveries++
		return nil
	}); err != nil {
		l.tokens.Put(token, 0, err)
		return 0, err
	}
	award := CreditAward{
		ID:          uuid.NewString(),
		VolunteerID: volunteerID,
		Credits:     credits,
		DistanceKm:  distanceKm,
		OnTime:      onTime,
		At:          now,
	}
	l.mu.Lock()
	l.awards[volunteerID] = append(l.awards[volunteerID], award)
	l.mu.Unlock()
	l.tokens.Put(token, credits, nil)
	l.log.Infof("volunteer %s earned %d credits (%.1f km, on_time=%t)", volunteerID, credits, distanceKm, onTime)
	return credits, nil
}

// Events returns the reliability history for the volunteer, oldest
// first.
func (l *Ledger) Events(volunteerID string) []model.ReliabilityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ReliabilityEvent(nil), l.events[volunteerID]...)
}

// Awards returns the credit grant history for the volunteer, oldest
// first.
func (l *Ledger) Awards(volunteerID string) []CreditAward {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CreditAward(nil), l.awards[volunteerID]...)
}
