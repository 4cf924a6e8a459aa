// Package scoring ranks receivers for a posting and volunteers for a
// pickup. Receiver scores are a weighted sum of proximity, urgency,
// reliability and dietary fit in [0,1]; candidates that fail a hard
// filter are excluded entirely rather than scored zero.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/foodbridge/relay/core/model"
)

// Weights for the receiver score components.
type Weights struct {
	Proximity   float64
	Urgency     float64
	Reliability float64
	Dietary     float64
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{Proximity: 0.3, Urgency: 0.4, Reliability: 0.2, Dietary: 0.1}
}

const (
	// perishableWindow is the spoilage window below which urgency must
	// outweigh proximity.
	perishableWindow = 6 * time.Hour
	// criticalWindow is the spoilage window below which the urgency
	// component is pinned to its maximum so the posting dominates the
	// ranking regardless of remaining-time arithmetic.
	criticalWindow = 2 * time.Hour

	// rejectionThreshold is the per-food-type rejection count above
	// which repeat notifications are dampened, not excluded.
	rejectionThreshold = 3
	dampenBase         = 0.85
)

// Engine computes match scores.
type Engine struct {
	weights Weights
}

// NewEngine returns an Engine with the given weights; zero weights fall
// back to the defaults.
func NewEngine(w Weights) *Engine {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Engine{weights: w}
}

// Context carries per-query scoring parameters.
type Context struct {
	Now      time.Time
	RadiusKm float64
}

// ScoreReceiver scores a (posting, receiver) pair. The second return is
// false when the candidate is excluded: different city, dietary
// incompatibility, or outside the active radius.
func (e *Engine) ScoreReceiver(p model.Posting, r model.Receiver, distanceKm float64, ctx Context) (float64, bool) {
	if r.City != p.City {
		return 0, false
	}
	if !r.Accepts(p.Food.Type) {
		return 0, false
	}
	if ctx.RadiusKm <= 0 || distanceKm > ctx.RadiusKm {
		return 0, false
	}

	window := p.SpoilageWindow()
	w := e.weights
	if window < perishableWindow {
		// Perishable postings rank urgency above proximity.
		w.Urgency, w.Proximity = 0.5, 0.2
	}

	proximity := math.Max(0, 1-distanceKm/ctx.RadiusKm)
	urgency := 0.0
	if window > 0 {
		urgency = math.Max(0, 1-float64(p.Remaining(ctx.Now))/float64(window))
	}
	if window < criticalWindow {
		urgency = 1
	}
	reliability := r.AcceptanceRate()
	dietary := 1.0 // incompatible candidates were excluded above

	score := proximity*w.Proximity + urgency*w.Urgency +
		reliability*w.Reliability + dietary*w.Dietary

	if n := r.Rejections[p.Food.Type]; n > rejectionThreshold {
		score *= math.Pow(dampenBase, float64(n-rejectionThreshold))
	}

	if score < 0 {
		return 0, true
	}
	if score > 1 {
		return 1, true
	}
	return score, true
}

// ScoredReceiver is a ranked receiver candidate.
type ScoredReceiver struct {
	Receiver   model.Receiver
	DistanceKm float64
	Score      float64
}

// RankReceivers scores and sorts candidates, best first. Excluded
// candidates are dropped.
func (e *Engine) RankReceivers(p model.Posting, cands []ScoredReceiver, ctx Context) []ScoredReceiver {
	var out []ScoredReceiver
	for _, c := range cands {
		s, ok := e.ScoreReceiver(p, c.Receiver, c.DistanceKm, ctx)
		if !ok {
			continue
		}
		c.Score = s
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// reliabilityTierFloor separates preferred volunteers from the rest.
const reliabilityTierFloor = 80

// VolunteerCandidate is a volunteer with its estimated travel time to
// the donor.
type VolunteerCandidate struct {
	Volunteer model.Volunteer
	TravelMin float64
	Stale     bool
}

// RankVolunteers orders candidates for selection: volunteers above the
// reliability tier floor come first regardless of travel time, then
// travel time breaks ties within a tier. A volunteer with no recorded
// score yet ranks at the initial full score.
func RankVolunteers(cands []VolunteerCandidate) []VolunteerCandidate {
	out := append([]VolunteerCandidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		ti := effectiveReliability(out[i].Volunteer) > reliabilityTierFloor
		tj := effectiveReliability(out[j].Volunteer) > reliabilityTierFloor
		if ti != tj {
			return ti
		}
		return out[i].TravelMin < out[j].TravelMin
	})
	return out
}

func effectiveReliability(v model.Volunteer) int {
	if !v.ReliabilitySet {
		return model.InitialReliability
	}
	return v.Reliability
}
