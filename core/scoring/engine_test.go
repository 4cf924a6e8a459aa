package scoring

import (
	"testing"
	"time"

	"github.com/foodbridge/relay/core/model"
)

func testPosting(now time.Time, window time.Duration) model.Posting {
	return model.Posting{
		ID:   "p1",
		City: "lyon",
		Food: model.FoodInfo{
			Type:       model.FoodCookedMeal,
			Quantity:   10,
			Freshness:  model.FreshnessCookedToday,
			PreparedAt: now,
			Storage:    model.StorageRoomTemp,
		},
		SpoilageDeadline: now.Add(window),
		Status:           model.StatusAvailable,
	}
}

func testReceiver(id string) model.Receiver {
	return model.Receiver{User: model.User{ID: id, City: "lyon", Role: model.RoleReceiver}}
}

func TestScoreReceiver_AcceptanceRateBreaksTies(t *testing.T) {
	now := time.Now()
	e := NewEngine(DefaultWeights())
	p := testPosting(now, 24*time.Hour)
	ctx := Context{Now: now, RadiusKm: 5}

	strong := testReceiver("strong")
	strong.ClaimsMade, strong.ClaimsCompleted = 10, 9
	weak := testReceiver("weak")
	weak.ClaimsMade, weak.ClaimsCompleted = 10, 3

	s1, ok1 := e.ScoreReceiver(p, strong, 2, ctx)
	s2, ok2 := e.ScoreReceiver(p, weak, 2, ctx)
	if !ok1 || !ok2 {
		t.Fatalf("both receivers should be eligible")
	}
	if s1 <= s2 {
		t.Errorf("equidistant receivers must rank by acceptance rate: %.3f vs %.3f", s1, s2)
	}
}

func TestScoreReceiver_PerishableReweighting(t *testing.T) {
	now := time.Now()
	e := NewEngine(DefaultWeights())
	ctx := Context{Now: now, RadiusKm: 10}

	// Far receiver, short window vs near receiver, long window. With the
	// reweighting the urgent posting must favour urgency over distance.
	urgent := testPosting(now.Add(-3*time.Hour), 4*time.Hour)
	relaxed := testPosting(now, 24*time.Hour)
	r := testReceiver("r1")

	far, _ := e.ScoreReceiver(urgent, r, 9, ctx)
	near, _ := e.ScoreReceiver(relaxed, r, 1, ctx)
	if far <= near {
		t.Errorf("urgency should outweigh proximity inside the perishable window: %.3f vs %.3f", far, near)
	}
}

func TestScoreReceiver_CriticalWindowPinsUrgency(t *testing.T) {
	now := time.Now()
	e := NewEngine(DefaultWeights())
	ctx := Context{Now: now, RadiusKm: 10}
	r := testReceiver("r1")

	// Fresh critical posting: almost nothing elapsed, so raw urgency is
	// near zero, yet the pinned component must dominate.
	critical := testPosting(now, 90*time.Minute)
	mild := testPosting(now, 5*time.Hour)

	sc, _ := e.ScoreReceiver(critical, r, 5, ctx)
	sm, _ := e.ScoreReceiver(mild, r, 5, ctx)
	if sc <= sm {
		t.Errorf("sub-2h posting must outrank a 5h posting at equal distance: %.3f vs %.3f", sc, sm)
	}
}

func TestScoreReceiver_Exclusions(t *testing.T) {
	now := time.Now()
	e := NewEngine(DefaultWeights())
	p := testPosting(now, 24*time.Hour)
	ctx := Context{Now: now, RadiusKm: 5}

	crossCity := testReceiver("other")
	crossCity.City = "paris"
	if _, ok := e.ScoreReceiver(p, crossCity, 1, ctx); ok {
		t.Errorf("cross-city receiver must be excluded, not scored")
	}

	restricted := testReceiver("veg")
	restricted.DietaryRestrictions = []model.FoodType{model.FoodCookedMeal}
	if _, ok := e.ScoreReceiver(p, restricted, 1, ctx); ok {
		t.Errorf("dietary-incompatible receiver must be excluded")
	}

	if _, ok := e.ScoreReceiver(p, testReceiver("far"), 7, ctx); ok {
		t.Errorf("receiver outside the radius must be excluded")
	}
}

func TestScoreReceiver_RejectionDampening(t *testing.T) {
	now := time.Now()
	e := NewEngine(DefaultWeights())
	p := testPosting(now, 24*time.Hour)
	ctx := Context{Now: now, RadiusKm: 5}

	fresh := testReceiver("fresh")
	jaded := testReceiver("jaded")
	jaded.Rejections = map[model.FoodType]int{model.FoodCookedMeal: 5}

	sf, _ := e.ScoreReceiver(p, fresh, 2, ctx)
	sj, ok := e.ScoreReceiver(p, jaded, 2, ctx)
	if !ok {
		t.Fatalf("repeat rejections dampen, they must not exclude")
	}
	want := sf * 0.85 * 0.85
	if diff := sj - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected damped score %.6f, got %.6f", want, sj)
	}

	atThreshold := testReceiver("edge")
	atThreshold.Rejections = map[model.FoodType]int{model.FoodCookedMeal: 3}
	se, _ := e.ScoreReceiver(p, atThreshold, 2, ctx)
	if se != sf {
		t.Errorf("dampening must start above the threshold, not at it")
	}
}

func TestRankReceivers_DropsExcluded(t *testing.T) {
	now := time.Now()
	e := NewEngine(DefaultWeights())
	p := testPosting(now, 24*time.Hour)
	ctx := Context{Now: now, RadiusKm: 5}

	other := testReceiver("other")
	other.City = "paris"
	ranked := e.RankReceivers(p, []ScoredReceiver{
		{Receiver: testReceiver("near"), DistanceKm: 1},
		{Receiver: testReceiver("mid"), DistanceKm: 3},
		{Receiver: other, DistanceKm: 1},
	}, ctx)

	if len(ranked) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(ranked))
	}
	if ranked[0].Receiver.ID != "near" {
		t.Errorf("expected nearest receiver first, got %s", ranked[0].Receiver.ID)
	}
}

func TestRankVolunteers_TierBeforeTravelTime(t *testing.T) {
	ranked := RankVolunteers([]VolunteerCandidate{
		rankedVol("slow-reliable", 95, 20),
		rankedVol("fast-flaky", 60, 5),
		rankedVol("fast-reliable", 90, 8),
	})

	want := []string{"fast-reliable", "slow-reliable", "fast-flaky"}
	for i, id := range want {
		if ranked[i].Volunteer.ID != id {
			t.Errorf("rank %d: expected %s, got %s", i, id, ranked[i].Volunteer.ID)
		}
	}
}

func TestRankVolunteers_TierFloorIsExclusive(t *testing.T) {
	ranked := RankVolunteers([]VolunteerCandidate{
		rankedVol("at-floor", 80, 5),
		rankedVol("above", 81, 30),
	})
	if ranked[0].Volunteer.ID != "above" {
		t.Errorf("a score of exactly 80 must not reach the preferred tier")
	}
}

func TestRankVolunteers_NoHistoryRanksAtFullScore(t *testing.T) {
	fresh := VolunteerCandidate{
		Volunteer: model.Volunteer{User: model.User{ID: "fresh"}},
		TravelMin: 5,
	}
	ranked := RankVolunteers([]VolunteerCandidate{
		rankedVol("veteran", 81, 50),
		fresh,
	})
	if ranked[0].Volunteer.ID != "fresh" {
		t.Errorf("a volunteer with no history shares the top tier and wins on travel time, got %s first", ranked[0].Volunteer.ID)
	}
}

func rankedVol(id string, rel int, travel float64) VolunteerCandidate {
	return VolunteerCandidate{
		Volunteer: model.Volunteer{User: model.User{ID: id}, Reliability: rel, ReliabilitySet: true},
		TravelMin: travel,
	}
}
