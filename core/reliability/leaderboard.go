package reliability

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Entry is one leaderboard row.
type Entry struct {
	VolunteerID string  `json:"volunteer_id"`
	Name        string  `json:"name"`
	Credits     int     `json:"credits"`
	Deliveries  int     `json:"deliveries"`
	Reliability int     `json:"reliability"`
	PeriodCred  int     `json:"period_credits"`
	AvgKm       float64 `json:"avg_km"`
}

// Board is a ranked leaderboard with summary statistics over the
// period credits.
type Board struct {
	City          string    `json:"city"`
	Since         time.Time `json:"since,omitempty"`
	Entries       []Entry   `json:"entries"`
	MeanCredits   float64   `json:"mean_credits"`
	MedianCredits float64   `json:"median_credits"`
}

// Leaderboard ranks volunteers in the city by total credits. since
// bounds the period aggregates (zero means all time); lifetime totals
// are always reported alongside.
func (l *Ledger) Leaderboard(city string, since time.Time) Board {
	vols := l.roster.Volunteers(city)

	entries := make([]Entry, 0, len(vols))
	for _, v := range vols {
		e := Entry{
			VolunteerID: v.ID,
			Name:        v.Name,
			Credits:     v.Credits,
			Deliveries:  v.Deliveries,
			Reliability: v.Reliability,
		}
		awards := l.Awards(v.ID)
		var km float64
		var n int
		for _, a := range awards {
			if !since.IsZero() && a.At.Before(since) {
				continue
			}
			e.PeriodCred += a.Credits
			km += a.DistanceKm
			n++
		}
		if n > 0 {
			e.AvgKm = km / float64(n)
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Credits != entries[j].Credits {
			return entries[i].Credits > entries[j].Credits
		}
		return entries[i].Deliveries > entries[j].Deliveries
	})

	board := Board{City: city, Since: since, Entries: entries}
	if len(entries) > 0 {
		credits := make([]float64, len(entries))
		for i, e := range entries {
			credits[i] = float64(e.PeriodCred)
		}
		board.MeanCredits = stat.Mean(credits, nil)
		sort.Float64s(credits)
		board.MedianCredits = stat.Quantile(0.5, stat.Empirical, credits, nil)
	}
	return board
}
