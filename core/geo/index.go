// Package geo maintains queryable positions of receivers and volunteers
// per city and answers radius queries. The city filter is applied before
// any distance computation; cross-city entities are never candidates.
package geo

import (
	"sort"
	"sync"
	"time"

	"github.com/foodbridge/relay/core/model"
)

// Kind discriminates indexed entities.
type Kind string

const (
	KindReceiver  Kind = "receiver"
	KindVolunteer Kind = "volunteer"
)

// Point is one indexed position.
type Point struct {
	ID        string
	Kind      Kind
	City      string
	Loc       model.Location
	Active    bool
	UpdatedAt time.Time
}

// Filter narrows a radius query.
type Filter struct {
	Kind       Kind
	ActiveOnly bool
}

// Match is a query hit with its distance from the query center.
type Match struct {
	Point
	DistanceKm float64
}

// Index is an in-memory position store.
type Index struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{points: make(map[string]Point)}
}

// Upsert stores the point. Updates are last-writer-wins on UpdatedAt; an
// older position never overwrites a newer one.
func (ix *Index) Upsert(p Point) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, ok := ix.points[p.ID]; ok && cur.UpdatedAt.After(p.UpdatedAt) {
		return
	}
	ix.points[p.ID] = p
}

// Remove drops the point from the index.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	delete(ix.points, id)
	ix.mu.Unlock()
}

// Get returns the stored point.
func (ix *Index) Get(id string) (Point, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.points[id]
	return p, ok
}

// WithinRadius returns all points of the given city within radiusKm of
// center, nearest first.
func (ix *Index) WithinRadius(city string, center model.Location, radiusKm float64, f Filter) []Match {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var res []Match
	for _, p := range ix.points {
		if p.City != city {
			continue
		}
		if f.Kind != "" && p.Kind != f.Kind {
			continue
		}
		if f.ActiveOnly && !p.Active {
			continue
		}
		d := HaversineKm(center, p.Loc)
		if d > radiusKm {
			continue
		}
		res = append(res, Match{Point: p, DistanceKm: d})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].DistanceKm < res[j].DistanceKm })
	return res
}
