// Package roster stores receiver and volunteer records behind
// per-entity transactional updates. Location updates are last-writer-
// wins on their client timestamp.
package roster

import (
	"sync"
	"time"

	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/model"
)

// Store is an in-memory roster of receivers and volunteers.
type Store struct {
	mu         sync.RWMutex
	receivers  map[string]*receiverEntry
	volunteers map[string]*volunteerEntry
}

type receiverEntry struct {
	mu sync.Mutex
	r  model.Receiver
}

type volunteerEntry struct {
	mu sync.Mutex
	v  model.Volunteer
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		receivers:  make(map[string]*receiverEntry),
		volunteers: make(map[string]*volunteerEntry),
	}
}

// PutReceiver registers or replaces a receiver record.
func (s *Store) PutReceiver(r model.Receiver) {
	r.Role = model.RoleReceiver
	s.mu.Lock()
	if e, ok := s.receivers[r.ID]; ok {
		e.mu.Lock()
		e.r = cloneReceiver(r)
		e.mu.Unlock()
	} else {
		s.receivers[r.ID] = &receiverEntry{r: cloneReceiver(r)}
	}
	s.mu.Unlock()
}

// PutVolunteer registers or replaces a volunteer record. A volunteer
// with no score history starts at the full reliability score, so fresh
// signups compete on travel time rather than sitting in the bottom
// tier.
func (s *Store) PutVolunteer(v model.Volunteer) {
	v.Role = model.RoleVolunteer
	if v.Status == "" {
		v.Status = model.VolunteerAvailable
	}
	if !v.ReliabilitySet {
		v.Reliability = model.InitialReliability
		v.ReliabilitySet = true
	}
	s.mu.Lock()
	if e, ok := s.volunteers[v.ID]; ok {
		e.mu.Lock()
		e.v = v
		e.mu.Unlock()
	} else {
		s.volunteers[v.ID] = &volunteerEntry{v: v}
	}
	s.mu.Unlock()
}

// Receiver returns a copy of the receiver record.
func (s *Store) Receiver(id string) (model.Receiver, error) {
	s.mu.RLock()
	e, ok := s.receivers[id]
	s.mu.RUnlock()
	if !ok {
		return model.Receiver{}, &faults.NotFoundError{Kind: "receiver", ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneReceiver(e.r), nil
}

// Volunteer returns a copy of the volunteer record.
func (s *Store) Volunteer(id string) (model.Volunteer, error) {
	s.mu.RLock()
	e, ok := s.volunteers[id]
	s.mu.RUnlock()
	if !ok {
		return model.Volunteer{}, &faults.NotFoundError{Kind: "volunteer", ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.v, nil
}

// UpdateReceiver applies fn under the receiver's entity lock. fn works
// on a copy committed only on nil error.
func (s *Store) UpdateReceiver(id string, fn func(*model.Receiver) error) (model.Receiver, error) {
	s.mu.RLock()
	e, ok := s.receivers[id]
	s.mu.RUnlock()
	if !ok {
		return model.Receiver{}, &faults.NotFoundError{Kind: "receiver", ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := cloneReceiver(e.r)
	if err := fn(&next); err != nil {
		return cloneReceiver(e.r), err
	}
	e.r = next
	return cloneReceiver(next), nil
}

// UpdateVolunteer applies fn under the volunteer's entity lock.
func (s *Store) UpdateVolunteer(id string, fn func(*model.Volunteer) error) (model.Volunteer, error) {
	s.mu.RLock()
	e, ok := s.volunteers[id]
	s.mu.RUnlock()
	if !ok {
		return model.Volunteer{}, &faults.NotFoundError{Kind: "volunteer", ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.v
	if err := fn(&next); err != nil {
		return e.v, err
	}
	e.v = next
	return next, nil
}

// UpdateVolunteerLocation records a location fix. Updates are
// last-writer-wins: a fix older than the stored one is ignored.
func (s *Store) UpdateVolunteerLocation(id string, loc model.Location, at time.Time) (model.Volunteer, error) {
	return s.UpdateVolunteer(id, func(v *model.Volunteer) error {
		if at.Before(v.LocationUpdatedAt) {
			return nil
		}
		v.Location = loc
		v.LocationUpdatedAt = at
		return nil
	})
}

// Volunteers returns copies of all volunteers in the city; an empty
// city returns everyone.
func (s *Store) Volunteers(city string) []model.Volunteer {
	s.mu.RLock()
	entries := make([]*volunteerEntry, 0, len(s.volunteers))
	for _, e := range s.volunteers {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	var res []model.Volunteer
	for _, e := range entries {
		e.mu.Lock()
		v := e.v
		e.mu.Unlock()
		if city == "" || v.City == city {
			res = append(res, v)
		}
	}
	return res
}

// Receivers returns copies of all receivers in the city.
func (s *Store) Receivers(city string) []model.Receiver {
	s.mu.RLock()
	entries := make([]*receiverEntry, 0, len(s.receivers))
	for _, e := range s.receivers {
		entries = append(entries, e)
	}
	s.mu.RUnlock()
	var res []model.Receiver
	for _, e := range entries {
		e.mu.Lock()
		r := cloneReceiver(e.r)
		e.mu.Unlock()
		if city == "" || r.City == city {
			res = append(res, r)
		}
	}
	return res
}

func cloneReceiver(r model.Receiver) model.Receiver {
	cp := r
	if r.Rejections != nil {
		cp.Rejections = make(map[model.FoodType]int, len(r.Rejections))
		for k, v := range r.Rejections {
			cp.Rejections[k] = v
		}
	}
	cp.DietaryRestrictions = append([]model.FoodType(nil), r.DietaryRestrictions...)
	return cp
}
