package lifecycle

import (
	"sync"

	"github.com/foodbridge/relay/core/faults"
	"github.com/foodbridge/relay/core/model"
)

// Store holds postings with per-entity mutual exclusion: only one
// state-changing operation may hold a given posting at a time. Updates
// are check-and-set; a failed mutation leaves the stored posting in its
// pre-transition state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex
	p  model.Posting
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Create stores a new posting. The id must be unused.
func (s *Store) Create(p model.Posting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[p.ID]; ok {
		return &faults.ConflictError{Resource: "posting " + p.ID, Reason: "already exists"}
	}
	s.entries[p.ID] = &entry{p: p}
	return nil
}

func (s *Store) entry(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &faults.NotFoundError{Kind: "posting", ID: id}
	}
	return e, nil
}

// Get returns a copy of the posting.
func (s *Store) Get(id string) (model.Posting, error) {
	e, err := s.entry(id)
	if err != nil {
		return model.Posting{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.p), nil
}

// Update applies fn to the posting under its entity lock. fn operates on
// a copy; the copy is committed only when fn returns nil, so a failed
// update never leaves a partial mutation behind.
func (s *Store) Update(id string, fn func(*model.Posting) error) (model.Posting, error) {
	e, err := s.entry(id)
	if err != nil {
		return model.Posting{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := clone(e.p)
	if err := fn(&next); err != nil {
		return clone(e.p), err
	}
	e.p = next
	return clone(next), nil
}

// List returns copies of all postings accepted by the filter. A nil
// filter returns everything.
func (s *Store) List(filter func(model.Posting) bool) []model.Posting {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var res []model.Posting
	for _, e := range entries {
		e.mu.Lock()
		p := clone(e.p)
		e.mu.Unlock()
		if filter == nil || filter(p) {
			res = append(res, p)
		}
	}
	return res
}

// NonTerminal returns all postings whose status is not absorbing.
func (s *Store) NonTerminal() []model.Posting {
	return s.List(func(p model.Posting) bool { return !p.Status.IsTerminal() })
}

func clone(p model.Posting) model.Posting {
	cp := p
	cp.History = append([]model.HistorySnapshot(nil), p.History...)
	return cp
}
