// Package idempotency deduplicates non-idempotent writes keyed by a
// caller-supplied token. A retried request with the same token returns
// the originally produced result without re-executing side effects.
package idempotency

import (
	"sync"
	"time"
)

const defaultTTL = 24 * time.Hour

type record struct {
	value   any
	err     error
	expires time.Time
}

// Store is an in-memory token registry with TTL eviction.
type Store struct {
	mu   sync.Mutex
	recs map[string]record
	ttl  time.Duration
	now  func() time.Time
}

// NewStore creates a Store. A non-positive ttl uses the default.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{recs: make(map[string]record), ttl: ttl, now: time.Now}
}

// Get returns the recorded result for the token. The empty token is
// never deduplicated.
func (s *Store) Get(token string) (any, error, bool) {
	if token == "" {
		return nil, nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[token]
	if !ok || s.now().After(rec.expires) {
		return nil, nil, false
	}
	return rec.value, rec.err, true
}

// Put records the result for the token and sweeps expired entries.
func (s *Store) Put(token string, value any, err error) {
	if token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, r := range s.recs {
		if now.After(r.expires) {
			delete(s.recs, k)
		}
	}
	s.recs[token] = record{value: value, err: err, expires: now.Add(s.ttl)}
}
