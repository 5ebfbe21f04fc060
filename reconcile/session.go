package reconcile

import (
	"sync"
	"time"

	"github.com/warp/payout-engine/payout"
)

// SessionStore keeps in-flight reconciliation attempts for review. Entries
// expire after TTL; Purge drops them. The clock is injectable.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*session
}

type session struct {
	mu      sync.Mutex // guards attempt
	attempt *Attempt
	expires time.Time // guarded by SessionStore.mu
}

func NewSessionStore(ttl time.Duration, now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	return &SessionStore{ttl: ttl, now: now, entries: make(map[string]*session)}
}

func (s *SessionStore) Put(a *Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[a.ID] = &session{attempt: a, expires: s.now().Add(s.ttl)}
}

// Get returns a copy of a live attempt. It waits for an Apply or Discard
// in progress on the same attempt.
func (s *SessionStore) Get(id string) (*Attempt, error) {
	s.mu.Lock()
	e, ok := s.live(id)
	s.mu.Unlock()
	if !ok {
		return nil, &payout.NotFoundError{Entity: "import", ID: id}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.attempt
	return &cp, nil
}

// Acquire locks an attempt for exclusive use. The returned release stores
// any changes made through the pointer and refreshes the TTL.
func (s *SessionStore) Acquire(id string) (*Attempt, func(), error) {
	s.mu.Lock()
	e, ok := s.live(id)
	s.mu.Unlock()
	if !ok {
		return nil, nil, &payout.NotFoundError{Entity: "import", ID: id}
	}

	e.mu.Lock()
	release := func() {
		s.mu.Lock()
		e.expires = s.now().Add(s.ttl)
		s.mu.Unlock()
		e.mu.Unlock()
	}
	return e.attempt, release, nil
}

func (s *SessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Purge removes expired attempts and returns how many were dropped.
func (s *SessionStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *SessionStore) live(id string) (*session, bool) {
	e, ok := s.entries[id]
	if !ok || !s.now().Before(e.expires) {
		return nil, false
	}
	return e, true
}
