package call

import (
	"sync"
)

// Store is the single authoritative map of call id to Record. All mutation
// goes through Mutate so transition logic stays centralized and race-free
// per id: concurrent mutations for the same id serialize on a per-id lock,
// while mutations for different ids proceed independently.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// entry owns the per-id mutation right. The store-level lock is held only
// to look entries up, never across a mutator call.
type entry struct {
	mu      sync.Mutex
	rec     *Record // nil while no record exists for this id
	removed bool    // set once the entry has been unlinked from the map
}

// NewStore creates an empty call store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// Mutate applies fn to the record for id under the per-id lock. fn receives
// the current record (nil if absent) and returns the record to store;
// returning nil (or the nil input unchanged) leaves the id absent. Records
// are treated as immutable: fn must return a copy, not write through cur.
//
// The returned record is the stored result; ok is false when the id holds
// no record after fn ran, which is how stale-event no-ops report themselves.
func (s *Store) Mutate(id string, fn func(cur *Record) *Record) (*Record, bool) {
	id = NormalizeID(id)

	for {
		s.mu.Lock()
		e, exists := s.entries[id]
		if !exists {
			e = &entry{}
			s.entries[id] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.removed {
			// Lost a race with Remove; the map may already hold a fresh
			// entry for this id. Start over.
			e.mu.Unlock()
			continue
		}

		e.rec = fn(e.rec)
		rec := e.rec

		if rec == nil {
			// Nothing stored: unlink the placeholder so stale events do not
			// leak empty entries.
			e.removed = true
			e.mu.Unlock()

			s.mu.Lock()
			if cur, ok := s.entries[id]; ok && cur == e {
				delete(s.entries, id)
			}
			s.mu.Unlock()
			return nil, false
		}
		e.mu.Unlock()
		return rec, true
	}
}

// Get retrieves the record for id. Returns false for unknown ids, which
// signals a stale event, never a fatal condition.
func (s *Store) Get(id string) (*Record, bool) {
	id = NormalizeID(id)

	s.mu.RLock()
	e, exists := s.entries[id]
	s.mu.RUnlock()
	if !exists {
		return nil, false
	}

	e.mu.Lock()
	rec := e.rec
	e.mu.Unlock()
	if rec == nil {
		return nil, false
	}
	return rec, true
}

// Remove deletes the record for id. Returns true if a record was present.
// Removal happens after dependent consumers have been notified of the
// terminal state; it is a consequence of completion, not a precondition.
func (s *Store) Remove(id string) bool {
	id = NormalizeID(id)

	s.mu.Lock()
	e, exists := s.entries[id]
	if exists {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !exists {
		return false
	}

	e.mu.Lock()
	had := e.rec != nil
	e.rec = nil
	e.removed = true
	e.mu.Unlock()
	return had
}

// Answered returns all records currently in the Answered state.
func (s *Store) Answered() []*Record {
	var out []*Record
	for _, rec := range s.All() {
		if rec.Status == StatusAnswered {
			out = append(out, rec)
		}
	}
	return out
}

// All returns a snapshot of every stored record.
func (s *Store) All() []*Record {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.rec != nil {
			out = append(out, e.rec)
		}
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	return len(s.All())
}
