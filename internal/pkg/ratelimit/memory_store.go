package ratelimit

import (
	"sync"
	"time"
)

// MemoryStore keeps window records in a mutex-guarded map. Suitable for a
// single-process deployment; counters are lost on restart, which only
// widens a window once and is acceptable for abuse deterrence.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

func (s *MemoryStore) CompareAndSwap(key string, old, new Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key]
	if old.IsZero() {
		// Create-if-absent: fail when someone created a record since the
		// caller's Get; the caller re-reads and retries.
		if ok {
			return false
		}
	} else if !ok || cur != old {
		return false
	}
	s.records[key] = new
	return true
}

func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if !now.Before(rec.ResetAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live records, used by tests and the sweeper log.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
