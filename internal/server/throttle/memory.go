package throttle

import (
	"context"
	"sync"
	"time"
)

type addrState struct {
	failures    []time.Time
	lockedUntil time.Time
}

// MemoryStore is an in-process AttemptStore backed by a mutexed map.
// Appends for the same address are serialized by the store mutex, so
// concurrent failures are never under-counted. State is lost on restart.
type MemoryStore struct {
	cfg Config
	now func() time.Time

	mu    sync.Mutex
	addrs map[string]*addrState
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{cfg: cfg, now: time.Now, addrs: make(map[string]*addrState)}
}

func (s *MemoryStore) RecordFailure(_ context.Context, addr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.addrs[addr]
	if st == nil {
		st = &addrState{}
		s.addrs[addr] = st
	}
	st.failures = append(st.failures, now)

	if now.Before(st.lockedUntil) {
		return true, nil
	}

	// The window spans from the first recorded failure; entries are never
	// pruned, so an old first failure widens the spread past the window
	// instead of sliding it.
	if len(st.failures) >= s.cfg.Threshold {
		first := st.failures[0]
		last := st.failures[len(st.failures)-1]
		if last.Sub(first) <= s.cfg.Window {
			st.lockedUntil = now.Add(s.cfg.LockDuration)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) IsLocked(_ context.Context, addr string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.addrs[addr]
	if st == nil {
		return false, nil
	}
	return s.now().Before(st.lockedUntil), nil
}

func (s *MemoryStore) Reset(_ context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.addrs, addr)
	return nil
}
