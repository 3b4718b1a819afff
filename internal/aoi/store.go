package aoi

import "sync"

// Store holds the current region. A load fully replaces the previous value;
// in-flight queries keep the snapshot they took and are not affected.
type Store struct {
	mu  sync.RWMutex
	cur *AreaOfInterest
}

func NewStore() *Store { return &Store{} }

// Replace swaps in a new region.
func (s *Store) Replace(a *AreaOfInterest) {
	s.mu.Lock()
	s.cur = a
	s.mu.Unlock()
}

// Current returns the loaded region, or ErrNoAOILoaded before the first load.
func (s *Store) Current() (*AreaOfInterest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return nil, ErrNoAOILoaded
	}
	return s.cur, nil
}

// Loaded reports whether a region has been set.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur != nil
}
