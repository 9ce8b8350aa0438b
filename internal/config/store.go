package config

import "sync"

// Source provides the current configuration snapshot.
type Source interface {
	Current() *Snapshot
}

// Store holds the active Snapshot. Readers share a read lock; Swap holds the
// write lock only for the pointer replacement.
type Store struct {
	mu      sync.RWMutex
	current *Snapshot
}

// NewStore creates a store serving snap, or Default when snap is nil.
func NewStore(snap *Snapshot) *Store {
	if snap == nil {
		snap = Default()
	}
	return &Store{current: snap}
}

// Current returns the active snapshot. The returned value must be treated as
// read-only.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap installs next and returns the snapshot it replaced. A nil next is
// ignored.
func (s *Store) Swap(next *Snapshot) *Snapshot {
	if next == nil {
		return s.Current()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next
	return prev
}
