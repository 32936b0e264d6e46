package metrics

import (
	"errors"
	"sync"

	"github.com/daryltucker/kali/internal/model"
)

// ErrDrained is returned by a second Drain on the same store.
var ErrDrained = errors.New("metrics store already drained")

// Store is the append-only collection of outcomes shared by all workers of a
// run. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries []model.RequestMetrics
	drained bool
}

// NewStore returns an empty store. capacity is a sizing hint.
func NewStore(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	return &Store{entries: make([]model.RequestMetrics, 0, capacity)}
}

// Record appends a single entry.
func (s *Store) Record(m model.RequestMetrics) {
	s.Append(m)
}

// Append copies entries into the store. Appending after Drain panics, since
// it means a worker outlived the pool.
func (s *Store) Append(entries ...model.RequestMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drained {
		panic(ErrDrained)
	}
	s.entries = append(s.entries, entries...)
}

// Len returns the number of recorded entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Drain hands over every entry and freezes the store. It can be called once.
func (s *Store) Drain() ([]model.RequestMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.drained {
		return nil, ErrDrained
	}
	s.drained = true

	out := s.entries
	s.entries = nil
	if out == nil {
		out = []model.RequestMetrics{}
	}
	return out, nil
}
