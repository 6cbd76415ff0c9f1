package policy

import "sync/atomic"

// Store publishes Policy snapshots atomically so concurrent evaluators
// never observe a half-assembled policy (spec §5, §9). It is the
// implementation of the "atomic pointer/handle swap" design note.
type Store struct {
	v atomic.Value // holds Policy
}

// NewStore creates a Store pre-populated with p.
func NewStore(p Policy) *Store {
	s := &Store{}
	s.v.Store(p)
	return s
}

// Current returns the currently published Policy. In-flight evaluations
// that already called Current keep the snapshot they received even if a
// reload publishes a new one concurrently.
func (s *Store) Current() Policy {
	return s.v.Load().(Policy)
}

// Publish atomically swaps in a new Policy snapshot.
func (s *Store) Publish(p Policy) {
	s.v.Store(p)
}
