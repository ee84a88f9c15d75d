package pattern

import (
	"sort"
	"sync"

	"github.com/opsmithlabs/errmond/internal/classify"
)

// Store is the keyed map of tracked patterns. Upsert is the only mutator;
// read methods return copies sorted for presentation. The store never
// deletes: patterns live as long as the process.
//
// The supervisor runs one scan at a time, so merges are effectively
// sequential, but the HTTP surface reads concurrently, hence the lock.
type Store struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
}

// NewStore creates an empty pattern store.
func NewStore() *Store {
	return &Store{patterns: make(map[string]*Pattern)}
}

// Upsert merges p into the store under its grouping key. A new key inserts
// a copy; an existing key merges counts, timestamps, and examples.
func (s *Store) Upsert(p *Pattern) {
	if p == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	if existing, ok := s.patterns[key]; ok {
		existing.merge(p)
		return
	}
	s.patterns[key] = p.clone()
}

// Get returns the pattern for a grouping key, or false if untracked.
func (s *Store) Get(key string) (*Pattern, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.patterns[key]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// All returns every tracked pattern, sorted by severity then count
// descending.
func (s *Store) All() []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p.clone())
	}
	SortBySeverity(out)
	return out
}

// Critical returns tracked patterns at critical or high severity.
func (s *Store) Critical() []*Pattern {
	return s.filter(func(p *Pattern) bool {
		return p.Severity == classify.SeverityCritical || p.Severity == classify.SeverityHigh
	})
}

// Fixable returns tracked patterns the fixability table marked remediable.
func (s *Store) Fixable() []*Pattern {
	return s.filter(func(p *Pattern) bool { return p.Fixable })
}

// Len returns the number of distinct patterns tracked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// CountsByCategory returns total occurrence counts grouped by category.
func (s *Store) CountsByCategory() map[classify.Category]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[classify.Category]int)
	for _, p := range s.patterns {
		counts[p.Category] += p.Count
	}
	return counts
}

func (s *Store) filter(keep func(*Pattern) bool) []*Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Pattern
	for _, p := range s.patterns {
		if keep(p) {
			out = append(out, p.clone())
		}
	}
	SortBySeverity(out)
	return out
}

// SortBySeverity orders patterns by severity rank descending, breaking ties
// by occurrence count descending, then key for stability.
func SortBySeverity(ps []*Pattern) {
	sort.Slice(ps, func(i, j int) bool {
		ri, rj := ps[i].Severity.Rank(), ps[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		if ps[i].Count != ps[j].Count {
			return ps[i].Count > ps[j].Count
		}
		return ps[i].Key() < ps[j].Key()
	})
}
