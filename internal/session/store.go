package session

import (
	"cmp"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
)

type Store struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	observer func(Event)
	clock    clockwork.Clock
}

// NewStore returns an empty store stamping entries with clock. A nil clock
// means the wall clock.
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		entries: make(map[string]*Entry),
		clock:   clock,
	}
}

// OnChange registers fn to be called for every change. fn runs while the write
// lock is held, so observers see changes in commit order; it must not call
// back into the Store. Must be called before the store is shared.
func (s *Store) OnChange(fn func(Event)) {
	s.observer = fn
}

// Set replaces the reference for connector and returns the one it replaced.
// A connector seen for the first time starts from None.
func (s *Store) Set(connector string, ref Reference) Reference {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[connector]
	if !ok {
		entry = &Entry{Connector: connector}
		s.entries[connector] = entry
	}
	previous := entry.Reference
	entry.Reference = ref
	entry.UpdatedAt = s.clock.Now()
	entry.Revision++

	if s.observer != nil {
		s.observer(Event{Entry: *entry, Previous: previous})
	}
	return previous
}

// Ensure creates a None entry for connector if it has none yet. It reports
// whether an entry was created. Existing entries are never touched.
func (s *Store) Ensure(connector string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[connector]; ok {
		return false
	}
	entry := &Entry{Connector: connector, UpdatedAt: s.clock.Now()}
	s.entries[connector] = entry
	if s.observer != nil {
		s.observer(Event{Entry: *entry})
	}
	return true
}

// Get returns the current reference for connector. Unknown connectors
// report None and false.
func (s *Store) Get(connector string) (Reference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[connector]
	if !ok {
		return Reference{}, false
	}
	return entry.Reference, true
}

// All returns copies of every entry, sorted by connector.
func (s *Store) All() []Entry {
	s.mu.RLock()
	result := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		result = append(result, *entry)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b Entry) int {
		return cmp.Compare(a.Connector, b.Connector)
	})
	return result
}
