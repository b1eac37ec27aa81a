package collector

import (
	"errors"
	"sort"
	"sync"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

var ErrUnknownDevice = errors.New("collector: unknown device")

type entry struct {
	mu sync.Mutex
	st entities.ModeState
}

// Store keeps the latest state per device. The map lock only guards lookup
// and creation; reads and writes of a device go through its own entry lock,
// so devices never wait on each other.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	defaultMode entities.Mode
}

func NewStore(defaultMode entities.Mode) *Store {
	if defaultMode == "" {
		defaultMode = entities.ModeAutomatic
	}
	return &Store{entries: make(map[string]*entry), defaultMode: defaultMode}
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e, ok
}

func (s *Store) getOrCreate(id string) *entry {
	if e, ok := s.lookup(id); ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	e := &entry{st: entities.ModeState{DeviceID: id, Mode: s.defaultMode}}
	s.entries[id] = e
	return e
}

// Upsert runs fn on the device state under its lock, creating the device
// with the default mode first if needed. It returns a copy of the result.
func (s *Store) Upsert(id string, fn func(*entities.ModeState)) entities.ModeState {
	e := s.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.st)
	return clone(e.st)
}

// Update is Upsert for known devices only.
func (s *Store) Update(id string, fn func(*entities.ModeState)) (entities.ModeState, error) {
	e, ok := s.lookup(id)
	if !ok {
		return entities.ModeState{}, ErrUnknownDevice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.st)
	return clone(e.st), nil
}

func (s *Store) Get(id string) (entities.ModeState, error) {
	e, ok := s.lookup(id)
	if !ok {
		return entities.ModeState{}, ErrUnknownDevice
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return clone(e.st), nil
}

// IDs returns the known device ids, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Store) List() []entities.ModeState {
	ids := s.IDs()
	out := make([]entities.ModeState, 0, len(ids))
	for _, id := range ids {
		if st, err := s.Get(id); err == nil {
			out = append(out, st)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// DefaultMode is the mode new devices start in.
func (s *Store) DefaultMode() entities.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultMode
}

func (s *Store) SetDefaultMode(m entities.Mode) {
	s.mu.Lock()
	s.defaultMode = m
	s.mu.Unlock()
}

func clone(st entities.ModeState) entities.ModeState {
	out := st
	if st.Snapshot != nil {
		snap := *st.Snapshot
		out.Snapshot = &snap
	}
	if st.Recommendation != nil {
		rec := *st.Recommendation
		out.Recommendation = &rec
	}
	return out
}
