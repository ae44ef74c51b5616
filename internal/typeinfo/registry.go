package typeinfo

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Registry maps operator identities to their records. It is safe for
// concurrent insertion and lookup. Keys are never reassigned.
type Registry struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*OperatorTypeRecord
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[uuid.UUID]*OperatorTypeRecord)}
}

// TryAdd inserts rec under its identity. When the identity is already taken
// the registry is left unchanged and the current holder is returned.
func (r *Registry) TryAdd(rec *OperatorTypeRecord) (*OperatorTypeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[rec.TypeIdentity]; ok {
		return existing, false
	}
	r.records[rec.TypeIdentity] = rec
	return nil, true
}

// Get looks up a record by identity.
func (r *Registry) Get(id uuid.UUID) (*OperatorTypeRecord, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	return rec, ok
}

// Len returns the number of records.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Snapshot returns a copy of the identity map.
func (r *Registry) Snapshot() map[uuid.UUID]*OperatorTypeRecord {
	if r == nil {
		return map[uuid.UUID]*OperatorTypeRecord{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uuid.UUID]*OperatorTypeRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out
}

// NamespaceSet is a set of namespaces safe for concurrent insertion.
type NamespaceSet struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewNamespaceSet returns an empty set.
func NewNamespaceSet() *NamespaceSet {
	return &NamespaceSet{names: make(map[string]struct{})}
}

// Add records ns. Empty names are ignored.
func (s *NamespaceSet) Add(ns string) {
	if ns == "" {
		return
	}
	s.mu.Lock()
	s.names[ns] = struct{}{}
	s.mu.Unlock()
}

// Contains reports membership.
func (s *NamespaceSet) Contains(ns string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[ns]
	return ok
}

// List returns the namespaces in sorted order.
func (s *NamespaceSet) List() []string {
	if s == nil {
		return []string{}
	}
	s.mu.RLock()
	names := lo.Keys(s.names)
	s.mu.RUnlock()

	sort.Strings(names)
	return names
}
