// Package memstore keeps a forest in process memory. It backs tests and the
// "memory" backend of the CLI.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/lthms/hierprops/internal/hierarchy"
)

var _ hierarchy.Store = (*Store)(nil)

// Store is a map-backed hierarchy.Store. It is safe for concurrent use; each
// call is atomic on its own.
type Store struct {
	mu          sync.RWMutex
	nodes       map[string]hierarchy.Node
	assignments map[hierarchy.Key]hierarchy.Assignment
	entries     map[hierarchy.Key]hierarchy.Entry

	// NewID allocates node ids. Tests replace it to force failures or
	// deterministic ids.
	NewID func() string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nodes:       make(map[string]hierarchy.Node),
		assignments: make(map[hierarchy.Key]hierarchy.Assignment),
		entries:     make(map[hierarchy.Key]hierarchy.Entry),
		NewID:       uuid.NewString,
	}
}

func (s *Store) Close() error { return nil }

func cloneNode(n hierarchy.Node) *hierarchy.Node {
	n.Ancestors = cloneIDs(n.Ancestors)
	return &n
}

// cloneIDs copies a closure list; stored lists are never nil.
func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (s *Store) InsertNode(_ context.Context, parentID string, ancestors []string) (string, error) {
	id := s.NewID()
	if id == "" {
		return "", errors.New("memstore: no id allocated")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; ok {
		return "", errors.Newf("memstore: duplicate node id %s", id)
	}
	s.nodes[id] = hierarchy.Node{ID: id, ParentID: parentID, Ancestors: cloneIDs(ancestors)}
	return id, nil
}

func (s *Store) Node(_ context.Context, id string) (*hierarchy.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, errors.Wrapf(hierarchy.ErrNodeNotFound, "node %s", id)
	}
	return cloneNode(n), nil
}

// collect returns the nodes matching keep, ordered by id so callers see a
// stable traversal order.
func (s *Store) collect(keep func(hierarchy.Node) bool) []*hierarchy.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*hierarchy.Node
	for _, n := range s.nodes {
		if keep(n) {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Children(_ context.Context, id string) ([]*hierarchy.Node, error) {
	return s.collect(func(n hierarchy.Node) bool { return n.ParentID == id }), nil
}

func (s *Store) Descendants(_ context.Context, id string) ([]*hierarchy.Node, error) {
	return s.collect(func(n hierarchy.Node) bool { return slices.Contains(n.Ancestors, id) }), nil
}

func (s *Store) Roots(_ context.Context) ([]*hierarchy.Node, error) {
	return s.collect(func(n hierarchy.Node) bool { return n.ParentID == "" }), nil
}

func (s *Store) SetParentAndAncestors(_ context.Context, id, parentID string, ancestors []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return errors.Wrapf(hierarchy.ErrNodeNotFound, "node %s", id)
	}
	n.ParentID = parentID
	n.Ancestors = cloneIDs(ancestors)
	s.nodes[id] = n
	return nil
}

func (s *Store) DeleteNodes(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.nodes, id)
	}
	return nil
}

func (s *Store) Assignment(_ context.Context, key hierarchy.Key) (hierarchy.Assignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[key]
	if !ok {
		return hierarchy.Assignment{}, false, nil
	}
	a.Metadata = a.Metadata.Clone()
	return a, true, nil
}

func (s *Store) InsertAssignment(_ context.Context, a hierarchy.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Metadata = a.Metadata.Clone()
	s.assignments[a.Key] = a
	return nil
}

func (s *Store) DeleteAssignment(_ context.Context, key hierarchy.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, key)
	return nil
}

func (s *Store) FindAssignments(_ context.Context, q hierarchy.Query) ([]hierarchy.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []hierarchy.Assignment
	for k, a := range s.assignments {
		if q.MatchKey(k) {
			a.Metadata = a.Metadata.Clone()
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	return out, nil
}

func (s *Store) DeleteAssignmentsAt(_ context.Context, nodeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := idSet(nodeIDs)
	for k := range s.assignments {
		if _, ok := drop[k.NodeID]; ok {
			delete(s.assignments, k)
		}
	}
	return nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s *Store) Entry(_ context.Context, key hierarchy.Key) (hierarchy.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return hierarchy.Entry{}, false, nil
	}
	return cloneEntry(e), true, nil
}

func (s *Store) UpsertEntry(_ context.Context, e hierarchy.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key] = cloneEntry(e)
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, key hierarchy.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) FindEntries(_ context.Context, q hierarchy.Query) ([]hierarchy.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []hierarchy.Entry
	for k, e := range s.entries {
		if q.MatchKey(k) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	return out, nil
}

func (s *Store) DeleteEntriesAt(_ context.Context, nodeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := idSet(nodeIDs)
	for k := range s.entries {
		if _, ok := drop[k.NodeID]; ok {
			delete(s.entries, k)
		}
	}
	return nil
}

func cloneEntry(e hierarchy.Entry) hierarchy.Entry {
	e.Metadata = e.Metadata.Clone()
	e.Ancestors = cloneIDs(e.Ancestors)
	return e
}

func lessKey(a, b hierarchy.Key) bool {
	if a.NodeID != b.NodeID {
		return a.NodeID < b.NodeID
	}
	if a.Entity != b.Entity {
		return a.Entity < b.Entity
	}
	return a.Property < b.Property
}
