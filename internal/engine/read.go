package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/lthms/hierprops/internal/hierarchy"
)

// Node returns the node with the given id.
func (e *Engine) Node(ctx context.Context, id string) (*hierarchy.Node, error) {
	return e.node(ctx, id)
}

// Roots returns every parentless node.
func (e *Engine) Roots(ctx context.Context) ([]*hierarchy.Node, error) {
	roots, err := e.store.Roots(ctx)
	return roots, hierarchy.StoreError(err, "list roots")
}

// Children returns the direct children of a node.
func (e *Engine) Children(ctx context.Context, id string) ([]*hierarchy.Node, error) {
	if _, err := e.node(ctx, id); err != nil {
		return nil, err
	}
	children, err := e.store.Children(ctx, id)
	return children, hierarchy.StoreError(err, "children of %s", id)
}

// Descendants returns every node below a node.
func (e *Engine) Descendants(ctx context.Context, id string) ([]*hierarchy.Node, error) {
	if _, err := e.node(ctx, id); err != nil {
		return nil, err
	}
	desc, err := e.store.Descendants(ctx, id)
	return desc, hierarchy.StoreError(err, "descendants of %s", id)
}

// GetRoot returns the root of the tree holding a node.
func (e *Engine) GetRoot(ctx context.Context, id string) (*hierarchy.Node, error) {
	n, err := e.node(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.IsRoot() {
		return n, nil
	}
	return e.node(ctx, n.Ancestors[len(n.Ancestors)-1])
}

// Assignments returns the assignments stated at a node.
func (e *Engine) Assignments(ctx context.Context, id string) ([]hierarchy.Assignment, error) {
	if _, err := e.node(ctx, id); err != nil {
		return nil, err
	}
	as, err := e.store.FindAssignments(ctx, hierarchy.Query{NodeID: id})
	return as, hierarchy.StoreError(err, "assignments of %s", id)
}

// Materialized returns every entry visible at a node.
func (e *Engine) Materialized(ctx context.Context, id string) ([]hierarchy.Entry, error) {
	if _, err := e.node(ctx, id); err != nil {
		return nil, err
	}
	es, err := e.store.FindEntries(ctx, hierarchy.Query{NodeID: id})
	return es, hierarchy.StoreError(err, "entries of %s", id)
}

// GetPropertiesForEntity maps each property entity has at a node to its
// distance from the nearest definition.
func (e *Engine) GetPropertiesForEntity(ctx context.Context, id, entity string) (map[string]int, error) {
	if entity == "" {
		return nil, errors.Wrap(hierarchy.ErrInvalidArgument, "entity name is empty")
	}
	entries, err := e.findEntries(ctx, hierarchy.Query{NodeID: id, Entity: entity})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(entries))
	for _, en := range entries {
		out[en.Property] = en.Distance
	}
	return out, nil
}

// GetEntitiesWithProperty maps each entity holding property at a node to its
// distance from the nearest definition.
func (e *Engine) GetEntitiesWithProperty(ctx context.Context, id, property string) (map[string]int, error) {
	if property == "" {
		return nil, errors.Wrap(hierarchy.ErrInvalidArgument, "property is empty")
	}
	entries, err := e.findEntries(ctx, hierarchy.Query{NodeID: id, Property: property})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(entries))
	for _, en := range entries {
		out[en.Entity] = en.Distance
	}
	return out, nil
}

// OwnPropertiesForEntity lists the properties assigned to entity at the node
// itself, ignoring inheritance.
func (e *Engine) OwnPropertiesForEntity(ctx context.Context, id, entity string) ([]string, error) {
	if entity == "" {
		return nil, errors.Wrap(hierarchy.ErrInvalidArgument, "entity name is empty")
	}
	as, err := e.findAssignments(ctx, hierarchy.Query{NodeID: id, Entity: entity})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Property
	}
	return out, nil
}

// OwnEntitiesWithProperty lists the entities assigned property at the node
// itself, ignoring inheritance.
func (e *Engine) OwnEntitiesWithProperty(ctx context.Context, id, property string) ([]string, error) {
	if property == "" {
		return nil, errors.Wrap(hierarchy.ErrInvalidArgument, "property is empty")
	}
	as, err := e.findAssignments(ctx, hierarchy.Query{NodeID: id, Property: property})
	if err != nil {
		return nil, err
	}
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Entity
	}
	return out, nil
}

func (e *Engine) findEntries(ctx context.Context, q hierarchy.Query) ([]hierarchy.Entry, error) {
	if _, err := e.node(ctx, q.NodeID); err != nil {
		return nil, err
	}
	es, err := e.store.FindEntries(ctx, q)
	return es, hierarchy.StoreError(err, "entries of %s", q.NodeID)
}

func (e *Engine) findAssignments(ctx context.Context, q hierarchy.Query) ([]hierarchy.Assignment, error) {
	if _, err := e.node(ctx, q.NodeID); err != nil {
		return nil, err
	}
	as, err := e.store.FindAssignments(ctx, q)
	return as, hierarchy.StoreError(err, "assignments of %s", q.NodeID)
}
