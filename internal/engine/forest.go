package engine

import (
	"context"

	"github.com/lthms/hierprops/internal/hierarchy"
)

// TreeNode is one node of an exported forest with its data attached.
type TreeNode struct {
	ID           string           `json:"id" yaml:"id"`
	ParentID     string           `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Ancestors    []string         `json:"ancestors" yaml:"ancestors"`
	Assignments  AssignmentView   `json:"assignments" yaml:"assignments"`
	Materialized MaterializedView `json:"materialized" yaml:"materialized"`
	Children     []*TreeNode      `json:"children,omitempty" yaml:"children,omitempty"`
}

// AssignmentView indexes a node's own assignments both ways.
type AssignmentView struct {
	ByEntityName map[string][]string `json:"byEntityName" yaml:"byEntityName"`
	ByProperty   map[string][]string `json:"byProperty" yaml:"byProperty"`
}

// MaterializedView indexes a node's entries both ways, valued by distance.
type MaterializedView struct {
	ByEntityName map[string]map[string]int `json:"byEntityName" yaml:"byEntityName"`
	ByProperty   map[string]map[string]int `json:"byProperty" yaml:"byProperty"`
}

// ForestBuilder assembles read-only snapshots of a forest.
type ForestBuilder struct {
	store hierarchy.Store
}

// NewForestBuilder returns a builder reading from store.
func NewForestBuilder(store hierarchy.Store) *ForestBuilder {
	return &ForestBuilder{store: store}
}

// Forest returns every tree of the forest, roots ordered as the store
// returns them.
func (b *ForestBuilder) Forest(ctx context.Context) ([]*TreeNode, error) {
	roots, err := b.store.Roots(ctx)
	if err != nil {
		return nil, hierarchy.StoreError(err, "list roots")
	}
	out := make([]*TreeNode, 0, len(roots))
	for _, r := range roots {
		t, err := b.build(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Tree returns the subtree rooted at id.
func (b *ForestBuilder) Tree(ctx context.Context, id string) (*TreeNode, error) {
	n, err := b.store.Node(ctx, id)
	if err != nil {
		return nil, hierarchy.StoreError(err, "load node %s", id)
	}
	return b.build(ctx, n)
}

func (b *ForestBuilder) build(ctx context.Context, root *hierarchy.Node) (*TreeNode, error) {
	top := &TreeNode{ID: root.ID, ParentID: root.ParentID, Ancestors: root.Ancestors}
	stack := []*TreeNode{top}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := b.populate(ctx, t); err != nil {
			return nil, err
		}
		children, err := b.store.Children(ctx, t.ID)
		if err != nil {
			return nil, hierarchy.StoreError(err, "children of %s", t.ID)
		}
		for _, c := range children {
			ct := &TreeNode{ID: c.ID, ParentID: c.ParentID, Ancestors: c.Ancestors}
			t.Children = append(t.Children, ct)
			stack = append(stack, ct)
		}
	}
	return top, nil
}

func (b *ForestBuilder) populate(ctx context.Context, t *TreeNode) error {
	as, err := b.store.FindAssignments(ctx, hierarchy.Query{NodeID: t.ID})
	if err != nil {
		return hierarchy.StoreError(err, "assignments of %s", t.ID)
	}
	t.Assignments = AssignmentView{
		ByEntityName: map[string][]string{},
		ByProperty:   map[string][]string{},
	}
	for _, a := range as {
		t.Assignments.ByEntityName[a.Entity] = append(t.Assignments.ByEntityName[a.Entity], a.Property)
		t.Assignments.ByProperty[a.Property] = append(t.Assignments.ByProperty[a.Property], a.Entity)
	}

	es, err := b.store.FindEntries(ctx, hierarchy.Query{NodeID: t.ID})
	if err != nil {
		return hierarchy.StoreError(err, "entries of %s", t.ID)
	}
	t.Materialized = MaterializedView{
		ByEntityName: map[string]map[string]int{},
		ByProperty:   map[string]map[string]int{},
	}
	for _, en := range es {
		if t.Materialized.ByEntityName[en.Entity] == nil {
			t.Materialized.ByEntityName[en.Entity] = map[string]int{}
		}
		t.Materialized.ByEntityName[en.Entity][en.Property] = en.Distance
		if t.Materialized.ByProperty[en.Property] == nil {
			t.Materialized.ByProperty[en.Property] = map[string]int{}
		}
		t.Materialized.ByProperty[en.Property][en.Entity] = en.Distance
	}
	return nil
}

// Forest builds the whole forest of this engine.
func (e *Engine) Forest(ctx context.Context) ([]*TreeNode, error) {
	return NewForestBuilder(e.store).Forest(ctx)
}

// Tree builds the subtree rooted at id.
func (e *Engine) Tree(ctx context.Context, id string) (*TreeNode, error) {
	return NewForestBuilder(e.store).Tree(ctx, id)
}
