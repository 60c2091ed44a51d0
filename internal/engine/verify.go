package engine

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/lthms/hierprops/internal/hierarchy"
)

// Problem is one disagreement between the stored forest and a brute-force
// recomputation of it.
type Problem struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	Entity   string `json:"entity,omitempty" yaml:"entity,omitempty"`
	Property string `json:"property,omitempty" yaml:"property,omitempty"`
	Detail   string `json:"detail" yaml:"detail"`
}

func (p Problem) String() string {
	if p.Entity == "" && p.Property == "" {
		return fmt.Sprintf("%s: %s", p.NodeID, p.Detail)
	}
	return fmt.Sprintf("%s %s/%s: %s", p.NodeID, p.Entity, p.Property, p.Detail)
}

type expected struct {
	distance int
	metadata hierarchy.Metadata
}

type pairKey struct{ entity, property string }

// Verify walks every tree from its root, recomputing closure lists and
// nearest definitions from parents and assignments alone, and reports every
// stored value that disagrees. An empty result means the index is
// consistent.
func (e *Engine) Verify(ctx context.Context) (problems []Problem, err error) {
	defer e.track("verify", time.Now(), &err)

	roots, err := e.store.Roots(ctx)
	if err != nil {
		return nil, hierarchy.StoreError(err, "list roots")
	}

	type item struct {
		node      *hierarchy.Node
		lineage   []string
		inherited map[pairKey]expected
	}
	stack := make([]item, 0, len(roots))
	for _, r := range roots {
		stack = append(stack, item{node: r, lineage: []string{}, inherited: map[pairKey]expected{}})
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := it.node

		if !slices.Equal(n.Ancestors, it.lineage) {
			problems = append(problems, Problem{NodeID: n.ID,
				Detail: fmt.Sprintf("ancestors %v, want %v", n.Ancestors, it.lineage)})
		}

		want := make(map[pairKey]expected, len(it.inherited))
		for k, v := range it.inherited {
			want[k] = expected{distance: v.distance + 1, metadata: v.metadata}
		}
		own, err := e.store.FindAssignments(ctx, hierarchy.Query{NodeID: n.ID})
		if err != nil {
			return nil, hierarchy.StoreError(err, "assignments of %s", n.ID)
		}
		for _, a := range own {
			want[pairKey{a.Entity, a.Property}] = expected{distance: 0, metadata: a.Metadata}
		}

		got, err := e.store.FindEntries(ctx, hierarchy.Query{NodeID: n.ID})
		if err != nil {
			return nil, hierarchy.StoreError(err, "entries of %s", n.ID)
		}
		seen := make(map[pairKey]bool, len(got))
		for _, en := range got {
			k := pairKey{en.Entity, en.Property}
			seen[k] = true
			w, ok := want[k]
			switch {
			case !ok:
				problems = append(problems, Problem{NodeID: n.ID, Entity: en.Entity, Property: en.Property,
					Detail: fmt.Sprintf("stale entry at distance %d", en.Distance)})
			case w.distance != en.Distance:
				problems = append(problems, Problem{NodeID: n.ID, Entity: en.Entity, Property: en.Property,
					Detail: fmt.Sprintf("distance %d, want %d", en.Distance, w.distance)})
			case !maps.Equal(w.metadata, en.Metadata):
				problems = append(problems, Problem{NodeID: n.ID, Entity: en.Entity, Property: en.Property,
					Detail: fmt.Sprintf("metadata %v, want %v", en.Metadata, w.metadata)})
			case !slices.Equal(en.Ancestors, n.Ancestors):
				problems = append(problems, Problem{NodeID: n.ID, Entity: en.Entity, Property: en.Property,
					Detail: fmt.Sprintf("entry ancestors %v, want %v", en.Ancestors, n.Ancestors)})
			}
		}
		for k, w := range want {
			if !seen[k] {
				problems = append(problems, Problem{NodeID: n.ID, Entity: k.entity, Property: k.property,
					Detail: fmt.Sprintf("missing entry, want distance %d", w.distance)})
			}
		}

		children, err := e.store.Children(ctx, n.ID)
		if err != nil {
			return nil, hierarchy.StoreError(err, "children of %s", n.ID)
		}
		lineage := append([]string{n.ID}, it.lineage...)
		for _, c := range children {
			stack = append(stack, item{node: c, lineage: lineage, inherited: want})
		}
	}

	slices.SortStableFunc(problems, func(a, b Problem) int {
		switch {
		case a.NodeID != b.NodeID:
			return cmp.Compare(a.NodeID, b.NodeID)
		case a.Entity != b.Entity:
			return cmp.Compare(a.Entity, b.Entity)
		default:
			return cmp.Compare(a.Property, b.Property)
		}
	})
	if len(problems) > 0 {
		e.logger.Warn("forest inconsistent", "problems", len(problems))
	}
	return problems, nil
}
