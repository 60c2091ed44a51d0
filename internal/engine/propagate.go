package engine

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/lthms/hierprops/internal/hierarchy"
)

type frame struct {
	node     *hierarchy.Node
	distance int
}

// propagateBlocking pushes a definition held by origin into its subtree. A
// child that owns its own assignment for the key stops propagation for its
// whole subtree.
func (e *Engine) propagateBlocking(ctx context.Context, origin *hierarchy.Node, key hierarchy.Key, md hierarchy.Metadata, proximity int) error {
	stack := []frame{{node: origin, distance: proximity}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := e.store.Children(ctx, f.node.ID)
		if err != nil {
			return hierarchy.StoreError(err, "children of %s", f.node.ID)
		}
		for _, c := range children {
			k := key.At(c.ID)
			cur, ok, err := e.store.Entry(ctx, k)
			if err != nil {
				return hierarchy.StoreError(err, "entry %s/%s at %s", k.Entity, k.Property, c.ID)
			}
			if ok && cur.Distance == 0 {
				e.logger.Debug("propagation stopped", "node", c.ID, "entity", k.Entity, "property", k.Property)
				propagationStops.Inc()
				continue
			}
			e.logger.Debug("propagation overwrite", "node", c.ID, "entity", k.Entity, "property", k.Property,
				"distance", f.distance+1, "had_entry", ok)
			if err := e.upsert(ctx, "blocking", k, f.distance+1, md, c.Ancestors); err != nil {
				return err
			}
			stack = append(stack, frame{node: c, distance: f.distance + 1})
		}
	}
	return nil
}

// propagateUnconditional writes the key at node with distance and at every
// descendant with distance plus its depth below node, overwriting whatever
// is there.
func (e *Engine) propagateUnconditional(ctx context.Context, node *hierarchy.Node, key hierarchy.Key, md hierarchy.Metadata, distance int) error {
	if err := e.upsert(ctx, "unconditional", key.At(node.ID), distance, md, node.Ancestors); err != nil {
		return err
	}
	desc, err := e.store.Descendants(ctx, node.ID)
	if err != nil {
		return hierarchy.StoreError(err, "descendants of %s", node.ID)
	}
	for _, d := range desc {
		depth := depthBelow(d, node.ID)
		if depth < 0 {
			return errors.AssertionFailedf("descendant %s of %s does not list it as ancestor", d.ID, node.ID)
		}
		if err := e.upsert(ctx, "unconditional", key.At(d.ID), distance+depth, md, d.Ancestors); err != nil {
			return err
		}
	}
	return nil
}

// depthBelow returns the number of edges from ancestor down to n, or -1.
func depthBelow(n *hierarchy.Node, ancestor string) int {
	for i, a := range n.Ancestors {
		if a == ancestor {
			return i + 1
		}
	}
	return -1
}

// clearSubtree deletes every entry held by node and its descendants.
func (e *Engine) clearSubtree(ctx context.Context, node *hierarchy.Node) error {
	desc, err := e.store.Descendants(ctx, node.ID)
	if err != nil {
		return hierarchy.StoreError(err, "descendants of %s", node.ID)
	}
	ids := append([]string{node.ID}, nodeIDs(desc)...)
	if err := e.store.DeleteEntriesAt(ctx, ids); err != nil {
		return hierarchy.StoreError(err, "clear entries under %s", node.ID)
	}
	e.logger.Debug("subtree cleared", "node", node.ID, "nodes", len(ids))
	return nil
}

// regenerateSubtree rebuilds the entries of a cleared subtree. The parent's
// entries seed the whole subtree first; then nodes are visited parents
// before children and each node's own assignments overwrite downward, so a
// closer definition always lands after a farther one.
func (e *Engine) regenerateSubtree(ctx context.Context, node *hierarchy.Node) error {
	if !node.IsRoot() {
		inherited, err := e.store.FindEntries(ctx, hierarchy.Query{NodeID: node.ParentID})
		if err != nil {
			return hierarchy.StoreError(err, "entries of %s", node.ParentID)
		}
		e.logger.Debug("regeneration seeded from parent", "node", node.ID, "parent", node.ParentID, "entries", len(inherited))
		for _, pe := range inherited {
			if err := e.propagateUnconditional(ctx, node, pe.Key, pe.Metadata, pe.Distance+1); err != nil {
				return err
			}
		}
	}

	stack := []*hierarchy.Node{node}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		own, err := e.store.FindAssignments(ctx, hierarchy.Query{NodeID: n.ID})
		if err != nil {
			return hierarchy.StoreError(err, "assignments of %s", n.ID)
		}
		for _, a := range own {
			if err := e.propagateUnconditional(ctx, n, a.Key, a.Metadata, 0); err != nil {
				return err
			}
		}

		children, err := e.store.Children(ctx, n.ID)
		if err != nil {
			return hierarchy.StoreError(err, "children of %s", n.ID)
		}
		stack = append(stack, children...)
	}
	return nil
}

// restamp rewrites the key below a node that just lost its own assignment.
// With a fallback entry the subtree takes the fallback's metadata at
// increasing distances; without one the entries are deleted. Children that
// own the key are left alone.
func (e *Engine) restamp(ctx context.Context, node *hierarchy.Node, key hierarchy.Key, fallback *hierarchy.Entry) error {
	base := 0
	var md hierarchy.Metadata
	if fallback != nil {
		base = fallback.Distance + 1
		md = fallback.Metadata
	}

	stack := []frame{{node: node, distance: base}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		k := key.At(f.node.ID)
		if fallback == nil {
			e.logger.Debug("restamp remove", "node", f.node.ID, "entity", k.Entity, "property", k.Property)
			if err := e.store.DeleteEntry(ctx, k); err != nil {
				return hierarchy.StoreError(err, "delete entry at %s", f.node.ID)
			}
			entriesDeleted.WithLabelValues("restamp").Inc()
		} else {
			e.logger.Debug("restamp update", "node", f.node.ID, "entity", k.Entity, "property", k.Property, "distance", f.distance)
			if err := e.upsert(ctx, "restamp", k, f.distance, md, f.node.Ancestors); err != nil {
				return err
			}
		}

		children, err := e.store.Children(ctx, f.node.ID)
		if err != nil {
			return hierarchy.StoreError(err, "children of %s", f.node.ID)
		}
		for _, c := range children {
			cur, ok, err := e.store.Entry(ctx, key.At(c.ID))
			if err != nil {
				return hierarchy.StoreError(err, "entry at %s", c.ID)
			}
			if !ok {
				return errors.AssertionFailedf("no entry for %s/%s at %s below %s", key.Entity, key.Property, c.ID, f.node.ID)
			}
			if cur.Distance == 0 {
				e.logger.Debug("restamp stopped", "node", c.ID, "entity", key.Entity, "property", key.Property)
				propagationStops.Inc()
				continue
			}
			stack = append(stack, frame{node: c, distance: f.distance + 1})
		}
	}
	return nil
}

func (e *Engine) upsert(ctx context.Context, primitive string, key hierarchy.Key, distance int, md hierarchy.Metadata, ancestors []string) error {
	err := e.store.UpsertEntry(ctx, hierarchy.Entry{
		Key:       key,
		Distance:  distance,
		Metadata:  md.Clone(),
		Ancestors: append([]string{}, ancestors...),
	})
	if err != nil {
		return hierarchy.StoreError(err, "upsert entry %s/%s at %s", key.Entity, key.Property, key.NodeID)
	}
	entriesWritten.WithLabelValues(primitive).Inc()
	return nil
}
