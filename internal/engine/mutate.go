package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lthms/hierprops/internal/hierarchy"
)

// CreateHierarchyItem creates a parentless node with no entries.
func (e *Engine) CreateHierarchyItem(ctx context.Context) (_ *hierarchy.Node, err error) {
	defer e.track("create_hierarchy_item", time.Now(), &err)

	id, err := e.store.InsertNode(ctx, "", nil)
	if err != nil {
		return nil, hierarchy.StoreError(err, "insert root")
	}
	e.logger.Info("root created", "node", id)
	return &hierarchy.Node{ID: id, Ancestors: []string{}}, nil
}

// CreateChild creates a node under parentID. The child inherits a copy of
// every parent entry one step further away.
func (e *Engine) CreateChild(ctx context.Context, parentID string) (_ *hierarchy.Node, err error) {
	defer e.track("create_child", time.Now(), &err)

	parent, err := e.node(ctx, parentID)
	if err != nil {
		return nil, err
	}
	ancestors := append([]string{parent.ID}, parent.Ancestors...)
	id, err := e.store.InsertNode(ctx, parent.ID, ancestors)
	if err != nil {
		return nil, hierarchy.StoreError(err, "insert child of %s", parent.ID)
	}

	inherited, err := e.store.FindEntries(ctx, hierarchy.Query{NodeID: parent.ID})
	if err != nil {
		return nil, hierarchy.StoreError(err, "entries of %s", parent.ID)
	}
	for _, pe := range inherited {
		if err := e.upsert(ctx, "inherit", pe.Key.At(id), pe.Distance+1, pe.Metadata, ancestors); err != nil {
			return nil, err
		}
	}
	e.logger.Info("child created", "node", id, "parent", parent.ID, "inherited", len(inherited))
	return &hierarchy.Node{ID: id, ParentID: parent.ID, Ancestors: ancestors}, nil
}

// RemoveNode deletes a node and promotes its children to its parent. The
// promoted subtrees are re-derived from scratch, since skipping a level can
// change which definition is nearest.
func (e *Engine) RemoveNode(ctx context.Context, id string) (err error) {
	defer e.track("remove_node", time.Now(), &err)

	node, err := e.node(ctx, id)
	if err != nil {
		return err
	}
	desc, err := e.store.Descendants(ctx, node.ID)
	if err != nil {
		return hierarchy.StoreError(err, "descendants of %s", node.ID)
	}

	var promoted []string
	for _, d := range desc {
		parent := d.ParentID
		if parent == node.ID {
			parent = node.ParentID
			promoted = append(promoted, d.ID)
		}
		if err := e.store.SetParentAndAncestors(ctx, d.ID, parent, without(d.Ancestors, node.ID)); err != nil {
			return hierarchy.StoreError(err, "rewrite ancestors of %s", d.ID)
		}
	}

	for _, cid := range promoted {
		if err := e.repair(ctx, cid); err != nil {
			return err
		}
	}

	ids := []string{node.ID}
	// Entries first: a failure in between must not leave distance 0 entries
	// without their assignment.
	if err := e.store.DeleteEntriesAt(ctx, ids); err != nil {
		return hierarchy.StoreError(err, "delete entries of %s", node.ID)
	}
	if err := e.store.DeleteAssignmentsAt(ctx, ids); err != nil {
		return hierarchy.StoreError(err, "delete assignments of %s", node.ID)
	}
	if err := e.store.DeleteNodes(ctx, ids); err != nil {
		return hierarchy.StoreError(err, "delete node %s", node.ID)
	}
	e.logger.Info("node removed", "node", node.ID, "promoted", len(promoted))
	return nil
}

// RemoveSubTree deletes a node, every descendant, and everything stored at
// them.
func (e *Engine) RemoveSubTree(ctx context.Context, id string) (err error) {
	defer e.track("remove_subtree", time.Now(), &err)

	node, err := e.node(ctx, id)
	if err != nil {
		return err
	}
	desc, err := e.store.Descendants(ctx, node.ID)
	if err != nil {
		return hierarchy.StoreError(err, "descendants of %s", node.ID)
	}
	ids := append([]string{node.ID}, nodeIDs(desc)...)

	if err := e.store.DeleteEntriesAt(ctx, ids); err != nil {
		return hierarchy.StoreError(err, "delete entries under %s", node.ID)
	}
	if err := e.store.DeleteAssignmentsAt(ctx, ids); err != nil {
		return hierarchy.StoreError(err, "delete assignments under %s", node.ID)
	}
	if err := e.store.DeleteNodes(ctx, ids); err != nil {
		return hierarchy.StoreError(err, "delete nodes under %s", node.ID)
	}
	e.logger.Info("subtree removed", "node", node.ID, "nodes", len(ids))
	return nil
}

// Detach makes a node a root. With regenerate set, entries inherited from
// the old lineage are purged and the node's own definitions re-propagated;
// without it the index is left stale for a following AttachTo.
func (e *Engine) Detach(ctx context.Context, id string, regenerate bool) (err error) {
	defer e.track("detach", time.Now(), &err)

	node, err := e.node(ctx, id)
	if err != nil {
		return err
	}
	return e.detach(ctx, node, regenerate)
}

func (e *Engine) detach(ctx context.Context, node *hierarchy.Node, regenerate bool) error {
	desc, err := e.store.Descendants(ctx, node.ID)
	if err != nil {
		return hierarchy.StoreError(err, "descendants of %s", node.ID)
	}
	for _, d := range desc {
		if err := e.store.SetParentAndAncestors(ctx, d.ID, d.ParentID, without(d.Ancestors, node.Ancestors...)); err != nil {
			return hierarchy.StoreError(err, "rewrite ancestors of %s", d.ID)
		}
	}
	if err := e.store.SetParentAndAncestors(ctx, node.ID, "", []string{}); err != nil {
		return hierarchy.StoreError(err, "detach %s", node.ID)
	}
	e.logger.Info("node detached", "node", node.ID, "former_parent", node.ParentID, "regenerate", regenerate)

	if !regenerate {
		return nil
	}
	return e.repair(ctx, node.ID)
}

// AttachTo hangs a detached node under target and re-derives its subtree.
func (e *Engine) AttachTo(ctx context.Context, id, targetID string) (err error) {
	defer e.track("attach_to", time.Now(), &err)

	node, target, err := e.checkAttach(ctx, id, targetID)
	if err != nil {
		return err
	}
	if !node.IsRoot() {
		return errors.Wrapf(hierarchy.ErrAlreadyAttached, "node %s has parent %s", node.ID, node.ParentID)
	}
	return e.attach(ctx, node, target)
}

// checkAttach loads both ends of an attach and rejects self-attachment,
// missing targets, and targets inside the node's own subtree.
func (e *Engine) checkAttach(ctx context.Context, id, targetID string) (node, target *hierarchy.Node, err error) {
	if id == targetID {
		return nil, nil, errors.Wrapf(hierarchy.ErrSelfAttach, "node %s", id)
	}
	node, err = e.node(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	target, err = e.store.Node(ctx, targetID)
	if hierarchy.KindOf(err) == hierarchy.KindNodeNotFound {
		return nil, nil, errors.Wrapf(hierarchy.ErrInvalidTarget, "target %s is not a node", targetID)
	}
	if err != nil {
		return nil, nil, hierarchy.StoreError(err, "load target %s", targetID)
	}
	if target.HasAncestor(node.ID) {
		return nil, nil, errors.Wrapf(hierarchy.ErrInvalidTarget, "target %s is a descendant of %s", target.ID, node.ID)
	}
	return node, target, nil
}

func (e *Engine) attach(ctx context.Context, node, target *hierarchy.Node) error {
	lineage := append([]string{target.ID}, target.Ancestors...)

	desc, err := e.store.Descendants(ctx, node.ID)
	if err != nil {
		return hierarchy.StoreError(err, "descendants of %s", node.ID)
	}
	for _, d := range desc {
		ancestors := append(append([]string{}, d.Ancestors...), lineage...)
		if err := e.store.SetParentAndAncestors(ctx, d.ID, d.ParentID, ancestors); err != nil {
			return hierarchy.StoreError(err, "rewrite ancestors of %s", d.ID)
		}
	}
	if err := e.store.SetParentAndAncestors(ctx, node.ID, target.ID, lineage); err != nil {
		return hierarchy.StoreError(err, "attach %s", node.ID)
	}
	e.logger.Info("node attached", "node", node.ID, "target", target.ID)
	return e.repair(ctx, node.ID)
}

// MoveTo re-parents a node under target. It is a detach without
// regeneration followed by an attach, so the subtree is re-derived once.
// Preconditions are checked before the detach; the two steps are not
// isolated from concurrent readers.
func (e *Engine) MoveTo(ctx context.Context, id, targetID string) (err error) {
	defer e.track("move_to", time.Now(), &err)

	node, target, err := e.checkAttach(ctx, id, targetID)
	if err != nil {
		return err
	}
	if err := e.detach(ctx, node, false); err != nil {
		return err
	}
	node, err = e.node(ctx, node.ID)
	if err != nil {
		return err
	}
	return e.attach(ctx, node, target)
}

// AddPropertyForEntity states that entity has property at node and pushes
// the definition down until a node holding its own assignment is reached.
func (e *Engine) AddPropertyForEntity(ctx context.Context, nodeID, entity, property string, md hierarchy.Metadata) (err error) {
	defer e.track("add_property", time.Now(), &err)

	if err := checkKey(entity, property); err != nil {
		return err
	}
	node, err := e.node(ctx, nodeID)
	if err != nil {
		return err
	}
	key := hierarchy.Key{NodeID: node.ID, Entity: entity, Property: property}
	_, exists, err := e.store.Assignment(ctx, key)
	if err != nil {
		return hierarchy.StoreError(err, "lookup assignment at %s", node.ID)
	}
	if exists {
		e.logger.Warn("entity already assigned property here", "node", node.ID, "entity", entity, "property", property)
		return errors.Wrapf(hierarchy.ErrAssignmentExists, "%s/%s at %s", entity, property, node.ID)
	}

	if err := e.store.InsertAssignment(ctx, hierarchy.Assignment{Key: key, Metadata: md.Clone()}); err != nil {
		return hierarchy.StoreError(err, "insert assignment at %s", node.ID)
	}
	if err := e.upsert(ctx, "assign", key, 0, md, node.Ancestors); err != nil {
		return err
	}
	if err := e.propagateBlocking(ctx, node, key, md, 0); err != nil {
		return err
	}
	e.logger.Info("property assigned", "node", node.ID, "entity", entity, "property", property)
	return nil
}

// RemovePropertyForEntity drops an assignment. The subtree falls back to the
// parent's definition when there is one, and loses the key otherwise.
func (e *Engine) RemovePropertyForEntity(ctx context.Context, nodeID, entity, property string) (err error) {
	defer e.track("remove_property", time.Now(), &err)

	if err := checkKey(entity, property); err != nil {
		return err
	}
	node, err := e.node(ctx, nodeID)
	if err != nil {
		return err
	}
	key := hierarchy.Key{NodeID: node.ID, Entity: entity, Property: property}
	_, exists, err := e.store.Assignment(ctx, key)
	if err != nil {
		return hierarchy.StoreError(err, "lookup assignment at %s", node.ID)
	}
	if !exists {
		e.logger.Warn("no such property for entity here", "node", node.ID, "entity", entity, "property", property)
		return errors.Wrapf(hierarchy.ErrAssignmentNotFound, "%s/%s at %s", entity, property, node.ID)
	}

	if err := e.store.DeleteAssignment(ctx, key); err != nil {
		return hierarchy.StoreError(err, "delete assignment at %s", node.ID)
	}

	var fallback *hierarchy.Entry
	if !node.IsRoot() {
		pe, ok, err := e.store.Entry(ctx, key.At(node.ParentID))
		if err != nil {
			return hierarchy.StoreError(err, "entry at parent %s", node.ParentID)
		}
		if ok {
			fallback = &pe
		}
	}
	e.logger.Debug("property fallback", "node", node.ID, "entity", entity, "property", property, "parent_defines", fallback != nil)
	if err := e.restamp(ctx, node, key, fallback); err != nil {
		return err
	}
	e.logger.Info("property unassigned", "node", node.ID, "entity", entity, "property", property)
	return nil
}

// Repair clears and regenerates the entries of a node's subtree. It is
// idempotent on a consistent forest and restores one left stale by an
// interrupted mutation.
func (e *Engine) Repair(ctx context.Context, id string) (err error) {
	defer e.track("repair", time.Now(), &err)
	return e.repair(ctx, id)
}

func (e *Engine) repair(ctx context.Context, id string) error {
	node, err := e.node(ctx, id)
	if err != nil {
		return err
	}
	if err := e.clearSubtree(ctx, node); err != nil {
		return err
	}
	return e.regenerateSubtree(ctx, node)
}
