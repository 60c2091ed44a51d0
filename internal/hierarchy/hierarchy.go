// Package hierarchy defines the records of a property forest and the store
// contracts the materialization engine is built on.
//
// A forest holds three kinds of records:
//
//   - Node: a tree node with its full ancestor closure list.
//   - Assignment: an explicit (entity, property) fact stated at a node.
//   - Entry: the derived nearest definition of an (entity, property) key
//     visible at a node, with its distance to the defining node.
package hierarchy

import "slices"

// Metadata is free-form data attached to an assignment and copied into every
// entry derived from it.
type Metadata map[string]string

// Clone returns a copy of m. A nil map stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Node is a tree node. Ancestors runs from the parent up to the root.
type Node struct {
	ID        string   `json:"id" yaml:"id"`
	ParentID  string   `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Ancestors []string `json:"ancestors" yaml:"ancestors"`
}

// IsRoot reports whether n has no parent.
func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// HasAncestor reports whether id appears in n's closure list.
func (n *Node) HasAncestor(id string) bool {
	return slices.Contains(n.Ancestors, id)
}

// Key identifies an (entity, property) pair at a node.
type Key struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	Entity   string `json:"entity" yaml:"entity"`
	Property string `json:"property" yaml:"property"`
}

// At returns the same (entity, property) pair keyed at another node.
func (k Key) At(nodeID string) Key {
	k.NodeID = nodeID
	return k
}

// Assignment is an explicit property fact stated at a node.
type Assignment struct {
	Key
	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Entry is a materialized nearest definition. Distance 0 means the node holds
// the assignment itself; Distance d means the d-th ancestor does.
type Entry struct {
	Key
	Distance  int      `json:"distance" yaml:"distance"`
	Metadata  Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Ancestors []string `json:"ancestors" yaml:"ancestors"`
}

// Query selects assignments or entries by exact match on its non-empty
// fields. The zero Query matches everything.
type Query struct {
	NodeID   string
	Entity   string
	Property string
}

// MatchKey reports whether k satisfies q.
func (q Query) MatchKey(k Key) bool {
	if q.NodeID != "" && q.NodeID != k.NodeID {
		return false
	}
	if q.Entity != "" && q.Entity != k.Entity {
		return false
	}
	if q.Property != "" && q.Property != k.Property {
		return false
	}
	return true
}
