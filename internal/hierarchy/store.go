package hierarchy

import "context"

// NodeStore holds Node records and their closure lists.
//
// Implementations allocate node ids. Writes issued through a store must be
// visible to reads issued later on the same store.
type NodeStore interface {
	// InsertNode creates a node and returns its id.
	InsertNode(ctx context.Context, parentID string, ancestors []string) (string, error)
	// Node returns the node with the given id, or an error matching
	// ErrNodeNotFound.
	Node(ctx context.Context, id string) (*Node, error)
	// Children returns the nodes whose parent is id.
	Children(ctx context.Context, id string) ([]*Node, error)
	// Descendants returns the nodes whose closure list contains id.
	Descendants(ctx context.Context, id string) ([]*Node, error)
	// Roots returns every parentless node.
	Roots(ctx context.Context) ([]*Node, error)
	// SetParentAndAncestors rewrites a node's parent and closure list.
	SetParentAndAncestors(ctx context.Context, id, parentID string, ancestors []string) error
	// DeleteNodes removes the given node records.
	DeleteNodes(ctx context.Context, ids []string) error
}

// AssignmentStore holds explicit property assignments. InsertAssignment does
// not de-duplicate; callers check for an existing assignment first.
type AssignmentStore interface {
	Assignment(ctx context.Context, key Key) (Assignment, bool, error)
	InsertAssignment(ctx context.Context, a Assignment) error
	DeleteAssignment(ctx context.Context, key Key) error
	FindAssignments(ctx context.Context, q Query) ([]Assignment, error)
	DeleteAssignmentsAt(ctx context.Context, nodeIDs []string) error
}

// MaterializedIndex holds derived entries.
type MaterializedIndex interface {
	Entry(ctx context.Context, key Key) (Entry, bool, error)
	UpsertEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, key Key) error
	FindEntries(ctx context.Context, q Query) ([]Entry, error)
	DeleteEntriesAt(ctx context.Context, nodeIDs []string) error
}

// Store bundles the three collections of a forest.
type Store interface {
	NodeStore
	AssignmentStore
	MaterializedIndex
	Close() error
}
