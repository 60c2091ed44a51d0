// Package storetest is the behaviour every hierarchy.Store backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/hierprops/internal/hierarchy"
)

// Factory opens an empty store. The store is closed by Run.
type Factory func(t *testing.T) hierarchy.Store

// Run exercises a backend against the hierarchy.Store contract.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s hierarchy.Store)
	}{
		{"InsertAndGetNode", testInsertAndGetNode},
		{"NodeNotFound", testNodeNotFound},
		{"ChildrenAndDescendants", testChildrenAndDescendants},
		{"Roots", testRoots},
		{"SetParentAndAncestors", testSetParentAndAncestors},
		{"DeleteNodes", testDeleteNodes},
		{"Assignments", testAssignments},
		{"FindAssignments", testFindAssignments},
		{"DeleteAssignmentsAt", testDeleteAssignmentsAt},
		{"Entries", testEntries},
		{"UpsertOverwrites", testUpsertOverwrites},
		{"FindEntries", testFindEntries},
		{"DeleteEntriesAt", testDeleteEntriesAt},
		{"SeparatorBytesInNames", testSeparatorBytesInNames},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { s.Close() })
			tc.fn(t, s)
		})
	}
}

func insert(t *testing.T, s hierarchy.Store, parent string, ancestors ...string) string {
	t.Helper()
	id, err := s.InsertNode(context.Background(), parent, ancestors)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func ids(nodes []*hierarchy.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func testInsertAndGetNode(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	root := insert(t, s, "")
	child := insert(t, s, root, root)

	n, err := s.Node(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, root, n.ID)
	assert.True(t, n.IsRoot())
	assert.Empty(t, n.Ancestors)

	c, err := s.Node(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, root, c.ParentID)
	assert.Equal(t, []string{root}, c.Ancestors)
}

func testNodeNotFound(t *testing.T, s hierarchy.Store) {
	_, err := s.Node(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, hierarchy.KindNodeNotFound, hierarchy.KindOf(err))
}

func testChildrenAndDescendants(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	a := insert(t, s, "")
	a1 := insert(t, s, a, a)
	a2 := insert(t, s, a, a)
	a11 := insert(t, s, a1, a1, a)
	b := insert(t, s, "")

	children, err := s.Children(ctx, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a1, a2}, ids(children))

	desc, err := s.Descendants(ctx, a)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a1, a2, a11}, ids(desc))

	desc, err = s.Descendants(ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, []string{a11}, ids(desc))

	children, err = s.Children(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func testRoots(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	a := insert(t, s, "")
	insert(t, s, a, a)
	b := insert(t, s, "")

	roots, err := s.Roots(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, ids(roots))
}

func testSetParentAndAncestors(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	a := insert(t, s, "")
	b := insert(t, s, "")
	c := insert(t, s, a, a)

	require.NoError(t, s.SetParentAndAncestors(ctx, c, b, []string{b}))

	n, err := s.Node(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, b, n.ParentID)
	assert.Equal(t, []string{b}, n.Ancestors)

	children, err := s.Children(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, children)
	desc, err := s.Descendants(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []string{c}, ids(desc))

	require.NoError(t, s.SetParentAndAncestors(ctx, c, "", nil))
	n, err = s.Node(ctx, c)
	require.NoError(t, err)
	assert.True(t, n.IsRoot())
	assert.Empty(t, n.Ancestors)
}

func testDeleteNodes(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	a := insert(t, s, "")
	a1 := insert(t, s, a, a)
	b := insert(t, s, "")

	require.NoError(t, s.DeleteNodes(ctx, []string{a, a1}))

	_, err := s.Node(ctx, a1)
	assert.Equal(t, hierarchy.KindNodeNotFound, hierarchy.KindOf(err))
	desc, err := s.Descendants(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, desc)

	_, err = s.Node(ctx, b)
	assert.NoError(t, err)
}

func testAssignments(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	key := hierarchy.Key{NodeID: "n1", Entity: "cat", Property: "boss"}

	_, ok, err := s.Assignment(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.InsertAssignment(ctx, hierarchy.Assignment{Key: key, Metadata: hierarchy.Metadata{"since": "2020"}}))

	a, ok, err := s.Assignment(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, a.Key)
	assert.Equal(t, "2020", a.Metadata["since"])

	require.NoError(t, s.DeleteAssignment(ctx, key))
	_, ok, err = s.Assignment(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testFindAssignments(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	for _, k := range []hierarchy.Key{
		{NodeID: "n1", Entity: "cat", Property: "boss"},
		{NodeID: "n1", Entity: "cat", Property: "minion"},
		{NodeID: "n1", Entity: "dog", Property: "boss"},
		{NodeID: "n2", Entity: "cat", Property: "boss"},
	} {
		require.NoError(t, s.InsertAssignment(ctx, hierarchy.Assignment{Key: k}))
	}

	all, err := s.FindAssignments(ctx, hierarchy.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byEntity, err := s.FindAssignments(ctx, hierarchy.Query{NodeID: "n1", Entity: "cat"})
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)

	byProperty, err := s.FindAssignments(ctx, hierarchy.Query{NodeID: "n1", Property: "boss"})
	require.NoError(t, err)
	assert.Len(t, byProperty, 2)

	pair, err := s.FindAssignments(ctx, hierarchy.Query{Entity: "cat", Property: "boss"})
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.Equal(t, "n1", pair[0].NodeID)
	assert.Equal(t, "n2", pair[1].NodeID)
}

func testDeleteAssignmentsAt(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	for _, n := range []string{"n1", "n2", "n3"} {
		require.NoError(t, s.InsertAssignment(ctx, hierarchy.Assignment{Key: hierarchy.Key{NodeID: n, Entity: "cat", Property: "boss"}}))
	}

	require.NoError(t, s.DeleteAssignmentsAt(ctx, []string{"n1", "n3"}))

	left, err := s.FindAssignments(ctx, hierarchy.Query{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "n2", left[0].NodeID)
}

func testEntries(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	key := hierarchy.Key{NodeID: "n1", Entity: "cat", Property: "boss"}

	_, ok, err := s.Entry(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertEntry(ctx, hierarchy.Entry{
		Key:       key,
		Distance:  2,
		Metadata:  hierarchy.Metadata{"since": "2020"},
		Ancestors: []string{"p", "r"},
	}))

	e, ok, err := s.Entry(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, e.Distance)
	assert.Equal(t, "2020", e.Metadata["since"])
	assert.Equal(t, []string{"p", "r"}, e.Ancestors)

	require.NoError(t, s.DeleteEntry(ctx, key))
	_, ok, err = s.Entry(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUpsertOverwrites(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	key := hierarchy.Key{NodeID: "n1", Entity: "cat", Property: "boss"}

	require.NoError(t, s.UpsertEntry(ctx, hierarchy.Entry{Key: key, Distance: 3}))
	require.NoError(t, s.UpsertEntry(ctx, hierarchy.Entry{Key: key, Distance: 0, Metadata: hierarchy.Metadata{"k": "v"}}))

	entries, err := s.FindEntries(ctx, hierarchy.Query{NodeID: "n1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Distance)
	assert.Equal(t, "v", entries[0].Metadata["k"])
}

func testFindEntries(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	for i, k := range []hierarchy.Key{
		{NodeID: "n1", Entity: "cat", Property: "boss"},
		{NodeID: "n1", Entity: "dog", Property: "boss"},
		{NodeID: "n2", Entity: "cat", Property: "minion"},
	} {
		require.NoError(t, s.UpsertEntry(ctx, hierarchy.Entry{Key: k, Distance: i}))
	}

	atN1, err := s.FindEntries(ctx, hierarchy.Query{NodeID: "n1"})
	require.NoError(t, err)
	assert.Len(t, atN1, 2)

	cats, err := s.FindEntries(ctx, hierarchy.Query{Entity: "cat"})
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	bosses, err := s.FindEntries(ctx, hierarchy.Query{NodeID: "n1", Property: "boss"})
	require.NoError(t, err)
	require.Len(t, bosses, 2)
	assert.Equal(t, "cat", bosses[0].Entity)
	assert.Equal(t, "dog", bosses[1].Entity)
}

func testDeleteEntriesAt(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	for _, n := range []string{"n1", "n2"} {
		for _, p := range []string{"boss", "minion"} {
			require.NoError(t, s.UpsertEntry(ctx, hierarchy.Entry{Key: hierarchy.Key{NodeID: n, Entity: "cat", Property: p}}))
		}
	}

	require.NoError(t, s.DeleteEntriesAt(ctx, []string{"n1"}))

	left, err := s.FindEntries(ctx, hierarchy.Query{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, e := range left {
		assert.Equal(t, "n2", e.NodeID)
	}
}

// testSeparatorBytesInNames stores keys whose names differ only in where a
// NUL or \x01 byte falls; each must stay a distinct record.
func testSeparatorBytesInNames(t *testing.T, s hierarchy.Store) {
	ctx := context.Background()
	keys := []hierarchy.Key{
		{NodeID: "n1", Entity: "a\x00b", Property: "c"},
		{NodeID: "n1", Entity: "a", Property: "b\x00c"},
		{NodeID: "n1", Entity: "a\x01", Property: "c"},
		{NodeID: "n1", Entity: "a", Property: "\x01c"},
	}
	for i, k := range keys {
		require.NoError(t, s.InsertAssignment(ctx, hierarchy.Assignment{Key: k}))
		require.NoError(t, s.UpsertEntry(ctx, hierarchy.Entry{Key: k, Distance: i}))
	}

	for i, k := range keys {
		a, ok, err := s.Assignment(ctx, k)
		require.NoError(t, err)
		require.True(t, ok, "assignment %q/%q", k.Entity, k.Property)
		assert.Equal(t, k, a.Key)

		e, ok, err := s.Entry(ctx, k)
		require.NoError(t, err)
		require.True(t, ok, "entry %q/%q", k.Entity, k.Property)
		assert.Equal(t, i, e.Distance)
	}

	ofA, err := s.FindAssignments(ctx, hierarchy.Query{NodeID: "n1", Entity: "a"})
	require.NoError(t, err)
	assert.Len(t, ofA, 2)

	pair, err := s.FindAssignments(ctx, hierarchy.Query{Entity: "a\x00b", Property: "c"})
	require.NoError(t, err)
	require.Len(t, pair, 1)
	assert.Equal(t, keys[0], pair[0].Key)

	entriesOfA, err := s.FindEntries(ctx, hierarchy.Query{NodeID: "n1", Entity: "a"})
	require.NoError(t, err)
	assert.Len(t, entriesOfA, 2)

	require.NoError(t, s.DeleteAssignmentsAt(ctx, []string{"n1"}))
	require.NoError(t, s.DeleteEntriesAt(ctx, []string{"n1"}))
	left, err := s.FindAssignments(ctx, hierarchy.Query{})
	require.NoError(t, err)
	assert.Empty(t, left)
	entries, err := s.FindEntries(ctx, hierarchy.Query{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
