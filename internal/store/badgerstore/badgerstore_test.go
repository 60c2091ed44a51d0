package badgerstore

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/hierprops/internal/hierarchy"
	"github.com/lthms/hierprops/internal/store/storetest"
)

func openInMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) hierarchy.Store { return openInMemory(t) })
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	ctx := context.Background()

	s1, err := Open(Config{Path: dir, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	root, err := s1.InsertNode(ctx, "", nil)
	require.NoError(t, err)
	key := hierarchy.Key{NodeID: root, Entity: "cat", Property: "boss"}
	require.NoError(t, s1.InsertAssignment(ctx, hierarchy.Assignment{Key: key}))
	require.NoError(t, s1.Close())

	s2, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Node(ctx, root)
	require.NoError(t, err)
	assert.True(t, n.IsRoot())
	_, ok, err := s2.Assignment(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetParentAndAncestors_MovesIndexes(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	defer s.Close()

	a, err := s.InsertNode(ctx, "", nil)
	require.NoError(t, err)
	b, err := s.InsertNode(ctx, "", nil)
	require.NoError(t, err)
	c, err := s.InsertNode(ctx, a, []string{a})
	require.NoError(t, err)

	require.NoError(t, s.SetParentAndAncestors(ctx, c, b, []string{b}))

	kids, err := s.Children(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, kids)
	desc, err := s.Descendants(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, desc)

	kids, err = s.Children(ctx, b)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, c, kids[0].ID)
}

func TestFindAssignments_ByPairUsesIndex(t *testing.T) {
	ctx := context.Background()
	s := openInMemory(t)
	defer s.Close()

	for _, k := range []hierarchy.Key{
		{NodeID: "n2", Entity: "cat", Property: "boss"},
		{NodeID: "n1", Entity: "cat", Property: "boss"},
		{NodeID: "n1", Entity: "dog", Property: "boss"},
	} {
		require.NoError(t, s.InsertAssignment(ctx, hierarchy.Assignment{Key: k}))
	}

	got, err := s.FindAssignments(ctx, hierarchy.Query{Entity: "cat", Property: "boss"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "n1", got[0].NodeID)
	assert.Equal(t, "n2", got[1].NodeID)

	require.NoError(t, s.DeleteAssignmentsAt(ctx, []string{"n1"}))
	got, err = s.FindAssignments(ctx, hierarchy.Query{Entity: "cat", Property: "boss"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n2", got[0].NodeID)
}

func TestRecordPrefix(t *testing.T) {
	assert.Equal(t, "asg/", string(recordPrefix("asg/", hierarchy.Query{})))
	assert.Equal(t, "ent/n1\x00", string(recordPrefix("ent/", hierarchy.Query{NodeID: "n1"})))
	assert.Equal(t, "ent/n1\x00cat\x00", string(recordPrefix("ent/", hierarchy.Query{NodeID: "n1", Entity: "cat"})))
}

func TestKeyPart_EscapesSeparator(t *testing.T) {
	for _, s := range []string{"", "cat", "a\x00b", "\x01", "\x01\x01\x00", "x\x01\x02y"} {
		escaped := keyPart(s)
		assert.NotContains(t, escaped, "\x00")
		assert.Equal(t, s, unKeyPart(escaped))
	}
	assert.NotEqual(t,
		string(assignmentKey(hierarchy.Key{NodeID: "n1", Entity: "a\x00b", Property: "c"})),
		string(assignmentKey(hierarchy.Key{NodeID: "n1", Entity: "a", Property: "b\x00c"})))
}

func TestDeleteEntriesAt_BeyondOneTransaction(t *testing.T) {
	if testing.Short() {
		t.Skip("bulk badger delete skipped in short mode")
	}
	ctx := context.Background()
	s := openInMemory(t)
	defer s.Close()

	const n = 150000
	var nodes []string
	for i := 0; i < n; i++ {
		node := fmt.Sprintf("n%d", i%3000)
		if i < 3000 {
			nodes = append(nodes, node)
		}
		key := hierarchy.Key{NodeID: node, Entity: "cat", Property: fmt.Sprintf("p%d", i/3000)}
		require.NoError(t, s.UpsertEntry(ctx, hierarchy.Entry{Key: key, Distance: 1}))
		if i%1000 == 0 {
			require.NoError(t, s.InsertAssignment(ctx, hierarchy.Assignment{Key: key}))
		}
	}

	require.NoError(t, s.DeleteEntriesAt(ctx, nodes))
	require.NoError(t, s.DeleteAssignmentsAt(ctx, nodes))

	left, err := s.FindEntries(ctx, hierarchy.Query{})
	require.NoError(t, err)
	assert.Empty(t, left)
	assignments, err := s.FindAssignments(ctx, hierarchy.Query{})
	require.NoError(t, err)
	assert.Empty(t, assignments)
}
