package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/hierprops/internal/hierarchy"
	"github.com/lthms/hierprops/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) hierarchy.Store { return New() })
}

func TestInsertNode_NoID(t *testing.T) {
	s := New()
	s.NewID = func() string { return "" }

	_, err := s.InsertNode(context.Background(), "", nil)
	require.Error(t, err)
}

func TestInsertNode_DuplicateID(t *testing.T) {
	s := New()
	s.NewID = func() string { return "same" }

	_, err := s.InsertNode(context.Background(), "", nil)
	require.NoError(t, err)
	_, err = s.InsertNode(context.Background(), "", nil)
	require.Error(t, err)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	root, err := s.InsertNode(ctx, "", nil)
	require.NoError(t, err)
	child, err := s.InsertNode(ctx, root, []string{root})
	require.NoError(t, err)

	n, err := s.Node(ctx, child)
	require.NoError(t, err)
	n.Ancestors[0] = "mutated"

	again, err := s.Node(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, []string{root}, again.Ancestors)
}

func TestIDSet(t *testing.T) {
	set := idSet([]string{"n1", "n2", "n1"})
	assert.Len(t, set, 2)
	_, ok := set["n2"]
	assert.True(t, ok)
	_, ok = set["n3"]
	assert.False(t, ok)
}
