package engine

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lthms/hierprops/internal/hierarchy"
	"github.com/lthms/hierprops/internal/store/badgerstore"
	"github.com/lthms/hierprops/internal/store/memstore"
	"github.com/lthms/hierprops/internal/store/sqlitestore"
)

var (
	randomEntities   = []string{"cat", "dog", "owl"}
	randomProperties = []string{"boss", "owner"}
)

// isPrecondition reports whether err is a rejected call that must leave the
// forest untouched.
func isPrecondition(err error) bool {
	switch hierarchy.KindOf(err) {
	case hierarchy.KindAssignmentExists, hierarchy.KindAssignmentNotFound,
		hierarchy.KindSelfAttach, hierarchy.KindAlreadyAttached, hierarchy.KindInvalidTarget:
		return true
	}
	return false
}

func liveNodes(t *testing.T, e *Engine) []*hierarchy.Node {
	t.Helper()
	ctx := context.Background()
	roots, err := e.Roots(ctx)
	require.NoError(t, err)
	nodes := append([]*hierarchy.Node{}, roots...)
	for _, r := range roots {
		desc, err := e.Descendants(ctx, r.ID)
		require.NoError(t, err)
		nodes = append(nodes, desc...)
	}
	return nodes
}

// runRandomMutations applies a seeded sequence of mutations and checks the
// index against Verify after every step.
func runRandomMutations(t *testing.T, s hierarchy.Store, steps int) {
	ctx := context.Background()
	e := New(s, WithLogger(quietLogger()), WithName("random"))
	rng := rand.New(rand.NewPCG(7, 11))

	pick := func(nodes []*hierarchy.Node) *hierarchy.Node { return nodes[rng.IntN(len(nodes))] }

	for step := 0; step < steps; step++ {
		nodes := liveNodes(t, e)
		var err error
		op := rng.IntN(12)
		if len(nodes) == 0 {
			op = 0
		}
		entity := randomEntities[rng.IntN(len(randomEntities))]
		property := randomProperties[rng.IntN(len(randomProperties))]

		switch op {
		case 0:
			_, err = e.CreateHierarchyItem(ctx)
		case 1, 2, 3:
			_, err = e.CreateChild(ctx, pick(nodes).ID)
		case 4, 5:
			n := pick(nodes)
			err = e.AddPropertyForEntity(ctx, n.ID, entity, property, hierarchy.Metadata{"at": n.ID})
		case 6:
			err = e.RemovePropertyForEntity(ctx, pick(nodes).ID, entity, property)
		case 7:
			err = e.RemoveNode(ctx, pick(nodes).ID)
		case 8:
			if rng.IntN(3) == 0 {
				err = e.RemoveSubTree(ctx, pick(nodes).ID)
			}
		case 9:
			err = e.Detach(ctx, pick(nodes).ID, true)
		case 10:
			err = e.AttachTo(ctx, pick(nodes).ID, pick(nodes).ID)
		case 11:
			err = e.MoveTo(ctx, pick(nodes).ID, pick(nodes).ID)
		}
		if err != nil && !isPrecondition(err) {
			t.Fatalf("step %d op %d: %v", step, op, err)
		}

		problems, err := e.Verify(ctx)
		require.NoError(t, err)
		require.Empty(t, problems, "step %d op %d", step, op)
	}
}

func TestRandomMutations_Memory(t *testing.T) {
	runRandomMutations(t, memstore.New(), 400)
}

func TestRandomMutations_SQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("sqlite random run skipped in short mode")
	}
	s, err := sqlitestore.Open(sqlitestore.Config{DBPath: filepath.Join(t.TempDir(), "forest.db")})
	require.NoError(t, err)
	defer s.Close()
	runRandomMutations(t, s, 150)
}

func TestRandomMutations_Badger(t *testing.T) {
	if testing.Short() {
		t.Skip("badger random run skipped in short mode")
	}
	s, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer s.Close()
	runRandomMutations(t, s, 150)
}
