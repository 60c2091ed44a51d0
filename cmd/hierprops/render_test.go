package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lthms/hierprops/internal/engine"
)

func sampleForest() []*engine.TreeNode {
	leaf := &engine.TreeNode{ID: "n3", ParentID: "n2", Ancestors: []string{"n2", "n1"},
		Materialized: engine.MaterializedView{ByEntityName: map[string]map[string]int{"cat": {"boss": 2}}}}
	mid := &engine.TreeNode{ID: "n2", ParentID: "n1", Ancestors: []string{"n1"}, Children: []*engine.TreeNode{leaf},
		Materialized: engine.MaterializedView{ByEntityName: map[string]map[string]int{"cat": {"boss": 1}}}}
	sib := &engine.TreeNode{ID: "n4", ParentID: "n1", Ancestors: []string{"n1"}}
	root := &engine.TreeNode{ID: "n1", Ancestors: []string{}, Children: []*engine.TreeNode{mid, sib},
		Assignments:  engine.AssignmentView{ByEntityName: map[string][]string{"cat": {"boss"}}},
		Materialized: engine.MaterializedView{ByEntityName: map[string]map[string]int{"cat": {"boss": 0}}}}
	return []*engine.TreeNode{root, {ID: "n5", Ancestors: []string{}}}
}

func TestWriteTree(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeTree(&out, sampleForest()))
	want := "n1  cat.boss:0*\n" +
		"├── n2  cat.boss:1\n" +
		"│   └── n3  cat.boss:2\n" +
		"└── n4\n" +
		"n5\n"
	assert.Equal(t, want, out.String())
}

func TestPrintValue_YAMLRoundTrip(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printValue(&out, formatAuto, sampleForest()))

	var back []engine.TreeNode
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &back))
	require.Len(t, back, 2)
	assert.Equal(t, "n1", back[0].ID)
	assert.Equal(t, 2, back[0].Children[0].Children[0].Materialized.ByEntityName["cat"]["boss"])
}

func TestPrintValue_JSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printValue(&out, formatJSON, map[string]int{"boss": 1}))
	assert.JSONEq(t, `{"boss": 1}`, out.String())
}

func TestResolveFormat_NonTerminal(t *testing.T) {
	assert.Equal(t, formatYAML, resolveFormat(formatAuto, &bytes.Buffer{}))
	assert.Equal(t, formatTree, resolveFormat(formatTree, &bytes.Buffer{}))
}
