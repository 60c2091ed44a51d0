package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/lthms/hierprops/internal/engine"
)

// Output formats accepted by --format.
const (
	formatAuto = "auto"
	formatYAML = "yaml"
	formatJSON = "json"
	formatTree = "tree"
)

// resolveFormat turns "auto" into tree text on a terminal and YAML otherwise.
func resolveFormat(format string, w io.Writer) string {
	if format != formatAuto {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return formatTree
	}
	return formatYAML
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// printValue writes v in the given format. Tree text falls back to YAML for
// values that are not a forest.
func printValue(w io.Writer, format string, v any) error {
	switch resolveFormat(format, w) {
	case formatJSON:
		return printJSON(w, v)
	case formatTree:
		if forest, ok := v.([]*engine.TreeNode); ok {
			return writeTree(w, forest)
		}
		if t, ok := v.(*engine.TreeNode); ok {
			return writeTree(w, []*engine.TreeNode{t})
		}
	}
	return printYAML(w, v)
}

// writeTree draws the forest as an indented tree. Each node lists its
// visible keys as entity.property:distance, own assignments starred.
func writeTree(w io.Writer, forest []*engine.TreeNode) error {
	var sb strings.Builder
	type item struct {
		node   *engine.TreeNode
		indent string
		last   bool
		top    bool
	}
	stack := make([]item, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, item{node: forest[i], top: true})
	}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		childIndent := it.indent
		if !it.top {
			branch := "├── "
			childIndent += "│   "
			if it.last {
				branch = "└── "
				childIndent = it.indent + "    "
			}
			sb.WriteString(it.indent + branch)
		}
		sb.WriteString(it.node.ID)
		if keys := treeKeys(it.node); keys != "" {
			sb.WriteString("  " + keys)
		}
		sb.WriteString("\n")

		children := it.node.Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: children[i], indent: childIndent, last: i == len(children)-1})
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func treeKeys(n *engine.TreeNode) string {
	var keys []string
	for entity, props := range n.Materialized.ByEntityName {
		for property, d := range props {
			k := fmt.Sprintf("%s.%s:%d", entity, property, d)
			if d == 0 {
				k += "*"
			}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return strings.Join(keys, " ")
}
