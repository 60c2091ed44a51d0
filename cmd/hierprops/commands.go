package main

import (
	"context"
	"fmt"

	"github.com/lthms/hierprops/internal/engine"
	"github.com/lthms/hierprops/internal/hierarchy"
)

// RootCmd creates a parentless node and prints its id.
type RootCmd struct{}

func (cmd *RootCmd) Run(app *App) error {
	n, err := app.Engine.CreateHierarchyItem(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, n.ID)
	return nil
}

// ChildCmd creates a child node and prints its id.
type ChildCmd struct {
	Parent string `arg:"" help:"Parent node id."`
}

func (cmd *ChildCmd) Run(app *App) error {
	n, err := app.Engine.CreateChild(context.Background(), cmd.Parent)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, n.ID)
	return nil
}

// RemoveCmd removes a node, or its whole subtree with --subtree.
type RemoveCmd struct {
	ID      string `arg:"" help:"Node id."`
	Subtree bool   `help:"Remove every descendant as well instead of promoting children."`
}

func (cmd *RemoveCmd) Run(app *App) error {
	if cmd.Subtree {
		return app.Engine.RemoveSubTree(context.Background(), cmd.ID)
	}
	return app.Engine.RemoveNode(context.Background(), cmd.ID)
}

// DetachCmd turns a node into a root.
type DetachCmd struct {
	ID           string `arg:"" help:"Node id."`
	NoRegenerate bool   `help:"Leave entries stale; only useful before a manual attach."`
}

func (cmd *DetachCmd) Run(app *App) error {
	return app.Engine.Detach(context.Background(), cmd.ID, !cmd.NoRegenerate)
}

// AttachCmd attaches a detached node under a target.
type AttachCmd struct {
	ID     string `arg:"" help:"Detached node id."`
	Target string `arg:"" help:"New parent id."`
}

func (cmd *AttachCmd) Run(app *App) error {
	return app.Engine.AttachTo(context.Background(), cmd.ID, cmd.Target)
}

// MoveCmd moves a node under a target.
type MoveCmd struct {
	ID     string `arg:"" help:"Node id."`
	Target string `arg:"" help:"New parent id."`
}

func (cmd *MoveCmd) Run(app *App) error {
	return app.Engine.MoveTo(context.Background(), cmd.ID, cmd.Target)
}

// AssignCmd assigns a property to an entity at a node.
type AssignCmd struct {
	ID       string            `arg:"" help:"Node id."`
	Entity   string            `arg:"" help:"Entity name."`
	Property string            `arg:"" help:"Property."`
	Meta     map[string]string `help:"Metadata copied into every derived entry (key=value)."`
}

func (cmd *AssignCmd) Run(app *App) error {
	return app.Engine.AddPropertyForEntity(context.Background(), cmd.ID, cmd.Entity, cmd.Property, hierarchy.Metadata(cmd.Meta))
}

// UnassignCmd removes a property assignment.
type UnassignCmd struct {
	ID       string `arg:"" help:"Node id."`
	Entity   string `arg:"" help:"Entity name."`
	Property string `arg:"" help:"Property."`
}

func (cmd *UnassignCmd) Run(app *App) error {
	return app.Engine.RemovePropertyForEntity(context.Background(), cmd.ID, cmd.Entity, cmd.Property)
}

// PropsCmd lists the properties of an entity at a node.
type PropsCmd struct {
	ID     string `arg:"" help:"Node id."`
	Entity string `arg:"" help:"Entity name."`
	Own    bool   `help:"Only assignments stated at the node itself."`
	Format string `enum:"auto,yaml,json" default:"auto" help:"Output format (auto, yaml, json)."`
}

func (cmd *PropsCmd) Run(app *App) error {
	ctx := context.Background()
	if cmd.Own {
		props, err := app.Engine.OwnPropertiesForEntity(ctx, cmd.ID, cmd.Entity)
		if err != nil {
			return err
		}
		return printValue(app.Out, cmd.Format, props)
	}
	props, err := app.Engine.GetPropertiesForEntity(ctx, cmd.ID, cmd.Entity)
	if err != nil {
		return err
	}
	return printValue(app.Out, cmd.Format, props)
}

// EntitiesCmd lists the entities holding a property at a node.
type EntitiesCmd struct {
	ID       string `arg:"" help:"Node id."`
	Property string `arg:"" help:"Property."`
	Own      bool   `help:"Only assignments stated at the node itself."`
	Format   string `enum:"auto,yaml,json" default:"auto" help:"Output format (auto, yaml, json)."`
}

func (cmd *EntitiesCmd) Run(app *App) error {
	ctx := context.Background()
	if cmd.Own {
		ents, err := app.Engine.OwnEntitiesWithProperty(ctx, cmd.ID, cmd.Property)
		if err != nil {
			return err
		}
		return printValue(app.Out, cmd.Format, ents)
	}
	ents, err := app.Engine.GetEntitiesWithProperty(ctx, cmd.ID, cmd.Property)
	if err != nil {
		return err
	}
	return printValue(app.Out, cmd.Format, ents)
}

// NodeCmd shows one node. With --tree the whole subtree is printed.
type NodeCmd struct {
	ID     string `arg:"" help:"Node id."`
	Tree   bool   `help:"Print the subtree rooted at the node."`
	Root   bool   `help:"Print the root of the node's tree instead."`
	Format string `enum:"auto,yaml,json,tree" default:"auto" help:"Output format (auto, yaml, json, tree)."`
}

type nodeView struct {
	hierarchy.Node `yaml:",inline"`
	Assignments    []hierarchy.Assignment `json:"assignments" yaml:"assignments"`
	Materialized   []hierarchy.Entry      `json:"materialized" yaml:"materialized"`
}

func (cmd *NodeCmd) Run(app *App) error {
	ctx := context.Background()
	switch {
	case cmd.Root:
		n, err := app.Engine.GetRoot(ctx, cmd.ID)
		if err != nil {
			return err
		}
		return printValue(app.Out, cmd.Format, n)
	case cmd.Tree:
		t, err := app.Engine.Tree(ctx, cmd.ID)
		if err != nil {
			return err
		}
		return printValue(app.Out, cmd.Format, t)
	}

	n, err := app.Engine.Node(ctx, cmd.ID)
	if err != nil {
		return err
	}
	as, err := app.Engine.Assignments(ctx, cmd.ID)
	if err != nil {
		return err
	}
	es, err := app.Engine.Materialized(ctx, cmd.ID)
	if err != nil {
		return err
	}
	return printValue(app.Out, cmd.Format, nodeView{Node: *n, Assignments: as, Materialized: es})
}

// ForestCmd prints every tree.
type ForestCmd struct {
	Format string `enum:"auto,yaml,json,tree" default:"auto" help:"Output format (auto, yaml, json, tree)."`
}

func (cmd *ForestCmd) Run(app *App) error {
	forest, err := app.Engine.Forest(context.Background())
	if err != nil {
		return err
	}
	if forest == nil {
		forest = []*engine.TreeNode{}
	}
	return printValue(app.Out, cmd.Format, forest)
}

// RepairCmd clears and regenerates the entries under a node, or under every
// root when no id is given.
type RepairCmd struct {
	ID string `arg:"" optional:"" help:"Node id (default: every root)."`
}

func (cmd *RepairCmd) Run(app *App) error {
	ctx := context.Background()
	if cmd.ID != "" {
		return app.Engine.Repair(ctx, cmd.ID)
	}
	roots, err := app.Engine.Roots(ctx)
	if err != nil {
		return err
	}
	for _, r := range roots {
		if err := app.Engine.Repair(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

// VerifyCmd reports every inconsistency and fails if there is any.
type VerifyCmd struct{}

func (cmd *VerifyCmd) Run(app *App) error {
	problems, err := app.Engine.Verify(context.Background())
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintln(app.Out, p.String())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d inconsistencies found; run `hierprops repair` to rebuild", len(problems))
	}
	fmt.Fprintln(app.Out, "ok")
	return nil
}
