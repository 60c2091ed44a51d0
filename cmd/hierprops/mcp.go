package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/lthms/hierprops/internal/engine"
	"github.com/lthms/hierprops/internal/hierarchy"
)

// MCPCmd runs the MCP server on stdio.
type MCPCmd struct{}

func (cmd *MCPCmd) Run(app *App) error {
	return runMCPServer(context.Background(), app.Engine)
}

type nodeArgs struct {
	Node string `json:"node" jsonschema:"Id of the node"`
}

type moveArgs struct {
	Node   string `json:"node" jsonschema:"Id of the node to move"`
	Target string `json:"target" jsonschema:"Id of the new parent"`
}

type assignArgs struct {
	Node     string            `json:"node" jsonschema:"Id of the node holding the assignment"`
	Entity   string            `json:"entity" jsonschema:"Entity name"`
	Property string            `json:"property" jsonschema:"Property name"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"Optional metadata copied into derived entries"`
}

type entityArgs struct {
	Node   string `json:"node" jsonschema:"Id of the node"`
	Entity string `json:"entity" jsonschema:"Entity name"`
}

type forestArgs struct {
	Node string `json:"node,omitempty" jsonschema:"Optional id of a subtree root; the whole forest when empty"`
}

// mcpTools serves one forest's operations as MCP tools.
type mcpTools struct {
	engine *engine.Engine
}

func newMCPServer(e *engine.Engine) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "hierprops",
		Version: "1.0.0",
	}, nil)
	t := &mcpTools{engine: e}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "hierarchy_create_root",
		Description: "Create a new root node. Returns its id.",
	}, t.createRoot)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hierarchy_create_child",
		Description: "Create a child under a node. The child inherits every property visible at the parent. Returns its id.",
	}, t.createChild)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hierarchy_move",
		Description: "Move a node (with its subtree) under a new parent and recompute inherited properties.",
	}, t.move)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "property_assign",
		Description: "Assign a property to an entity at a node. Descendants inherit it unless they assign it themselves.",
	}, t.assign)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "property_unassign",
		Description: "Remove a property assignment from a node. Descendants fall back to the nearest ancestor's definition.",
	}, t.unassign)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "properties_for_entity",
		Description: "List the properties an entity has at a node, as property: distance to the nearest defining node (0 = assigned here).",
	}, t.propertiesForEntity)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "hierarchy_forest",
		Description: "Dump the forest, or one subtree, as YAML with assignments and materialized properties per node.",
	}, t.forest)
	return server
}

func runMCPServer(ctx context.Context, e *engine.Engine) error {
	slog.Debug("starting MCP server", "forest", e.Name())
	return newMCPServer(e).Run(ctx, &mcp.StdioTransport{})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// toolError reports a failed operation with its kind so the caller can tell
// a rejected request from a broken store.
func toolError(op string, err error) error {
	return fmt.Errorf("%s failed (%s): %w", op, hierarchy.KindOf(err), err)
}

func (t *mcpTools) createRoot(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	n, err := t.engine.CreateHierarchyItem(ctx)
	if err != nil {
		return nil, nil, toolError("create root", err)
	}
	return textResult(n.ID), nil, nil
}

func (t *mcpTools) createChild(ctx context.Context, req *mcp.CallToolRequest, args nodeArgs) (*mcp.CallToolResult, any, error) {
	slog.Debug("hierarchy_create_child called", "node", args.Node)
	n, err := t.engine.CreateChild(ctx, args.Node)
	if err != nil {
		return nil, nil, toolError("create child", err)
	}
	return textResult(n.ID), nil, nil
}

func (t *mcpTools) move(ctx context.Context, req *mcp.CallToolRequest, args moveArgs) (*mcp.CallToolResult, any, error) {
	slog.Debug("hierarchy_move called", "node", args.Node, "target", args.Target)
	if err := t.engine.MoveTo(ctx, args.Node, args.Target); err != nil {
		return nil, nil, toolError("move", err)
	}
	return textResult(fmt.Sprintf("moved %s under %s", args.Node, args.Target)), nil, nil
}

func (t *mcpTools) assign(ctx context.Context, req *mcp.CallToolRequest, args assignArgs) (*mcp.CallToolResult, any, error) {
	slog.Debug("property_assign called", "node", args.Node, "entity", args.Entity, "property", args.Property)
	if err := t.engine.AddPropertyForEntity(ctx, args.Node, args.Entity, args.Property, hierarchy.Metadata(args.Metadata)); err != nil {
		return nil, nil, toolError("assign", err)
	}
	return textResult(fmt.Sprintf("assigned %s.%s at %s", args.Entity, args.Property, args.Node)), nil, nil
}

func (t *mcpTools) unassign(ctx context.Context, req *mcp.CallToolRequest, args assignArgs) (*mcp.CallToolResult, any, error) {
	slog.Debug("property_unassign called", "node", args.Node, "entity", args.Entity, "property", args.Property)
	if err := t.engine.RemovePropertyForEntity(ctx, args.Node, args.Entity, args.Property); err != nil {
		return nil, nil, toolError("unassign", err)
	}
	return textResult(fmt.Sprintf("unassigned %s.%s at %s", args.Entity, args.Property, args.Node)), nil, nil
}

func (t *mcpTools) propertiesForEntity(ctx context.Context, req *mcp.CallToolRequest, args entityArgs) (*mcp.CallToolResult, any, error) {
	props, err := t.engine.GetPropertiesForEntity(ctx, args.Node, args.Entity)
	if err != nil {
		return nil, nil, toolError("properties for entity", err)
	}
	if len(props) == 0 {
		return textResult(fmt.Sprintf("%s has no properties at %s", args.Entity, args.Node)), nil, nil
	}
	out, err := yaml.Marshal(props)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal properties: %w", err)
	}
	return textResult(strings.TrimSpace(string(out))), nil, nil
}

func (t *mcpTools) forest(ctx context.Context, req *mcp.CallToolRequest, args forestArgs) (*mcp.CallToolResult, any, error) {
	var v any
	if args.Node != "" {
		tree, err := t.engine.Tree(ctx, args.Node)
		if err != nil {
			return nil, nil, toolError("forest", err)
		}
		v = tree
	} else {
		forest, err := t.engine.Forest(ctx)
		if err != nil {
			return nil, nil, toolError("forest", err)
		}
		v = forest
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal forest: %w", err)
	}
	return textResult(string(out)), nil, nil
}
