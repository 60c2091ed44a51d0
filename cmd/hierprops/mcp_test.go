package main

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestMCPTools(t *testing.T) {
	app, _ := newTestApp(t)
	tools := &mcpTools{engine: app.Engine}
	ctx := context.Background()

	res, _, err := tools.createRoot(ctx, nil, struct{}{})
	require.NoError(t, err)
	root := resultText(t, res)

	res, _, err = tools.createChild(ctx, nil, nodeArgs{Node: root})
	require.NoError(t, err)
	child := resultText(t, res)

	_, _, err = tools.assign(ctx, nil, assignArgs{Node: root, Entity: "cat", Property: "boss"})
	require.NoError(t, err)

	res, _, err = tools.propertiesForEntity(ctx, nil, entityArgs{Node: child, Entity: "cat"})
	require.NoError(t, err)
	assert.Equal(t, "boss: 1", resultText(t, res))

	res, _, err = tools.forest(ctx, nil, forestArgs{})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "id: "+child)

	other, _, err := tools.createRoot(ctx, nil, struct{}{})
	require.NoError(t, err)
	_, _, err = tools.move(ctx, nil, moveArgs{Node: child, Target: resultText(t, other)})
	require.NoError(t, err)

	res, _, err = tools.propertiesForEntity(ctx, nil, entityArgs{Node: child, Entity: "cat"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "no properties")

	_, _, err = tools.unassign(ctx, nil, assignArgs{Node: child, Entity: "cat", Property: "boss"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-property-for-entity-here")
}

func TestNewMCPServer(t *testing.T) {
	app, _ := newTestApp(t)
	assert.NotNil(t, newMCPServer(app.Engine))
}
