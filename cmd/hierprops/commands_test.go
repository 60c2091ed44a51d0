package main

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/hierprops/internal/config"
	"github.com/lthms/hierprops/internal/engine"
	"github.com/lthms/hierprops/internal/store/memstore"
)

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	e := engine.New(memstore.New(), engine.WithLogger(slog.New(slog.DiscardHandler)), engine.WithName("cli-test"))
	return &App{Config: config.Default(), Engine: e, Out: out, Logs: newRingBuffer(10)}, out
}

// lastLine returns the last printed line and resets the buffer.
func lastLine(out *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	out.Reset()
	return lines[len(lines)-1]
}

func TestCommands_AssignAndList(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, (&RootCmd{}).Run(app))
	root := lastLine(out)
	require.NoError(t, (&ChildCmd{Parent: root}).Run(app))
	child := lastLine(out)

	require.NoError(t, (&AssignCmd{ID: root, Entity: "cat", Property: "boss"}).Run(app))

	require.NoError(t, (&PropsCmd{ID: child, Entity: "cat", Format: formatYAML}).Run(app))
	assert.Equal(t, "boss: 1\n", out.String())
	out.Reset()

	require.NoError(t, (&EntitiesCmd{ID: root, Property: "boss", Own: true, Format: formatJSON}).Run(app))
	assert.JSONEq(t, `["cat"]`, out.String())
	out.Reset()

	require.NoError(t, (&UnassignCmd{ID: root, Entity: "cat", Property: "boss"}).Run(app))
	require.NoError(t, (&PropsCmd{ID: child, Entity: "cat", Format: formatJSON}).Run(app))
	assert.JSONEq(t, `{}`, out.String())
}

func TestCommands_MoveRemoveVerify(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, (&RootCmd{}).Run(app))
	a := lastLine(out)
	require.NoError(t, (&RootCmd{}).Run(app))
	b := lastLine(out)
	require.NoError(t, (&ChildCmd{Parent: a}).Run(app))
	a1 := lastLine(out)

	require.NoError(t, (&MoveCmd{ID: a1, Target: b}).Run(app))
	require.NoError(t, (&NodeCmd{ID: a1, Root: true, Format: formatJSON}).Run(app))
	assert.Contains(t, out.String(), `"id": "`+b+`"`)
	out.Reset()

	require.NoError(t, (&DetachCmd{ID: a1}).Run(app))
	require.NoError(t, (&AttachCmd{ID: a1, Target: a}).Run(app))
	require.NoError(t, (&RemoveCmd{ID: a, Subtree: true}).Run(app))

	require.NoError(t, (&RepairCmd{}).Run(app))
	require.NoError(t, (&VerifyCmd{}).Run(app))
	assert.Equal(t, "ok", lastLine(out))

	require.NoError(t, (&ForestCmd{Format: formatTree}).Run(app))
	assert.Equal(t, b, lastLine(out))
}

func TestCommands_Errors(t *testing.T) {
	app, out := newTestApp(t)

	require.NoError(t, (&RootCmd{}).Run(app))
	a := lastLine(out)

	err := (&AttachCmd{ID: a, Target: a}).Run(app)
	require.Error(t, err)
	err = (&ChildCmd{Parent: "ghost"}).Run(app)
	require.Error(t, err)
	err = (&UnassignCmd{ID: a, Entity: "cat", Property: "boss"}).Run(app)
	require.Error(t, err)
}

func TestRoutes_DebugLogs(t *testing.T) {
	app, _ := newTestApp(t)
	app.Logs.Write("first line")
	app.Logs.Write("second line")

	ts := httptest.NewServer(app.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := &bytes.Buffer{}
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line\n", buf.String())

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
