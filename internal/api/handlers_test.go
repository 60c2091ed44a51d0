package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lthms/hierprops/internal/engine"
	"github.com/lthms/hierprops/internal/hierarchy"
	"github.com/lthms/hierprops/internal/store/memstore"
)

// setupTestServer serves a fresh in-memory forest.
func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	e := engine.New(memstore.New(), engine.WithLogger(logger), engine.WithName("api-test"))
	ts := httptest.NewServer(New(e, logger).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createRoot(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := do(t, ts, http.MethodPost, "/api/roots", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[hierarchy.Node](t, resp).ID
}

func createChild(t *testing.T, ts *httptest.Server, parent string) string {
	t.Helper()
	resp := do(t, ts, http.MethodPost, "/api/nodes/"+parent+"/children", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[hierarchy.Node](t, resp).ID
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t)
	resp := do(t, ts, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "api-test", body["forest"])
}

func TestAssignAndInherit(t *testing.T) {
	ts := setupTestServer(t)
	a := createRoot(t, ts)
	a1 := createChild(t, ts, a)

	resp := do(t, ts, http.MethodPut, "/api/nodes/"+a+"/assignments",
		AssignRequest{Entity: "cat", Property: "boss", Metadata: hierarchy.Metadata{"note": "x"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/api/nodes/"+a1+"/entities/cat/properties", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"boss": 1}, decodeBody[map[string]int](t, resp))

	resp = do(t, ts, http.MethodGet, "/api/nodes/"+a1+"/properties/boss/entities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"cat": 1}, decodeBody[map[string]int](t, resp))

	resp = do(t, ts, http.MethodGet, "/api/nodes/"+a1+"/entities/cat/properties?own=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]string](t, resp))

	resp = do(t, ts, http.MethodGet, "/api/nodes/"+a1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	node := decodeBody[NodeResponse](t, resp)
	assert.Equal(t, []string{a}, node.Ancestors)
	require.Len(t, node.Materialized, 1)
	assert.Equal(t, hierarchy.Metadata{"note": "x"}, node.Materialized[0].Metadata)

	resp = do(t, ts, http.MethodPut, "/api/nodes/"+a+"/assignments", AssignRequest{Entity: "cat", Property: "boss"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "entity-already-assigned-property-here", decodeBody[ErrorResponse](t, resp).Kind)

	resp = do(t, ts, http.MethodDelete, "/api/nodes/"+a+"/assignments/cat/boss", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, ts, http.MethodDelete, "/api/nodes/"+a+"/assignments/cat/boss", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMoveAndAttachErrors(t *testing.T) {
	ts := setupTestServer(t)
	a := createRoot(t, ts)
	a1 := createChild(t, ts, a)
	b := createRoot(t, ts)

	resp := do(t, ts, http.MethodPost, "/api/nodes/"+a1+"/attach", TargetRequest{Target: b})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/api/nodes/"+b+"/attach", TargetRequest{Target: b})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "cannot-attach-to-self", decodeBody[ErrorResponse](t, resp).Kind)

	resp = do(t, ts, http.MethodPost, "/api/nodes/"+a+"/move", TargetRequest{Target: a1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/api/nodes/"+a1+"/move", TargetRequest{Target: b})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/api/nodes/"+a1+"/root", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, b, decodeBody[hierarchy.Node](t, resp).ID)

	resp = do(t, ts, http.MethodPost, "/api/nodes/"+a1+"/detach", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = do(t, ts, http.MethodPost, "/api/nodes/"+a1+"/attach", TargetRequest{Target: a})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestBadBody(t *testing.T) {
	ts := setupTestServer(t)
	a := createRoot(t, ts)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/nodes/"+a+"/move", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNodeNotFound(t *testing.T) {
	ts := setupTestServer(t)
	resp := do(t, ts, http.MethodGet, "/api/nodes/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "node-not-found", decodeBody[ErrorResponse](t, resp).Kind)
}

func TestRemoveAndForest(t *testing.T) {
	ts := setupTestServer(t)
	a := createRoot(t, ts)
	a1 := createChild(t, ts, a)
	createChild(t, ts, a1)
	a2 := createChild(t, ts, a)

	resp := do(t, ts, http.MethodDelete, "/api/nodes/"+a1+"?subtree=true", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, ts, http.MethodDelete, "/api/nodes/"+a, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/api/forest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	forest := decodeBody[[]engine.TreeNode](t, resp)
	require.Len(t, forest, 1)
	assert.Equal(t, a2, forest[0].ID)
	assert.Empty(t, forest[0].Children)

	resp = do(t, ts, http.MethodGet, "/api/verify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[VerifyResponse](t, resp).Consistent)

	resp = do(t, ts, http.MethodPost, "/api/nodes/"+a2+"/repair", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	createRoot(t, ts)

	resp := do(t, ts, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hierprops_operations_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(hierarchy.KindNodeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(hierarchy.KindAlreadyAttached))
	assert.Equal(t, http.StatusBadRequest, statusFor(hierarchy.KindInvalidTarget))
	assert.Equal(t, http.StatusInternalServerError, statusFor(hierarchy.KindStoreFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(hierarchy.KindInvariantViolation))
}
