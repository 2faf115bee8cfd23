package daemon

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/probelsp/internal/config"
	"github.com/standardbeagle/probelsp/internal/rpc"
	"github.com/standardbeagle/probelsp/internal/types"
)

func newTestDaemon(t *testing.T, root string) *Daemon {
	t.Helper()
	cfg := config.Default(root)
	cfg.Router.ForceMemoryOnly = true
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestProcessItemReturnsErrorWhenLanguageUnconfigured(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())
	defer d.router.CloseAll()

	_, err := d.processItem(context.Background(), types.QueueItem{
		FilePath: "/repo/main.go",
		Language: "go",
	})
	assert.Error(t, err)
}

func TestEnsureProjectIsMemoizedPerRoot(t *testing.T) {
	root := t.TempDir()
	d := newTestDaemon(t, root)
	defer d.router.CloseAll()

	require.NoError(t, d.ensureProject(context.Background(), root))
	_, known := d.projectID[root]
	assert.True(t, known)
	firstID := d.projectID[root]

	require.NoError(t, d.ensureProject(context.Background(), root))
	assert.Equal(t, firstID, d.projectID[root])
}

func dispatch(t *testing.T, d *Daemon, method string, params any) map[string]any {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	req := rpc.Request{JSONRPC: "2.0", ID: "1", Method: method, Params: raw}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	respBody := d.rpcRouter.Dispatch(context.Background(), body)

	var resp rpc.Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	return result
}

func TestConnectHandlerReturnsVersionInfo(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())
	defer d.router.CloseAll()

	result := dispatch(t, d, "Connect", map[string]string{"client_id": "test-client"})
	assert.Contains(t, result, "daemon_version")
	assert.Contains(t, result, "git_hash")
	assert.Contains(t, result, "build_date")
}

func TestPingHandlerReturnsPong(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())
	defer d.router.CloseAll()

	result := dispatch(t, d, "Ping", nil)
	assert.Equal(t, "ok", result["pong"])
}

func TestStatusHandlerReportsProgressFields(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())
	defer d.router.CloseAll()

	result := dispatch(t, d, "Status", nil)
	assert.Contains(t, result, "uptime_seconds")
	assert.Contains(t, result, "discovered")
	assert.Contains(t, result, "enrichment_backlog")
	assert.Contains(t, result, "open_store_handles")
}

func TestGetLogsHandlerReturnsRecentEntries(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())
	defer d.router.CloseAll()

	var raw json.RawMessage
	b, err := json.Marshal(map[string]int{"lines": 10})
	require.NoError(t, err)
	raw = b

	req := rpc.Request{JSONRPC: "2.0", ID: "1", Method: "GetLogs", Params: raw}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	respBody := d.rpcRouter.Dispatch(context.Background(), body)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.Nil(t, resp.Error)
}

func TestDispatchReturnsMethodNotFoundForUnregisteredMethod(t *testing.T) {
	d := newTestDaemon(t, t.TempDir())
	defer d.router.CloseAll()

	req := rpc.Request{JSONRPC: "2.0", ID: "1", Method: "Pign"}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	respBody := d.rpcRouter.Dispatch(context.Background(), body)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeMethodNotFound, resp.Error.Code)
}
