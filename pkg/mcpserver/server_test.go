package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	listServers   map[string]any
	listToolsResp map[string]any
	listToolsErr  error
	schemaResp    map[string]any
	schemaErr     error
	callResp      map[string]any
	callErr       error
	getResultResp map[string]any
	getResultErr  error
	listResults   map[string]any
	healthResp    map[string]any
	stats         map[string]any
}

func (f *fakeDispatcher) ListServers() map[string]any { return f.listServers }

func (f *fakeDispatcher) ListMCPTools(context.Context, map[string]any) (map[string]any, error) {
	return f.listToolsResp, f.listToolsErr
}

func (f *fakeDispatcher) GetToolSchema(context.Context, map[string]any) (map[string]any, error) {
	return f.schemaResp, f.schemaErr
}

func (f *fakeDispatcher) CallMCPTool(context.Context, map[string]any) (map[string]any, error) {
	return f.callResp, f.callErr
}

func (f *fakeDispatcher) GetResult(map[string]any) (map[string]any, error) {
	return f.getResultResp, f.getResultErr
}

func (f *fakeDispatcher) ListResults() map[string]any { return f.listResults }

func (f *fakeDispatcher) CheckServerHealth(context.Context, map[string]any) map[string]any {
	return f.healthResp
}

func (f *fakeDispatcher) GetBridgeStats() map[string]any { return f.stats }

func (f *fakeDispatcher) ErrorResponse(err error, elapsedMs *int64) map[string]any {
	return map[string]any{"error": err.Error(), "hint": "test hint"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connectAdapter(t *testing.T, a *Adapter) *mcpsdk.ClientSession {
	t.Helper()
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.server.Run(ctx, serverTransport) }()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	return session
}

func callAndDecode(t *testing.T, session *mcpsdk.ClientSession, tool string, args map[string]any) (map[string]any, bool) {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &decoded))
	return decoded, result.IsError
}

func TestAdapter_ListServers(t *testing.T) {
	d := &fakeDispatcher{listServers: map[string]any{"servers": []any{}, "count": float64(0)}}
	a := New(d, testLogger())
	session := connectAdapter(t, a)

	resp, isErr := callAndDecode(t, session, "list_servers", nil)
	assert.False(t, isErr)
	assert.Equal(t, float64(0), resp["count"])
}

func TestAdapter_ListMCPTools_Success(t *testing.T) {
	d := &fakeDispatcher{listToolsResp: map[string]any{"server": "srv", "count": float64(1)}}
	a := New(d, testLogger())
	session := connectAdapter(t, a)

	resp, isErr := callAndDecode(t, session, "list_mcp_tools", map[string]any{"server": "srv"})
	assert.False(t, isErr)
	assert.Equal(t, "srv", resp["server"])
}

func TestAdapter_ListMCPTools_Error(t *testing.T) {
	d := &fakeDispatcher{listToolsErr: errors.New("unknown server")}
	a := New(d, testLogger())
	session := connectAdapter(t, a)

	resp, isErr := callAndDecode(t, session, "list_mcp_tools", map[string]any{"server": "nope"})
	assert.True(t, isErr)
	assert.Equal(t, "unknown server", resp["error"])
	assert.Equal(t, "test hint", resp["hint"])
}

func TestAdapter_GetBridgeStats(t *testing.T) {
	d := &fakeDispatcher{stats: map[string]any{"version": "mcpbridge/dev"}}
	a := New(d, testLogger())
	session := connectAdapter(t, a)

	resp, isErr := callAndDecode(t, session, "get_bridge_stats", nil)
	assert.False(t, isErr)
	assert.Equal(t, "mcpbridge/dev", resp["version"])
}

func TestAdapter_CallMCPTool_ForwardsArguments(t *testing.T) {
	d := &fakeDispatcher{callResp: map[string]any{"compacted": false, "data": "ok"}}
	a := New(d, testLogger())
	session := connectAdapter(t, a)

	resp, isErr := callAndDecode(t, session, "call_mcp_tool", map[string]any{
		"server": "srv", "tool": "t", "arguments": map[string]any{"x": 1},
	})
	assert.False(t, isErr)
	assert.Equal(t, false, resp["compacted"])
}
