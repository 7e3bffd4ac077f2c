// Package mcpserver is the Front-end Transport Adapter (SPEC_FULL.md
// §2, §6): it accepts incoming MCP requests from the upstream client
// over stdio and translates each of the eight fixed meta-tools into a
// Dispatcher call, exactly as the teacher's test/e2e/mcp_helpers.go
// hosts tools for its own in-memory test servers.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/version"
)

// dispatcher is the subset of *dispatcher.Dispatcher this package
// depends on.
type dispatcher interface {
	ListServers() map[string]any
	ListMCPTools(ctx context.Context, args map[string]any) (map[string]any, error)
	GetToolSchema(ctx context.Context, args map[string]any) (map[string]any, error)
	CallMCPTool(ctx context.Context, args map[string]any) (map[string]any, error)
	GetResult(args map[string]any) (map[string]any, error)
	ListResults() map[string]any
	CheckServerHealth(ctx context.Context, args map[string]any) map[string]any
	GetBridgeStats() map[string]any
	ErrorResponse(err error, elapsedMs *int64) map[string]any
}

// Adapter hosts the eight meta-tools over an MCP server and delegates
// every call to a Dispatcher.
type Adapter struct {
	server *mcpsdk.Server
	logger *slog.Logger
}

// New builds an Adapter with all eight meta-tools registered against d.
func New(d dispatcher, logger *slog.Logger) *Adapter {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	a := &Adapter{server: server, logger: logger}
	a.registerTools(d)
	return a
}

// Run serves the adapter over standard input/output until ctx is
// cancelled, per §6's wire-protocol surface.
func (a *Adapter) Run(ctx context.Context) error {
	return a.server.Run(ctx, &mcpsdk.StdioTransport{})
}

func (a *Adapter) registerTools(d dispatcher) {
	a.server.AddTool(&mcpsdk.Tool{
		Name:        "list_servers",
		Description: "List the enabled downstream MCP servers known to the bridge.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return a.okResult(d.ListServers()), nil
	})

	a.server.AddTool(&mcpsdk.Tool{
		Name:        "list_mcp_tools",
		Description: "List the tools a downstream MCP server exposes.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"server": {"type": "string"},
				"verbose": {"type": "boolean"},
				"refresh": {"type": "boolean"}
			},
			"required": ["server"]
		}`),
	}, a.argHandler(d, d.ListMCPTools))

	a.server.AddTool(&mcpsdk.Tool{
		Name:        "get_tool_schema",
		Description: "Fetch a downstream tool's input schema.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"server": {"type": "string"},
				"tool": {"type": "string"}
			},
			"required": ["server", "tool"]
		}`),
	}, a.argHandler(d, d.GetToolSchema))

	a.server.AddTool(&mcpsdk.Tool{
		Name:        "call_mcp_tool",
		Description: "Invoke a tool on a downstream MCP server.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"server": {"type": "string"},
				"tool": {"type": "string"},
				"arguments": {"type": "object"},
				"compact": {"type": "boolean"}
			},
			"required": ["server", "tool"]
		}`),
	}, a.argHandler(d, d.CallMCPTool))

	a.server.AddTool(&mcpsdk.Tool{
		Name:        "get_result",
		Description: "Fetch the full payload of a previously compacted result.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"result_id": {"type": "string"}
			},
			"required": ["result_id"]
		}`),
	}, func(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args, err := decodeArgs(req)
		if err != nil {
			return a.malformedArgsResult(err), nil
		}
		resp, err := d.GetResult(args)
		if err != nil {
			return a.errorResult(d.ErrorResponse(err, nil)), nil
		}
		return a.okResult(resp), nil
	})

	a.server.AddTool(&mcpsdk.Tool{
		Name:        "list_results",
		Description: "List currently stored (non-expired) compacted results.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return a.okResult(d.ListResults()), nil
	})

	a.server.AddTool(&mcpsdk.Tool{
		Name:        "check_server_health",
		Description: "Probe one or all downstream servers and report health.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"server": {"type": "string"}
			}
		}`),
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args, err := decodeArgs(req)
		if err != nil {
			return a.malformedArgsResult(err), nil
		}
		return a.okResult(d.CheckServerHealth(ctx, args)), nil
	})

	a.server.AddTool(&mcpsdk.Tool{
		Name:        "get_bridge_stats",
		Description: "Return bridge version, connection, cache, and memory statistics.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return a.okResult(d.GetBridgeStats()), nil
	})
}

// decodeArgs unmarshals a tool call's raw arguments into a generic
// mapping, per §9: arguments are an opaque structural value the bridge
// never validates.
func decodeArgs(req *mcpsdk.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// argHandler wraps a Dispatcher method that takes decoded arguments
// and may fail, rendering a bridgeerr-aware error envelope via
// d.ErrorResponse on failure.
func (a *Adapter) argHandler(d dispatcher, fn func(context.Context, map[string]any) (map[string]any, error)) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		args, err := decodeArgs(req)
		if err != nil {
			return a.malformedArgsResult(err), nil
		}
		resp, err := fn(ctx, args)
		if err != nil {
			return a.errorResult(d.ErrorResponse(err, nil)), nil
		}
		return a.okResult(resp), nil
	}
}
