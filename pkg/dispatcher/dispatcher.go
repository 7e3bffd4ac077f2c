// Package dispatcher implements the Meta-Tool Dispatcher (SPEC_FULL.md
// §4.5): it translates the eight fixed meta-tool invocations into
// Config Registry lookups, Connection Manager / Tool Schema Cache
// calls, and Result Store / Compactor operations, producing the
// user-visible response or error envelope for each.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/bridgeerr"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/clock"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/config"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/mcpclient"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/resultstore"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/version"
)

// maxToolDescription is §4.5's list_mcp_tools verbose-mode truncation
// length.
const maxToolDescription = 100

// connectionManager is the subset of *mcpclient.Manager the Dispatcher
// depends on. Narrowing to an interface lets tests exercise dispatch
// logic against a fake downstream instead of a real child process,
// the same role agent.ToolExecutor plays for the teacher's executor.
type connectionManager interface {
	GetServerTools(ctx context.Context, serverName string, refresh bool) ([]*mcpsdk.Tool, error)
	GetToolSchema(ctx context.Context, serverName, toolName string) (*mcpsdk.Tool, error)
	CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error)
	Statuses() map[string]mcpclient.Status
	ConnectedCount() int
	CachedToolCount() int
	CacheEntryCount() int
}

var _ connectionManager = (*mcpclient.Manager)(nil)

// Dispatcher wires the Config Registry, Connection Manager, and
// Result Store together to serve the eight meta-tools. A Dispatcher
// holds only non-owning references acquired per call (§9).
type Dispatcher struct {
	registry *config.Registry
	conns    connectionManager
	store    *resultstore.Store
	cfg      resultstore.CompactorConfig
	logger   *slog.Logger
	clk      clock.Clock
	started  time.Time
}

// New constructs a Dispatcher. startedAt should be the process start
// time, used for get_bridge_stats' uptime_seconds.
func New(registry *config.Registry, conns connectionManager, store *resultstore.Store, cfg resultstore.CompactorConfig, logger *slog.Logger, clk clock.Clock, startedAt time.Time) *Dispatcher {
	if clk == nil {
		clk = clock.Real
	}
	return &Dispatcher{
		registry: registry,
		conns:    conns,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		clk:      clk,
		started:  startedAt,
	}
}

// ErrorResponse builds §7's user-visible error envelope
// {error, server?, tool?, elapsed_ms?, hint} from err. Exported for the
// front-end transport adapter, which never constructs this shape
// itself.
func (d *Dispatcher) ErrorResponse(err error, elapsedMs *int64) map[string]any {
	resp := map[string]any{}

	var be *bridgeerr.Error
	if errors.As(err, &be) {
		resp["error"] = be.Error()
		if be.Server != "" {
			resp["server"] = be.Server
		}
		if be.Tool != "" {
			resp["tool"] = be.Tool
		}
		resp["hint"] = bridgeerr.Hint(be.Kind, d.registry.EnabledNames())
	} else {
		resp["error"] = err.Error()
		resp["hint"] = "use the corresponding discovery meta-tool"
	}

	if elapsedMs != nil {
		resp["elapsed_ms"] = *elapsedMs
	}
	return resp
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func boolArg(args map[string]any, key string, def bool) bool {
	v, ok := args[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func mapArg(args map[string]any, key string) map[string]any {
	v, ok := args[key]
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// requireServer extracts the required "server" argument, reporting
// ArgumentMissing before any connection attempt per §4.5.
func (d *Dispatcher) requireServer(args map[string]any) (string, error) {
	server, ok := stringArg(args, "server")
	if !ok {
		return "", bridgeerr.New(bridgeerr.KindArgumentMissing, "", "", errors.New("missing required argument: server"))
	}
	return server, nil
}

// requireKnownServer extracts "server" and validates it against the
// registry, failing with UnknownServer before any process is spawned.
func (d *Dispatcher) requireKnownServer(args map[string]any) (string, error) {
	server, err := d.requireServer(args)
	if err != nil {
		return "", err
	}
	if !d.registry.Has(server) {
		return "", bridgeerr.New(bridgeerr.KindUnknownServer, server, "", fmt.Errorf("unknown server %q", server))
	}
	return server, nil
}

func (d *Dispatcher) requireTool(server string, args map[string]any) (string, error) {
	tool, ok := stringArg(args, "tool")
	if !ok {
		return "", bridgeerr.New(bridgeerr.KindArgumentMissing, server, "", errors.New("missing required argument: tool"))
	}
	return tool, nil
}

// ListServers implements list_servers.
func (d *Dispatcher) ListServers() map[string]any {
	all := d.registry.All()
	statuses := d.conns.Statuses()

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]map[string]any, 0, len(names))
	for _, name := range names {
		desc := all[name]
		if !desc.IsEnabled() {
			continue
		}
		entry := map[string]any{
			"name":        desc.Name,
			"description": desc.Description,
		}
		if status, ok := statuses[desc.Name]; ok {
			entry["status"] = status.String()
		}
		servers = append(servers, entry)
	}

	return map[string]any{"servers": servers, "count": len(servers)}
}

// ListMCPTools implements list_mcp_tools.
func (d *Dispatcher) ListMCPTools(ctx context.Context, args map[string]any) (map[string]any, error) {
	server, err := d.requireKnownServer(args)
	if err != nil {
		return nil, err
	}
	verbose := boolArg(args, "verbose", false)
	refresh := boolArg(args, "refresh", false)

	tools, err := d.conns.GetServerTools(ctx, server, refresh)
	if err != nil {
		return nil, err
	}

	var list any
	if verbose {
		items := make([]map[string]any, len(tools))
		for i, t := range tools {
			items[i] = map[string]any{
				"name":        t.Name,
				"description": truncate(t.Description, maxToolDescription),
			}
		}
		list = items
	} else {
		names := make([]string, len(tools))
		for i, t := range tools {
			names[i] = t.Name
		}
		list = names
	}

	return map[string]any{
		"server": server,
		"count":  len(tools),
		"tools":  list,
		"hint":   "call get_tool_schema(server, tool) for the full input schema",
	}, nil
}

// GetToolSchema implements get_tool_schema.
func (d *Dispatcher) GetToolSchema(ctx context.Context, args map[string]any) (map[string]any, error) {
	server, err := d.requireKnownServer(args)
	if err != nil {
		return nil, err
	}
	toolName, err := d.requireTool(server, args)
	if err != nil {
		return nil, err
	}

	tool, err := d.conns.GetToolSchema(ctx, server, toolName)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"server":       server,
		"name":         tool.Name,
		"description":  tool.Description,
		"input_schema": tool.InputSchema,
	}, nil
}

// CallMCPTool implements call_mcp_tool.
func (d *Dispatcher) CallMCPTool(ctx context.Context, args map[string]any) (map[string]any, error) {
	server, err := d.requireKnownServer(args)
	if err != nil {
		return nil, err
	}
	toolName, err := d.requireTool(server, args)
	if err != nil {
		return nil, err
	}
	arguments := mapArg(args, "arguments")
	forceCompact := boolArg(args, "compact", false)

	start := d.clk.Now()
	result, err := d.conns.CallTool(ctx, server, toolName, arguments)
	if err != nil {
		return nil, err
	}

	if result.IsError {
		return nil, bridgeerr.New(bridgeerr.KindDownstreamToolError, server, toolName, errors.New(extractText(result)))
	}

	payload := extractPayload(result)

	if forceCompact || resultstore.IsLarge(payload, d.cfg) {
		elapsed := d.clk.Now().Sub(start).Milliseconds()
		resp := d.store.StoreForced(payload, server, toolName, d.cfg)
		resp["elapsed_ms"] = elapsed
		return resp, nil
	}

	return map[string]any{"compacted": false, "data": payload}, nil
}

// GetResult implements get_result.
func (d *Dispatcher) GetResult(args map[string]any) (map[string]any, error) {
	id, ok := stringArg(args, "result_id")
	if !ok {
		return nil, bridgeerr.New(bridgeerr.KindArgumentMissing, "", "", errors.New("missing required argument: result_id"))
	}
	return d.store.Get(id)
}

// ListResults implements list_results.
func (d *Dispatcher) ListResults() map[string]any {
	return map[string]any{"results": d.store.ListResults()}
}

// CheckServerHealth implements check_server_health. Per-server errors
// are captured into the per-server entry, never surfaced as a
// Dispatcher error (§4.5).
func (d *Dispatcher) CheckServerHealth(ctx context.Context, args map[string]any) map[string]any {
	var targets []string
	if server, ok := stringArg(args, "server"); ok {
		targets = []string{server}
	} else {
		targets = d.registry.EnabledNames()
	}

	checks := make([]map[string]any, 0, len(targets))
	healthy := 0
	for _, server := range targets {
		start := d.clk.Now()
		tools, err := d.conns.GetServerTools(ctx, server, true)
		elapsed := d.clk.Now().Sub(start).Milliseconds()

		entry := map[string]any{
			"server":           server,
			"response_time_ms": elapsed,
		}
		if err != nil {
			entry["status"] = "error"
			entry["error"] = err.Error()
		} else {
			entry["status"] = "healthy"
			entry["tool_count"] = len(tools)
			healthy++
		}
		checks = append(checks, entry)
	}

	return map[string]any{
		"checks":          checks,
		"healthy_count":   healthy,
		"unhealthy_count": len(targets) - healthy,
		"total_checked":   len(targets),
	}
}

// GetBridgeStats implements get_bridge_stats.
func (d *Dispatcher) GetBridgeStats() map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]any{
		"version":             version.Full(),
		"configured_servers":  len(d.registry.All()),
		"connected_servers":   d.conns.ConnectedCount(),
		"cached_tools":        d.conns.CachedToolCount(),
		"cache_entries":       d.conns.CacheEntryCount(),
		"stored_results":      d.store.Count(),
		"memory": map[string]any{
			"heap_mb":  float64(mem.HeapAlloc) / (1024 * 1024),
			"total_mb": float64(mem.Sys) / (1024 * 1024),
		},
		"uptime_seconds": d.clk.Now().Sub(d.started).Seconds(),
		"compaction": map[string]any{
			"size_threshold":    d.cfg.SizeThreshold,
			"row_threshold":     d.cfg.RowThreshold,
			"max_preview_chars": d.cfg.MaxPreviewChars,
			"max_preview_rows":  d.cfg.MaxPreviewRows,
		},
	}
}
