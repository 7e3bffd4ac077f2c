package mcpclient

import (
	"context"
	"fmt"
	"sort"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/bridgeerr"
)

// GetServerTools implements §4.3: return the cached tool list for
// serverName if it is fresh, otherwise fetch and replace it.
func (m *Manager) GetServerTools(ctx context.Context, serverName string, refresh bool) ([]*mcpsdk.Tool, error) {
	if !refresh {
		if entry, ok := m.freshCacheEntry(serverName); ok {
			return entry.tools, nil
		}
	}

	session, err := m.GetConnection(ctx, serverName)
	if err != nil {
		return nil, err
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindDownstreamTransportError, serverName, "", err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}

	m.toolCacheMu.Lock()
	m.toolCache[serverName] = schemaCacheEntry{tools: tools, cachedAt: m.clk.Now()}
	m.toolCacheMu.Unlock()

	return tools, nil
}

func (m *Manager) freshCacheEntry(serverName string) (schemaCacheEntry, bool) {
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	entry, ok := m.toolCache[serverName]
	if !ok {
		return schemaCacheEntry{}, false
	}
	if m.clk.Now().Sub(entry.cachedAt) >= m.tagCacheTTL {
		return schemaCacheEntry{}, false
	}
	return entry, true
}

// GetToolSchema implements §4.3's getToolSchema: locate a tool by name
// within a server's (possibly refreshed) tool list.
func (m *Manager) GetToolSchema(ctx context.Context, serverName, toolName string) (*mcpsdk.Tool, error) {
	tools, err := m.GetServerTools(ctx, serverName, false)
	if err != nil {
		return nil, err
	}

	for _, t := range tools {
		if t.Name == toolName {
			return t, nil
		}
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	if len(names) > 10 {
		names = names[:10]
	}
	return nil, bridgeerr.New(bridgeerr.KindToolNotFound, serverName, toolName,
		fmt.Errorf("tool %q not found; available: %s", toolName, strings.Join(names, ", ")))
}

// InvalidateToolCache drops the cached entry for serverName, forcing
// the next GetServerTools call to re-probe the server.
func (m *Manager) InvalidateToolCache(serverName string) {
	m.toolCacheMu.Lock()
	delete(m.toolCache, serverName)
	m.toolCacheMu.Unlock()
}

// CachedToolCount returns the §9(b)-resolved "cached_tools" number: the
// sum of tool counts across every schema-cache entry.
func (m *Manager) CachedToolCount() int {
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	total := 0
	for _, entry := range m.toolCache {
		total += len(entry.tools)
	}
	return total
}

// CacheEntryCount returns the number of servers with a live schema
// cache entry, regardless of freshness.
func (m *Manager) CacheEntryCount() int {
	m.toolCacheMu.RLock()
	defer m.toolCacheMu.RUnlock()
	return len(m.toolCache)
}
