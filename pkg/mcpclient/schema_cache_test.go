package mcpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/bridgeerr"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/clock"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/config"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func managerWithLiveConnection(t *testing.T, serverName string, tools map[string]mcpsdk.ToolHandler, opts ...ManagerOption) *Manager {
	t.Helper()
	reg := config.NewRegistry(map[string]config.ServerDescriptor{
		serverName: {Name: serverName, Type: config.TransportStdio, Command: "mock"},
	})
	m := NewManager(reg, testLogger(), opts...)

	transport := startInMemoryServer(t, serverName, tools)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	m.mu.Lock()
	m.conns[serverName] = &connection{client: client, session: session, status: Connected}
	m.mu.Unlock()
	return m
}

func TestGetServerTools_FetchesAndCaches(t *testing.T) {
	m := managerWithLiveConnection(t, "srv", map[string]mcpsdk.ToolHandler{
		"echo": staticToolHandler("x"),
	})

	tools, err := m.GetServerTools(context.Background(), "srv", false)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, 1, m.CacheEntryCount())
	assert.Equal(t, 1, m.CachedToolCount())
}

func TestGetServerTools_TTLExpiry(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	m := managerWithLiveConnection(t, "srv", map[string]mcpsdk.ToolHandler{
		"echo": staticToolHandler("x"),
	}, WithClock(fc), WithToolCacheTTL(time.Minute))

	_, err := m.GetServerTools(context.Background(), "srv", false)
	require.NoError(t, err)

	// Within TTL: cache entry is still fresh.
	_, fresh := m.freshCacheEntry("srv")
	assert.True(t, fresh)

	// Advance the injected clock past the TTL.
	fc.now = fc.now.Add(2 * time.Minute)
	_, fresh = m.freshCacheEntry("srv")
	assert.False(t, fresh)
}

func TestGetServerTools_RefreshRefetches(t *testing.T) {
	fc := &fakeClock{now: time.Now()}
	m := managerWithLiveConnection(t, "srv", map[string]mcpsdk.ToolHandler{
		"echo": staticToolHandler("x"),
	}, WithClock(fc))

	first, err := m.GetServerTools(context.Background(), "srv", false)
	require.NoError(t, err)
	fc.now = fc.now.Add(time.Second)

	second, err := m.GetServerTools(context.Background(), "srv", true)
	require.NoError(t, err)
	assert.Equal(t, first[0].Name, second[0].Name)
	// The fresh entry was bypassed and replaced with a new fetch.
	assert.Equal(t, fc.now, m.toolCache["srv"].cachedAt)
}

func TestGetToolSchema_NotFoundListsAvailable(t *testing.T) {
	m := managerWithLiveConnection(t, "srv", map[string]mcpsdk.ToolHandler{
		"echo": staticToolHandler("x"),
	})

	_, err := m.GetToolSchema(context.Background(), "srv", "missing")
	require.Error(t, err)
	var be *bridgeerr.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, bridgeerr.KindToolNotFound, be.Kind)
	assert.Contains(t, be.Err.Error(), "echo")
}

func TestGetToolSchema_Found(t *testing.T) {
	m := managerWithLiveConnection(t, "srv", map[string]mcpsdk.ToolHandler{
		"echo": staticToolHandler("x"),
	})

	tool, err := m.GetToolSchema(context.Background(), "srv", "echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", tool.Name)
}

var _ clock.Clock = (*fakeClock)(nil)
