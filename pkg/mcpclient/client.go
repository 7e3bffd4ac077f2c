// Package mcpclient implements the downstream Connection Manager and
// Tool Schema Cache (SPEC_FULL.md §4.2, §4.3): it owns the MCP client
// handles driving each downstream child process, lazily spawning them
// on first use and evicting them on failure.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/bridgeerr"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/clock"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/config"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/version"
)

// Status is the Connection state-machine position from §4.5.
type Status int

const (
	Absent Status = iota
	Connecting
	Connected
	Faulted
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "absent"
	}
}

// DefaultConnectTimeout is §4.2's connection-timeout default.
const DefaultConnectTimeout = 30 * time.Second

type connection struct {
	client          *mcpsdk.Client
	session         *mcpsdk.ClientSession
	status          Status
	lastConnectedAt time.Time
}

// Manager is the Connection Manager: the sole mutator of the
// name-keyed connections map (§4.2). It also hosts the Tool Schema
// Cache (§4.3), since both need the same per-server connection to
// operate and sharing the struct lets refresh reuse GetConnection
// without a second exported type threading connections through.
type Manager struct {
	registry       *config.Registry
	connectTimeout time.Duration
	retry          RetryPolicy
	clk            clock.Clock
	logger         *slog.Logger

	mu    sync.RWMutex
	conns map[string]*connection

	// connect collapses concurrent GetConnection calls for the same
	// server_name into a single in-flight attempt (§5(a)).
	connect singleflight.Group

	toolCacheMu sync.RWMutex
	toolCache   map[string]schemaCacheEntry
	tagCacheTTL time.Duration
}

// schemaCacheEntry is §3's SchemaCacheEntry.
type schemaCacheEntry struct {
	tools    []*mcpsdk.Tool
	cachedAt time.Time
}

// ManagerOption configures optional Manager fields.
type ManagerOption func(*Manager)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.connectTimeout = d }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) { m.retry = p }
}

// WithClock overrides clock.Real, for deterministic tests.
func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clk = c }
}

// WithToolCacheTTL overrides the default 5-minute tool cache TTL (§4.3).
func WithToolCacheTTL(d time.Duration) ManagerOption {
	return func(m *Manager) { m.tagCacheTTL = d }
}

// NewManager constructs a Manager bound to registry.
func NewManager(registry *config.Registry, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:       registry,
		connectTimeout: DefaultConnectTimeout,
		retry:          DefaultRetryPolicy(),
		clk:            clock.Real,
		logger:         logger,
		conns:          make(map[string]*connection),
		toolCache:      make(map[string]schemaCacheEntry),
		tagCacheTTL:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetConnection implements §4.2's algorithm: return a live session if
// one exists, otherwise connect exactly once per server_name even
// under concurrent callers, via singleflight.
func (m *Manager) GetConnection(ctx context.Context, serverName string) (*mcpsdk.ClientSession, error) {
	if session, ok := m.liveSession(serverName); ok {
		return session, nil
	}

	v, err, _ := m.connect.Do(serverName, func() (any, error) {
		if session, ok := m.liveSession(serverName); ok {
			return session, nil
		}
		return m.dial(ctx, serverName)
	})
	if err != nil {
		return nil, err
	}
	return v.(*mcpsdk.ClientSession), nil
}

func (m *Manager) liveSession(serverName string) (*mcpsdk.ClientSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[serverName]
	if !ok || c.status != Connected {
		return nil, false
	}
	return c.session, true
}

// dial performs the actual spawn-and-connect, implementing the
// Absent/Connecting/Connected/Faulted transitions of §4.5's state
// machine for the server's entry.
func (m *Manager) dial(ctx context.Context, serverName string) (*mcpsdk.ClientSession, error) {
	desc, err := m.registry.Get(serverName)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindUnknownServer, serverName, "", err)
	}
	if !desc.IsEnabled() {
		return nil, bridgeerr.New(bridgeerr.KindServerDisabled, serverName, "", fmt.Errorf("server %q is disabled", serverName))
	}

	m.setStatus(serverName, Connecting)

	transport, err := createTransport(desc)
	if err != nil {
		m.setStatus(serverName, Absent)
		if errors.Is(err, ErrUnsupportedTransport) {
			return nil, bridgeerr.New(bridgeerr.KindUnsupportedTransport, serverName, "", err)
		}
		return nil, bridgeerr.New(bridgeerr.KindSpawnFailed, serverName, "", err)
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	session, err := client.Connect(dialCtx, transport, nil)
	if err != nil {
		m.setStatus(serverName, Absent)
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, bridgeerr.New(bridgeerr.KindConnectTimeout, serverName, "", err)
		}
		return nil, bridgeerr.New(bridgeerr.KindSpawnFailed, serverName, "", err)
	}

	m.mu.Lock()
	m.conns[serverName] = &connection{
		client:          client,
		session:         session,
		status:          Connected,
		lastConnectedAt: m.clk.Now(),
	}
	m.mu.Unlock()

	m.logger.Info("downstream server connected", "server", serverName)
	return session, nil
}

func (m *Manager) setStatus(serverName string, s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[serverName]
	if !ok {
		if s == Absent {
			return
		}
		m.conns[serverName] = &connection{status: s}
		return
	}
	c.status = s
}

// Drop evicts the cached session for serverName and closes it
// best-effort, moving the state to Faulted→(next GetConnection
// rebuilds it). Called by CallTool's retry loop when the Retry Policy
// classifies an error as a connection fault.
func (m *Manager) Drop(serverName string) {
	m.mu.Lock()
	var session *mcpsdk.ClientSession
	if c, ok := m.conns[serverName]; ok {
		session = c.session
		c.client, c.session = nil, nil
		c.status = Faulted
	}
	m.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
	m.InvalidateToolCache(serverName)
}

// CallTool invokes tool on serverName with args, retrying per §4.1 on
// classified-retryable errors and dropping the cached connection first
// when the classification says to.
func (m *Manager) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	var lastErr error
	for attempt := 0; attempt <= m.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := m.retry.Delay(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		session, err := m.GetConnection(ctx, serverName)
		if err != nil {
			lastErr = err
			var be *bridgeerr.Error
			if errors.As(err, &be) && !be.Kind.Retryable() {
				return nil, err
			}
			continue
		}

		result, err := session.CallTool(ctx, params)
		if err == nil {
			return result, nil
		}

		lastErr = bridgeerr.New(bridgeerr.KindDownstreamTransportError, serverName, toolName, err)
		action := Classify(err)
		if !action.Retry {
			return nil, bridgeerr.New(bridgeerr.KindDownstreamToolError, serverName, toolName, err)
		}
		if action.DropConnection {
			m.Drop(serverName)
		}
	}

	var be *bridgeerr.Error
	if errors.As(lastErr, &be) {
		return nil, be.WithAttempts(m.retry.MaxRetries + 1)
	}
	return nil, lastErr
}

// Close shuts down every live session, best-effort.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.conns {
		if c.session != nil {
			if err := c.session.Close(); err != nil {
				m.logger.Warn("error closing downstream session", "server", name, "error", err)
			}
		}
	}
	m.conns = make(map[string]*connection)

	m.toolCacheMu.Lock()
	m.toolCache = make(map[string]schemaCacheEntry)
	m.toolCacheMu.Unlock()
}

// Statuses returns the current status of every server the manager has
// ever attempted to reach, for list_servers.
func (m *Manager) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.conns))
	for name, c := range m.conns {
		out[name] = c.status
	}
	return out
}

// ConnectedCount returns how many servers currently have a live
// connection, for get_bridge_stats.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.conns {
		if c.status == Connected {
			n++
		}
	}
	return n
}
