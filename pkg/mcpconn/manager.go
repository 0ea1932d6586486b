package mcpconn

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// FailurePhase identifies the lifecycle stage a server failure occurred in.
type FailurePhase string

const (
	FailurePhaseStart     FailurePhase = "start"
	FailurePhaseListTools FailurePhase = "list_tools"
)

// ServerFailure records why a server is degraded. Failures are surfaced as
// data for the session layer to render; they never abort the manager.
type ServerFailure struct {
	Phase   FailurePhase
	Message string
}

// ToolID identifies one tool on one server by its native, unsanitized names.
type ToolID struct {
	Server string
	Tool   string
}

// QualifiedTool pairs a qualified catalog name with its origin.
type QualifiedTool struct {
	QualifiedName string
	ServerName    string
	Tool          *mcp.Tool
}

// managedClient is a shared-ownership handle on one live connection; copying
// it shares the same underlying adapter.
type managedClient struct {
	adapter        ClientAdapter
	startupTimeout time.Duration
	toolTimeout    time.Duration
}

var serverNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ConnectionManager owns the live client pool and the derived tool, failure,
// and exclusion indexes. One instance is constructed per session and passed
// by pointer to every consumer; its lifecycle is tied to the owning session.
type ConnectionManager struct {
	opts ManagerOptions

	// clientsMu guards the live client map. It is released before any
	// transport I/O happens.
	clientsMu sync.RWMutex
	clients   map[string]managedClient

	// stateMu guards the derived indexes. It is held only for
	// snapshot-or-swap operations, never across I/O. Tools and failures
	// are always replaced under one acquisition so readers never observe
	// a tools map computed against a different failures snapshot.
	stateMu       sync.RWMutex
	transports    map[string]TransportConfig
	tools         map[string]ToolInfo
	excludedTools map[ToolID]struct{}
	serverNames   []string
	failures      map[string]ServerFailure
}

type startResult struct {
	name     string
	cfg      ServerConfig
	client   ClientAdapter
	err      error
	panicked bool
}

// NewConnectionManager concurrently starts every configured server, lists
// tools on the ones that came up, and aggregates the surviving tools into the
// qualified catalog. Individual server failures are returned as data; the
// error result is reserved for the orchestration machinery itself.
func NewConnectionManager(ctx context.Context, servers map[string]ServerConfig, excludedTools map[ToolID]struct{}, opts *ManagerOptions) (*ConnectionManager, map[string]ServerFailure, error) {
	m := &ConnectionManager{
		opts:          opts.normalized(),
		clients:       make(map[string]managedClient),
		transports:    make(map[string]TransportConfig, len(servers)),
		tools:         make(map[string]ToolInfo),
		excludedTools: make(map[ToolID]struct{}, len(excludedTools)),
		failures:      make(map[string]ServerFailure),
	}
	for id := range excludedTools {
		m.excludedTools[id] = struct{}{}
	}
	for name, cfg := range servers {
		for _, tool := range cfg.DisabledTools {
			m.excludedTools[ToolID{Server: name, Tool: tool}] = struct{}{}
		}
	}

	failures := make(map[string]ServerFailure)
	results := make(chan startResult, len(servers))
	spawned := 0

	for name, cfg := range servers {
		if !serverNamePattern.MatchString(name) {
			failures[name] = ServerFailure{
				Phase:   FailurePhaseStart,
				Message: fmt.Sprintf("invalid server name '%s': must match pattern ^[a-zA-Z0-9_-]+$", name),
			}
			continue
		}
		m.transports[name] = cfg.Transport

		spawned++
		go func(name string, cfg ServerConfig) {
			defer func() {
				if r := recover(); r != nil {
					m.opts.Logger.Warn("task panic when starting MCP server", "server", name, "panic", r)
					results <- startResult{name: name, panicked: true}
				}
			}()
			client, err := m.opts.Factory(ctx, name, cfg, &m.opts)
			results <- startResult{name: name, cfg: cfg, client: client, err: err}
		}(name, cfg)
	}

	// Drain in completion order, not submission order.
	for i := 0; i < spawned; i++ {
		res := <-results
		if res.panicked {
			continue
		}
		if res.err != nil {
			failures[res.name] = ServerFailure{
				Phase:   FailurePhaseStart,
				Message: fmt.Sprintf("server '%s': %v", res.name, res.err),
			}
			continue
		}
		m.clients[res.name] = managedClient{
			adapter:        res.client,
			startupTimeout: res.cfg.startupTimeout(),
			toolTimeout:    res.cfg.ToolTimeout,
		}
	}

	allTools, listFailures := m.listAllTools(ctx, m.clients, m.excludedTools)
	for name, failure := range listFailures {
		failures[name] = failure
	}
	m.tools = qualifyTools(allTools, m.opts.Logger)

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.serverNames = sortedServerNames(names)
	for name, failure := range failures {
		m.failures[name] = failure
	}

	returned := make(map[string]ServerFailure, len(failures))
	for name, failure := range failures {
		returned[name] = failure
	}
	return m, returned, nil
}

// EnsureServerStarted starts a server on demand mid-session. It returns true
// only when this call actually started a new client; a server that is already
// running is a no-op, not an error.
func (m *ConnectionManager) EnsureServerStarted(ctx context.Context, serverName string, cfg ServerConfig) (bool, error) {
	if !serverNamePattern.MatchString(serverName) {
		return false, fmt.Errorf("invalid server name '%s': must match pattern ^[a-zA-Z0-9_-]+$", serverName)
	}

	m.clientsMu.RLock()
	_, running := m.clients[serverName]
	m.clientsMu.RUnlock()
	if running {
		return false, nil
	}

	m.stateMu.Lock()
	m.transports[serverName] = cfg.Transport
	for _, tool := range cfg.DisabledTools {
		m.excludedTools[ToolID{Server: serverName, Tool: tool}] = struct{}{}
	}
	m.stateMu.Unlock()

	client, err := m.opts.Factory(ctx, serverName, cfg, &m.opts)
	if err != nil {
		return false, err
	}
	managed := managedClient{
		adapter:        client,
		startupTimeout: cfg.startupTimeout(),
		toolTimeout:    cfg.ToolTimeout,
	}

	m.clientsMu.Lock()
	_, raced := m.clients[serverName]
	if !raced {
		m.clients[serverName] = managed
	}
	m.clientsMu.Unlock()
	if raced {
		// Another caller inserted the same server while we were dialing.
		managed.adapter.Shutdown()
		return false, nil
	}

	m.stateMu.Lock()
	m.serverNames = sortedServerNames(append(m.serverNames, serverName))
	delete(m.failures, serverName)
	m.stateMu.Unlock()

	m.RefreshTools(ctx)
	return true, nil
}

// RefreshTools re-lists tools for every registered client and atomically
// replaces both the tool catalog and the failure map with the new result.
// Always a full recompute; the listing call is required anyway to pick up
// renamed or removed tools.
func (m *ConnectionManager) RefreshTools(ctx context.Context) {
	m.clientsMu.RLock()
	clients := make(map[string]managedClient, len(m.clients))
	for name, managed := range m.clients {
		clients[name] = managed
	}
	m.clientsMu.RUnlock()

	m.stateMu.RLock()
	excluded := make(map[ToolID]struct{}, len(m.excludedTools))
	for id := range m.excludedTools {
		excluded[id] = struct{}{}
	}
	m.stateMu.RUnlock()

	allTools, failures := m.listAllTools(ctx, clients, excluded)
	tools := qualifyTools(allTools, m.opts.Logger)

	m.stateMu.Lock()
	m.tools = tools
	m.failures = failures
	m.stateMu.Unlock()
}

// SetToolEnabled toggles one (server, tool) pair in or out of the exclusion
// set and reports whether the set actually changed. The catalog is refreshed
// only on a real change, so re-disabling an already-disabled tool is a no-op.
func (m *ConnectionManager) SetToolEnabled(ctx context.Context, server, tool string, enable bool) bool {
	id := ToolID{Server: server, Tool: tool}

	m.stateMu.Lock()
	_, excluded := m.excludedTools[id]
	changed := false
	if enable && excluded {
		delete(m.excludedTools, id)
		changed = true
	} else if !enable && !excluded {
		m.excludedTools[id] = struct{}{}
		changed = true
	}
	m.stateMu.Unlock()

	if changed {
		m.RefreshTools(ctx)
	}
	return changed
}

// CallTool invokes the tool indicated by the native (server, tool) pair. The
// effective timeout is the override when given, else the server's configured
// tool timeout, else unbounded.
func (m *ConnectionManager) CallTool(ctx context.Context, server, tool string, args any, timeoutOverride time.Duration) (*mcp.CallToolResult, error) {
	m.clientsMu.RLock()
	managed, ok := m.clients[server]
	m.clientsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown MCP server '%s'", server)
	}

	timeout := timeoutOverride
	if timeout <= 0 {
		timeout = managed.toolTimeout
	}
	result, err := managed.adapter.CallTool(ctx, tool, args, timeout)
	if err != nil {
		return nil, fmt.Errorf("tool call failed for `%s/%s`: %w", server, tool, err)
	}
	return result, nil
}

// ParseToolName maps a qualified catalog name back to the native
// (server, tool) pair needed for the actual call.
func (m *ConnectionManager) ParseToolName(qualifiedName string) (server, tool string, ok bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	info, ok := m.tools[qualifiedName]
	if !ok {
		return "", "", false
	}
	return info.ServerName, info.ToolName, true
}

// ListAllTools returns the qualified catalog: qualified name to tool schema.
func (m *ConnectionManager) ListAllTools() map[string]*mcp.Tool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	tools := make(map[string]*mcp.Tool, len(m.tools))
	for name, info := range m.tools {
		tools[name] = info.Tool
	}
	return tools
}

// ListAllToolsWithServerNames returns the qualified catalog together with
// each tool's originating server.
func (m *ConnectionManager) ListAllToolsWithServerNames() []QualifiedTool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	tools := make([]QualifiedTool, 0, len(m.tools))
	for name, info := range m.tools {
		tools = append(tools, QualifiedTool{QualifiedName: name, ServerName: info.ServerName, Tool: info.Tool})
	}
	return tools
}

// ListToolsByServer groups native tool names by server. Every registered
// server appears, with an empty slice when it currently exposes no tools, so
// callers can distinguish "no tools" from "server unknown".
func (m *ConnectionManager) ListToolsByServer() map[string][]string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	byServer := make(map[string][]string)
	for _, info := range m.tools {
		byServer[info.ServerName] = append(byServer[info.ServerName], info.ToolName)
	}
	for _, name := range m.serverNames {
		if _, ok := byServer[name]; !ok {
			byServer[name] = []string{}
		}
	}
	for server, tools := range byServer {
		sort.Strings(tools)
		byServer[server] = dedupSorted(tools)
	}
	return byServer
}

// ListDisabledToolsByServer groups excluded tool names by server, with the
// same empty-but-present convention as ListToolsByServer.
func (m *ConnectionManager) ListDisabledToolsByServer() map[string][]string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	byServer := make(map[string][]string)
	for id := range m.excludedTools {
		byServer[id.Server] = append(byServer[id.Server], id.Tool)
	}
	for _, name := range m.serverNames {
		if _, ok := byServer[name]; !ok {
			byServer[name] = []string{}
		}
	}
	for server, tools := range byServer {
		sort.Strings(tools)
		byServer[server] = dedupSorted(tools)
	}
	return byServer
}

// ListServerFailures returns a snapshot of the per-server failure reasons.
func (m *ConnectionManager) ListServerFailures() map[string]ServerFailure {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	failures := make(map[string]ServerFailure, len(m.failures))
	for name, failure := range m.failures {
		failures[name] = failure
	}
	return failures
}

// ServerNames returns the sorted names of all running servers.
func (m *ConnectionManager) ServerNames() []string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return append([]string(nil), m.serverNames...)
}

// HasServer reports whether a server is currently running.
func (m *ConnectionManager) HasServer(serverName string) bool {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	_, ok := m.clients[serverName]
	return ok
}

// ListResourcesByServer concurrently pages through every server's resources.
// A server whose listing fails is logged and contributes an empty entry; no
// failure aborts the other servers.
func (m *ConnectionManager) ListResourcesByServer(ctx context.Context) map[string][]*mcp.Resource {
	return listPagedByServer(m, ctx, "resources/list",
		func(ctx context.Context, managed managedClient, cursor string) ([]*mcp.Resource, string, error) {
			res, err := managed.adapter.ListResources(ctx, cursor, managed.toolTimeout)
			if err != nil {
				return nil, "", err
			}
			return res.Resources, res.NextCursor, nil
		})
}

// ListResourceTemplatesByServer concurrently pages through every server's
// resource templates with the same degradation policy as
// ListResourcesByServer.
func (m *ConnectionManager) ListResourceTemplatesByServer(ctx context.Context) map[string][]*mcp.ResourceTemplate {
	return listPagedByServer(m, ctx, "resources/templates/list",
		func(ctx context.Context, managed managedClient, cursor string) ([]*mcp.ResourceTemplate, string, error) {
			res, err := managed.adapter.ListResourceTemplates(ctx, cursor, managed.toolTimeout)
			if err != nil {
				return nil, "", err
			}
			return res.ResourceTemplates, res.NextCursor, nil
		})
}

// ShutdownAll drains the entire client map, then shuts each client down
// outside the lock so shutdown latency never blocks reads of the now-empty
// registry.
func (m *ConnectionManager) ShutdownAll() {
	m.clientsMu.Lock()
	drained := make([]managedClient, 0, len(m.clients))
	for _, managed := range m.clients {
		drained = append(drained, managed)
	}
	m.clients = make(map[string]managedClient)
	m.clientsMu.Unlock()

	for _, managed := range drained {
		managed.adapter.Shutdown()
	}
}

type listToolsResult struct {
	name     string
	tools    []ToolInfo
	err      error
	panicked bool
}

// listAllTools queries every server for its tools concurrently and returns
// the aggregate, so overall latency tracks the slowest server instead of the
// sum. Excluded pairs are filtered before a tool is ever exposed.
func (m *ConnectionManager) listAllTools(ctx context.Context, clients map[string]managedClient, excluded map[ToolID]struct{}) ([]ToolInfo, map[string]ServerFailure) {
	results := make(chan listToolsResult, len(clients))

	for name, managed := range clients {
		go func(name string, managed managedClient) {
			defer func() {
				if r := recover(); r != nil {
					m.opts.Logger.Warn("task panic when listing tools for MCP server", "server", name, "panic", r)
					results <- listToolsResult{name: name, panicked: true}
				}
			}()
			tools, err := pageThrough(ctx, "tools/list", func(cursor string) ([]*mcp.Tool, string, error) {
				res, err := managed.adapter.ListTools(ctx, cursor, managed.startupTimeout)
				if err != nil {
					return nil, "", err
				}
				return res.Tools, res.NextCursor, nil
			})
			if err != nil {
				results <- listToolsResult{name: name, err: err}
				return
			}
			infos := make([]ToolInfo, 0, len(tools))
			for _, tool := range tools {
				infos = append(infos, ToolInfo{ServerName: name, ToolName: tool.Name, Tool: tool})
			}
			results <- listToolsResult{name: name, tools: infos}
		}(name, managed)
	}

	aggregated := make([]ToolInfo, 0, len(clients))
	failures := make(map[string]ServerFailure)
	for i := 0; i < len(clients); i++ {
		res := <-results
		if res.panicked {
			continue
		}
		if res.err != nil {
			m.opts.Logger.Warn("failed to list tools for MCP server", "server", res.name, "error", res.err)
			failures[res.name] = ServerFailure{Phase: FailurePhaseListTools, Message: res.err.Error()}
			continue
		}
		for _, info := range res.tools {
			if _, skip := excluded[ToolID{Server: info.ServerName, Tool: info.ToolName}]; skip {
				continue
			}
			aggregated = append(aggregated, info)
		}
	}

	m.opts.Logger.Info("aggregated MCP tools", "tools", len(aggregated), "servers", len(clients))
	return aggregated, failures
}

// pageThrough drives one cursor-based listing to completion. A cursor seen
// twice for the same listing is a protocol violation; fail immediately
// instead of looping forever.
func pageThrough[T any](ctx context.Context, method string, fetch func(cursor string) ([]T, string, error)) ([]T, error) {
	var items []T
	cursor := ""
	seenCursors := make(map[string]struct{})
	for {
		page, next, err := fetch(cursor)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)
		if next == "" {
			return items, nil
		}
		if _, dup := seenCursors[next]; dup {
			return nil, fmt.Errorf("%s returned repeated cursor", method)
		}
		seenCursors[next] = struct{}{}
		cursor = next
	}
}

type pagedResult[T any] struct {
	name  string
	items []T
	err   error
}

func listPagedByServer[T any](m *ConnectionManager, ctx context.Context, method string, fetch func(ctx context.Context, managed managedClient, cursor string) ([]T, string, error)) map[string][]T {
	m.clientsMu.RLock()
	clients := make(map[string]managedClient, len(m.clients))
	for name, managed := range m.clients {
		clients[name] = managed
	}
	m.clientsMu.RUnlock()

	results := make(chan pagedResult[T], len(clients))
	for name, managed := range clients {
		go func(name string, managed managedClient) {
			defer func() {
				if r := recover(); r != nil {
					m.opts.Logger.Warn("task panic during MCP listing", "method", method, "server", name, "panic", r)
					results <- pagedResult[T]{name: name}
				}
			}()
			items, err := pageThrough(ctx, method, func(cursor string) ([]T, string, error) {
				return fetch(ctx, managed, cursor)
			})
			results <- pagedResult[T]{name: name, items: items, err: err}
		}(name, managed)
	}

	byServer := make(map[string][]T, len(clients))
	for i := 0; i < len(clients); i++ {
		res := <-results
		if res.err != nil {
			m.opts.Logger.Warn("MCP listing failed", "method", method, "server", res.name, "error", res.err)
			byServer[res.name] = []T{}
			continue
		}
		byServer[res.name] = res.items
	}
	return byServer
}

// sortedServerNames sorts case-insensitively and drops case-insensitive
// duplicates, keeping the first occurrence.
func sortedServerNames(names []string) []string {
	sorted := append([]string(nil), names...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i]) < strings.ToLower(sorted[j])
	})
	deduped := sorted[:0]
	for _, name := range sorted {
		if len(deduped) > 0 && strings.EqualFold(deduped[len(deduped)-1], name) {
			continue
		}
		deduped = append(deduped, name)
	}
	return deduped
}

func dedupSorted(items []string) []string {
	deduped := items[:0]
	for _, item := range items {
		if len(deduped) > 0 && deduped[len(deduped)-1] == item {
			continue
		}
		deduped = append(deduped, item)
	}
	return deduped
}
