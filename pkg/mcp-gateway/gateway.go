package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/agentruntime/mcp-connection-manager-go/pkg/mcpconn"
)

const metaKeyServerName = "mcpgateway.server_name"

// shutdownTimeout bounds the drain of in-flight requests when ListenAndServe
// stops because its context was cancelled.
const shutdownTimeout = 10 * time.Second

// Gateway exposes a Streamable MCP server that fronts every server managed by
// an mcpconn.ConnectionManager under a single HTTP endpoint.
type Gateway struct {
	manager *mcpconn.ConnectionManager
	opts    Options

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	httpHandler   http.Handler

	serverMu   sync.Mutex
	advertised map[string]struct{}

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway and publishes the manager's current qualified
// catalog.
func NewGateway(mgr *mcpconn.ConnectionManager, opts *Options) (*Gateway, error) {
	if mgr == nil {
		return nil, fmt.Errorf("mcpgateway: manager is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		manager:    mgr,
		opts:       options,
		advertised: make(map[string]struct{}),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	g.Sync(context.Background())
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// Options returns the effective gateway options.
func (g *Gateway) Options() Options {
	return g.opts
}

// Sync rebuilds the advertised tool set from the manager's current qualified
// catalog. Like the manager's own refresh, it is a wholesale replacement, so
// renamed and removed upstream tools disappear downstream as well.
func (g *Gateway) Sync(ctx context.Context) {
	ctx, cancel := g.syncContext(ctx)
	defer cancel()
	g.manager.RefreshTools(ctx)
	catalog := g.manager.ListAllToolsWithServerNames()

	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	if len(g.advertised) > 0 {
		stale := make([]string, 0, len(g.advertised))
		for name := range g.advertised {
			stale = append(stale, name)
		}
		g.server.RemoveTools(stale...)
	}
	advertised := make(map[string]struct{}, len(catalog))
	for _, entry := range catalog {
		g.server.AddTool(cloneTool(entry), g.makeToolHandler(entry.ServerName, entry.Tool.Name))
		advertised[entry.QualifiedName] = struct{}{}
	}
	g.advertised = advertised
	g.opts.Logger.Info("synced gateway tool catalog", "tools", len(advertised))
}

// ListenAndServe runs an HTTP server until the provided context is cancelled
// or the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		srv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		g.opts.Logger.Error("gateway server stopped", "addr", srv.Addr, "error", err)
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (g *Gateway) makeToolHandler(serverName, toolName string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := any(nil)
		if req.Params != nil {
			args = req.Params.Arguments
		}
		return g.manager.CallTool(ctx, serverName, toolName, args, 0)
	}
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.streamHandler)
	}

	return cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(mux)
}

func (g *Gateway) syncContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if g.opts.SyncTimeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, g.opts.SyncTimeout)
}

func cloneTool(entry mcpconn.QualifiedTool) *mcp.Tool {
	clone := *entry.Tool
	clone.Name = entry.QualifiedName
	meta := maps.Clone(entry.Tool.Meta)
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[metaKeyServerName] = entry.ServerName
	clone.Meta = meta
	return &clone
}
