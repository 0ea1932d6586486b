package mcpconn

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientAdapter is the uniform call surface over one live server connection.
// The MCP initialize handshake happens during construction; every later
// operation takes an explicit timeout (zero means unbounded). Shutdown is
// best-effort and never fails the caller.
type ClientAdapter interface {
	ListTools(ctx context.Context, cursor string, timeout time.Duration) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, name string, args any, timeout time.Duration) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, cursor string, timeout time.Duration) (*mcp.ListResourcesResult, error)
	ListResourceTemplates(ctx context.Context, cursor string, timeout time.Duration) (*mcp.ListResourceTemplatesResult, error)
	Shutdown()
}

// sdkClient adapts an MCP SDK client session to the ClientAdapter surface.
type sdkClient struct {
	client  *mcp.Client
	session *mcp.ClientSession
}

// newSDKClient is the default ClientFactory: it builds the transport declared
// by cfg, dials it, and completes the initialize handshake within the
// server's startup timeout.
func newSDKClient(ctx context.Context, serverName string, cfg ServerConfig, opts *ManagerOptions) (ClientAdapter, error) {
	impl := &mcp.Implementation{Name: opts.ClientName, Version: opts.ClientVersion}

	switch transport := cfg.Transport.(type) {
	case *StdioTransportConfig:
		adapter, err := connectAdapter(ctx, impl, buildCommandTransport(transport), cfg.startupTimeout())
		if err != nil {
			if len(transport.Args) > 0 {
				return nil, fmt.Errorf("failed to spawn MCP server `%s` using command `%s` with args %v: %w",
					serverName, transport.Command, transport.Args, err)
			}
			return nil, fmt.Errorf("failed to spawn MCP server `%s` using command `%s`: %w",
				serverName, transport.Command, err)
		}
		return adapter, nil
	case *StreamableHTTPTransportConfig:
		streamable, err := buildStreamableTransport(serverName, transport)
		if err != nil {
			return nil, err
		}
		adapter, err := connectAdapter(ctx, impl, streamable, cfg.startupTimeout())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MCP server `%s` at %s: %w", serverName, transport.URL, err)
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("mcpconn: missing or unsupported transport for `%s`", serverName)
	}
}

func connectAdapter(ctx context.Context, impl *mcp.Implementation, transport mcp.Transport, timeout time.Duration) (*sdkClient, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	client := mcp.NewClient(impl, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &sdkClient{client: client, session: session}, nil
}

func buildCommandTransport(cfg *StdioTransportConfig) mcp.Transport {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}
}

func buildStreamableTransport(serverName string, cfg *StreamableHTTPTransportConfig) (mcp.Transport, error) {
	token, err := resolveBearerToken(serverName, cfg)
	if err != nil {
		return nil, err
	}
	headers := make(http.Header)
	for name, value := range cfg.HTTPHeaders {
		headers.Set(name, value)
	}
	for name, envVar := range cfg.EnvHTTPHeaders {
		if value, ok := os.LookupEnv(envVar); ok && value != "" {
			headers.Set(name, value)
		}
	}
	return &mcp.StreamableClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: decorateHTTPClient(cfg.HTTPClient, headers, token, cfg.TokenSource),
		MaxRetries: cfg.MaxRetries,
	}, nil
}

// resolveBearerToken returns the literal bearer token, or resolves the
// configured environment-variable indirection. Resolution failures are
// user-facing configuration errors and must name both the server and the
// variable.
func resolveBearerToken(serverName string, cfg *StreamableHTTPTransportConfig) (string, error) {
	if cfg.BearerTokenEnvVar == "" {
		return cfg.BearerToken, nil
	}
	value, ok := os.LookupEnv(cfg.BearerTokenEnvVar)
	if !ok {
		return "", fmt.Errorf("environment variable %s for MCP server '%s' is not set",
			cfg.BearerTokenEnvVar, serverName)
	}
	if value == "" {
		return "", fmt.Errorf("environment variable %s for MCP server '%s' is empty",
			cfg.BearerTokenEnvVar, serverName)
	}
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("environment variable %s for MCP server '%s' contains invalid Unicode",
			cfg.BearerTokenEnvVar, serverName)
	}
	return value, nil
}

func (c *sdkClient) ListTools(ctx context.Context, cursor string, timeout time.Duration) (*mcp.ListToolsResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	var params *mcp.ListToolsParams
	if cursor != "" {
		params = &mcp.ListToolsParams{Cursor: cursor}
	}
	return c.session.ListTools(ctx, params)
}

func (c *sdkClient) CallTool(ctx context.Context, name string, args any, timeout time.Duration) (*mcp.CallToolResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return c.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func (c *sdkClient) ListResources(ctx context.Context, cursor string, timeout time.Duration) (*mcp.ListResourcesResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	var params *mcp.ListResourcesParams
	if cursor != "" {
		params = &mcp.ListResourcesParams{Cursor: cursor}
	}
	return c.session.ListResources(ctx, params)
}

func (c *sdkClient) ListResourceTemplates(ctx context.Context, cursor string, timeout time.Duration) (*mcp.ListResourceTemplatesResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	var params *mcp.ListResourceTemplatesParams
	if cursor != "" {
		params = &mcp.ListResourceTemplatesParams{Cursor: cursor}
	}
	return c.session.ListResourceTemplates(ctx, params)
}

func (c *sdkClient) Shutdown() {
	_ = c.session.Close()
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
