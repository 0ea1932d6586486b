package mcpconn

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultStartupTimeout bounds server initialization and the first tool
// listing when a ServerConfig does not set its own limit.
const DefaultStartupTimeout = 10 * time.Second

// TransportConfig is implemented by all transport-specific configurations.
// The set of variants is closed: adding a transport means adding one variant
// and one adapter constructor, with no change to the manager itself.
type TransportConfig interface {
	transportConfig()
}

// StdioTransportConfig describes an MCP server launched as a child process
// speaking the protocol over its standard streams.
type StdioTransportConfig struct {
	Command string
	Args    []string
	// Env entries are appended to the inherited process environment.
	Env map[string]string
}

func (*StdioTransportConfig) transportConfig() {}

// StreamableHTTPTransportConfig describes an MCP server reachable over the
// streamable HTTP transport.
type StreamableHTTPTransportConfig struct {
	URL string

	// BearerToken is sent verbatim in the Authorization header. When
	// BearerTokenEnvVar is set it takes precedence and the token is read
	// from that environment variable at connection time.
	BearerToken       string
	BearerTokenEnvVar string

	// TokenSource supplies OAuth credentials when no bearer token is
	// configured.
	TokenSource oauth2.TokenSource

	// HTTPHeaders are set verbatim on every request. EnvHTTPHeaders map a
	// header name to an environment variable whose value is resolved at
	// connection time; unset variables leave the header out.
	HTTPHeaders    map[string]string
	EnvHTTPHeaders map[string]string

	// HTTPClient overrides the client used for requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	MaxRetries int
}

func (*StreamableHTTPTransportConfig) transportConfig() {}

// ServerConfig declares one managed server: its transport plus per-server
// timeout and tool-exclusion settings. Immutable once a client is built from
// it.
type ServerConfig struct {
	Transport TransportConfig

	// StartupTimeout bounds initialization and the initial tool listing.
	// Zero means DefaultStartupTimeout.
	StartupTimeout time.Duration

	// ToolTimeout bounds tool calls and resource listings for this server.
	// Zero means unbounded.
	ToolTimeout time.Duration

	// DisabledTools lists tool names on this server that must never be
	// exposed. They are folded into the manager's exclusion set before the
	// first listing.
	DisabledTools []string
}

func (c ServerConfig) startupTimeout() time.Duration {
	if c.StartupTimeout > 0 {
		return c.StartupTimeout
	}
	return DefaultStartupTimeout
}

// ClientFactory builds one live client adapter for a server. The default
// factory dials the configured transport via the MCP SDK; tests substitute
// deterministic fakes.
type ClientFactory func(ctx context.Context, serverName string, cfg ServerConfig, opts *ManagerOptions) (ClientAdapter, error)

// ManagerOptions configure a ConnectionManager instance.
type ManagerOptions struct {
	// ClientName and ClientVersion identify this client in the MCP
	// initialize handshake. Defaults: "mcp-connection-manager" / "1.0.0".
	ClientName    string
	ClientVersion string
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Factory overrides client construction.
	Factory ClientFactory
}

func (o *ManagerOptions) normalized() ManagerOptions {
	opts := ManagerOptions{}
	if o != nil {
		opts = *o
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcp-connection-manager"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Factory == nil {
		opts.Factory = newSDKClient
	}
	return opts
}
