package mcpconn

import "os"

// AuthStatus describes how a server authenticates, derived from its stored
// transport configuration without any network I/O.
type AuthStatus string

const (
	// AuthStatusUnsupported applies to transports with no credential
	// surface; stdio servers always report it.
	AuthStatusUnsupported AuthStatus = "unsupported"
	// AuthStatusBearerToken means a usable bearer token is configured,
	// either literally or through a resolvable environment variable.
	AuthStatusBearerToken AuthStatus = "bearer_token"
	// AuthStatusOAuth means an OAuth token source is configured.
	AuthStatusOAuth AuthStatus = "oauth"
	// AuthStatusNotLoggedIn means the transport expects credentials that
	// are currently missing or unresolvable.
	AuthStatusNotLoggedIn AuthStatus = "not_logged_in"
)

// AuthStatuses reports the auth status of every configured server, including
// servers that failed to start (their transport config is still known).
func (m *ConnectionManager) AuthStatuses() map[string]AuthStatus {
	m.stateMu.RLock()
	transports := make(map[string]TransportConfig, len(m.transports))
	for name, transport := range m.transports {
		transports[name] = transport
	}
	m.stateMu.RUnlock()

	statuses := make(map[string]AuthStatus, len(transports))
	for name, transport := range transports {
		statuses[name] = authStatusOf(transport)
	}
	return statuses
}

func authStatusOf(transport TransportConfig) AuthStatus {
	cfg, ok := AsStreamableHTTP(transport)
	if !ok {
		return AuthStatusUnsupported
	}
	switch {
	case cfg.BearerTokenEnvVar != "":
		if value, set := os.LookupEnv(cfg.BearerTokenEnvVar); set && value != "" {
			return AuthStatusBearerToken
		}
		return AuthStatusNotLoggedIn
	case cfg.BearerToken != "":
		return AuthStatusBearerToken
	case cfg.TokenSource != nil:
		return AuthStatusOAuth
	default:
		return AuthStatusNotLoggedIn
	}
}
