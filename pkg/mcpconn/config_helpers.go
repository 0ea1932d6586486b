package mcpconn

// Lightweight helpers for narrowing and inspecting TransportConfig values
// without forcing consumers to use a type switch at every call site.

// TransportKind identifies the transport family used by a TransportConfig.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportStreamableHTTP TransportKind = "streamable_http"
)

// KindOf returns the transport kind for a TransportConfig.
// Returns an empty string when the value is nil or an unknown implementation.
func KindOf(cfg TransportConfig) TransportKind {
	switch cfg.(type) {
	case *StdioTransportConfig:
		return TransportStdio
	case *StreamableHTTPTransportConfig:
		return TransportStreamableHTTP
	default:
		return ""
	}
}

// IsStdio reports whether cfg is a *StdioTransportConfig.
func IsStdio(cfg TransportConfig) bool {
	_, ok := cfg.(*StdioTransportConfig)
	return ok
}

// IsStreamableHTTP reports whether cfg is a *StreamableHTTPTransportConfig.
func IsStreamableHTTP(cfg TransportConfig) bool {
	_, ok := cfg.(*StreamableHTTPTransportConfig)
	return ok
}

// AsStdio narrows cfg to *StdioTransportConfig, returning (nil, false) when
// it does not match.
func AsStdio(cfg TransportConfig) (*StdioTransportConfig, bool) {
	c, ok := cfg.(*StdioTransportConfig)
	return c, ok
}

// AsStreamableHTTP narrows cfg to *StreamableHTTPTransportConfig, returning
// (nil, false) when it does not match.
func AsStreamableHTTP(cfg TransportConfig) (*StreamableHTTPTransportConfig, bool) {
	c, ok := cfg.(*StreamableHTTPTransportConfig)
	return c, ok
}
