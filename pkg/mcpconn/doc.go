// Package mcpconn manages the pool of Model Context Protocol (MCP) tool
// servers an agent session depends on. It starts every configured server
// concurrently (stdio child processes or streamable HTTP endpoints),
// aggregates their tool catalogs into a single collision-free namespace, and
// keeps running when individual servers misbehave: a server that fails to
// start or list tools is recorded as a per-server failure instead of aborting
// the rest of the pool.
//
// # Core entry points
//
//   - NewConnectionManager starts all configured servers and returns the
//     manager alongside a map of per-server startup failures.
//   - ServerConfig (with the StdioTransportConfig / StreamableHTTPTransportConfig
//     variants) declares how each server is launched or contacted.
//   - ConnectionManager.CallTool invokes a tool by its native (server, tool)
//     pair; ParseToolName maps a qualified catalog name back to that pair.
//   - EnsureServerStarted adds a server mid-session; ShutdownAll tears the
//     whole pool down on reconfiguration.
//
// Qualified tool names follow "<server>__<tool>", sanitized to
// [A-Za-z0-9_-] and capped at 64 characters; overflowing or colliding names
// receive a deterministic SHA-1 suffix so repeated aggregation passes never
// rename a tool mid-session.
package mcpconn
