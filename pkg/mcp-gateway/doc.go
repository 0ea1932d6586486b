// Package mcpgateway re-exposes the qualified tool catalog of an
// mcpconn.ConnectionManager as a single MCP server reachable over streamable
// HTTP. Downstream clients see one flat tool list whose names already carry
// the "<server>__<tool>" qualification; calls are forwarded to the
// originating upstream server through the manager.
package mcpgateway
