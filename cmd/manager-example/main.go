package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agentruntime/mcp-connection-manager-go/pkg/mcpconn"
)

func main() {
	ctx := context.Background()

	manager, failures, err := mcpconn.NewConnectionManager(ctx, map[string]mcpconn.ServerConfig{
		"example-stdio": {
			Transport: &mcpconn.StdioTransportConfig{
				Command: "./my-mcp-server",
				Args:    []string{"--serve"},
			},
			StartupTimeout: 10 * time.Second,
		},
		"example-http": {
			Transport: &mcpconn.StreamableHTTPTransportConfig{
				URL:               "https://example.com/mcp",
				BearerTokenEnvVar: "EXAMPLE_MCP_TOKEN",
			},
			ToolTimeout: 30 * time.Second,
		},
	}, nil, &mcpconn.ManagerOptions{ClientName: "manager-example"})
	if err != nil {
		fmt.Printf("manager construction failed: %v\n", err)
		return
	}
	defer manager.ShutdownAll()

	for server, failure := range failures {
		fmt.Printf("server %s failed during %s: %s\n", server, failure.Phase, failure.Message)
	}

	statuses := manager.AuthStatuses()
	for qualified, tool := range manager.ListAllTools() {
		server, _, _ := manager.ParseToolName(qualified)
		fmt.Printf("%s (from %s, auth %s): %s\n", qualified, server, statuses[server], tool.Description)
	}
}
