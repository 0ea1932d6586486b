package mcpconn

import (
	"bytes"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTool(serverName, toolName string) ToolInfo {
	return ToolInfo{
		ServerName: serverName,
		ToolName:   toolName,
		Tool: &mcp.Tool{
			Name:        toolName,
			Description: "Test tool: " + toolName,
			InputSchema: &jsonschema.Schema{Type: "object"},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQualifyToolsShortNonDuplicatedNames(t *testing.T) {
	t.Parallel()

	qualified := qualifyTools([]ToolInfo{
		testTool("server1", "tool1"),
		testTool("server1", "tool2"),
	}, discardLogger())

	require.Len(t, qualified, 2)
	assert.Contains(t, qualified, "server1__tool1")
	assert.Contains(t, qualified, "server1__tool2")
}

func TestQualifyToolsDuplicatedNamesSkipped(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	qualified := qualifyTools([]ToolInfo{
		testTool("server1", "duplicate_tool"),
		testTool("server1", "duplicate_tool"),
	}, logger)

	// Only the first tool remains; the second is dropped with a warning.
	require.Len(t, qualified, 1)
	assert.Contains(t, qualified, "server1__duplicate_tool")
	assert.Contains(t, buf.String(), "skipping duplicated tool")
}

func TestQualifyToolsLongNamesSameServer(t *testing.T) {
	t.Parallel()

	qualified := qualifyTools([]ToolInfo{
		testTool("my_server", "extremely_lengthy_function_name_that_absolutely_surpasses_all_reasonable_limits"),
		testTool("my_server", "yet_another_extremely_lengthy_function_name_that_absolutely_surpasses_all_reasonable_limits"),
	}, discardLogger())

	require.Len(t, qualified, 2)

	keys := make([]string, 0, len(qualified))
	for key := range qualified {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	assert.Len(t, keys[0], 64)
	assert.Equal(t, "my_server__extremely_lena02e507efc5a9de88637e436690364fd4219e4ef", keys[0])
	assert.Len(t, keys[1], 64)
	assert.Equal(t, "my_server__yet_another_e1c3987bd9c50b826cbe1687966f79f0c602d19ca", keys[1])
}

func TestQualifyToolsSanitizesInvalidCharacters(t *testing.T) {
	t.Parallel()

	qualified := qualifyTools([]ToolInfo{testTool("server.one", "tool.two")}, discardLogger())

	require.Len(t, qualified, 1)
	info, ok := qualified["server_one__tool_two"]
	require.True(t, ok, "expected sanitized key, got %v", qualified)

	// The key is sanitized for the model, but the original parts are kept
	// for the actual MCP call.
	assert.Equal(t, "server.one", info.ServerName)
	assert.Equal(t, "tool.two", info.ToolName)
}

func TestQualifyToolsCollisionDisambiguated(t *testing.T) {
	t.Parallel()

	// Distinct raw names that sanitize to the same pretty name must not
	// collapse to one entry.
	qualified := qualifyTools([]ToolInfo{
		testTool("foo.bar", "run"),
		testTool("foo_bar", "run"),
	}, discardLogger())

	require.Len(t, qualified, 2)
	namePattern := regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	for key := range qualified {
		assert.Regexp(t, namePattern, key)
	}
}

func TestQualifyToolsDeterministic(t *testing.T) {
	t.Parallel()

	tools := []ToolInfo{
		testTool("server1", "tool1"),
		testTool("server.one", "tool.two"),
		testTool("my_server", "extremely_lengthy_function_name_that_absolutely_surpasses_all_reasonable_limits"),
	}

	first := qualifyTools(tools, discardLogger())
	second := qualifyTools(tools, discardLogger())

	require.Len(t, second, len(first))
	for key := range first {
		assert.Contains(t, second, key)
	}
}
