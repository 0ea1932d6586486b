package mcpconn

import (
	"crypto/sha1"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Delimiter separating the server name from the tool name in a qualified
// tool name. Model-facing tool names must conform to ^[a-zA-Z0-9_-]+$, so
// the delimiter has to come from that character set.
const toolNameDelimiter = "__"

const maxToolNameLength = 64

// ToolInfo pairs one exposed tool with its originating server. ServerName and
// ToolName keep the original, unsanitized strings needed for the actual MCP
// call; only the qualified catalog key is sanitized.
type ToolInfo struct {
	ServerName string
	ToolName   string
	Tool       *mcp.Tool
}

// sanitizeToolName replaces every character outside [A-Za-z0-9_-] with '_'.
// Server and tool names are user-controlled, so the qualified name exposed to
// the model must be scrubbed.
func sanitizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range name {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// appendSHA1Suffix appends a deterministic SHA-1 suffix while keeping the
// name within the maximum length. The hash input is the raw (unsanitized)
// qualified name so the suffix stays stable even if sanitization rules
// change.
func appendSHA1Suffix(base, raw string) string {
	suffix := sha1Hex(raw)
	prefixLen := maxToolNameLength - len(suffix)
	if len(base) > prefixLen {
		base = base[:prefixLen]
	}
	return base + suffix
}

// qualifyTools maps each (server, tool) pair to a globally unique qualified
// name. The mapping is deterministic for a given input order: repeated
// aggregation passes must not spuriously rename tools mid-session.
func qualifyTools(tools []ToolInfo, logger *slog.Logger) map[string]ToolInfo {
	usedNames := make(map[string]struct{}, len(tools))
	seenRawNames := make(map[string]struct{}, len(tools))
	qualified := make(map[string]ToolInfo, len(tools))

	for _, tool := range tools {
		rawName := tool.ServerName + toolNameDelimiter + tool.ToolName
		if _, dup := seenRawNames[rawName]; dup {
			logger.Warn("skipping duplicated tool", "tool", rawName)
			continue
		}
		seenRawNames[rawName] = struct{}{}

		// Start from a "pretty" sanitized name, then deterministically
		// disambiguate on collisions by appending a hash of the raw
		// qualified name. This keeps tools like `foo.bar` and `foo_bar`
		// from collapsing to the same key.
		name := sanitizeToolName(rawName)
		if len(name) > maxToolNameLength {
			name = appendSHA1Suffix(name, rawName)
		}
		if _, taken := usedNames[name]; taken {
			disambiguated := appendSHA1Suffix(name, rawName)
			if _, stillTaken := usedNames[disambiguated]; stillTaken {
				logger.Warn("skipping duplicated tool", "tool", disambiguated)
				continue
			}
			name = disambiguated
		}

		usedNames[name] = struct{}{}
		qualified[name] = tool
	}

	return qualified
}
