package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mattnowzari/mcpbridge/internal/schema"
)

// projectionNamespace is the fixed UUID namespace for deriving projected
// tool ids. It must never change: LocalID is the join key between a
// user's selection and what exists in the registry across runs.
var projectionNamespace = uuid.MustParse("f3b5a2d4-9c1e-4b7a-8d2f-6e0c4a9b1d37")

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// ProjectedTool is a local registry entry representing one remote
// capability, addressable independently of the underlying connection.
type ProjectedTool struct {
	// LocalID is deterministically derived from (Server, Capability).
	LocalID string `json:"local_id"`

	// Server is the server reference the capability lives on.
	Server string `json:"server"`

	// Capability is the remote tool name as the server declares it.
	Capability string `json:"capability"`

	// Name is the sanitized, namespaced display name.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Schema is the locally enforceable validator derived from the
	// capability's declared input schema.
	Schema *schema.Validator `json:"schema,omitempty"`
}

// LocalID derives the stable registry id for a (server, capability)
// pair. The NUL separator keeps ("ab","c") and ("a","bc") distinct.
func LocalID(server, capability string) string {
	return uuid.NewSHA1(projectionNamespace, []byte(server+"\x00"+capability)).String()
}

// ToolName generates the namespaced display name for a projected tool.
// Both components are sanitized to lowercase alphanumerics and
// underscores so the result is safe wherever tool identifiers end up
// (prompts, CLIs, registries with naming rules).
func ToolName(server, capability string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(server), sanitize(capability))
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "-", "_")
	s = sanitizeRe.ReplaceAllString(s, "_")

	// Collapse consecutive underscores.
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}
