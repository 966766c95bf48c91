// Package defaults provides the embedded example configuration for the
// mcpbridge init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
