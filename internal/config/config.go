// Package config handles mcpbridge configuration loading and the
// machine-written reconciliation state file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./mcpbridge.yaml, ~/.config/mcpbridge/mcpbridge.yaml,
// /etc/mcpbridge/mcpbridge.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"mcpbridge.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpbridge", "mcpbridge.yaml"))
	}

	paths = append(paths, "/etc/mcpbridge/mcpbridge.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mcpbridge configuration.
type Config struct {
	// Servers maps server references to their connection settings.
	Servers map[string]ServerConfig `yaml:"servers"`

	// Registry configures the projected-tool registry backing.
	Registry RegistryConfig `yaml:"registry"`

	// StateFile is where the reconciler records which projected tool
	// ids belong to each server. Machine-written; kept separate from
	// this file so user configuration is never rewritten by the
	// program. Defaults to state.yaml next to the config file.
	StateFile string `yaml:"state_file"`

	LogLevel string `yaml:"log_level"`

	// path is where this config was loaded from, for resolving
	// relative defaults. Not part of the file format.
	path string
}

// ServerConfig defines one remote MCP server connection.
type ServerConfig struct {
	// URL is the MCP endpoint (JSON-RPC over HTTP POST).
	URL string `yaml:"url"`

	// Token, when set, is sent as a bearer Authorization header.
	// Supports ${VAR} expansion so secrets can live in the environment.
	Token string `yaml:"token"`

	// Headers are extra HTTP headers for this server.
	Headers map[string]string `yaml:"headers"`

	// InsecureSkipTLS disables certificate verification for this
	// endpoint only. For local/development servers.
	InsecureSkipTLS bool `yaml:"insecure_skip_tls"`

	// Capabilities is the user's selection: which of the server's
	// tools should exist as projected tools in the local registry.
	Capabilities []string `yaml:"capabilities"`
}

// RegistryConfig selects the projected-tool registry backing.
type RegistryConfig struct {
	// Path is the SQLite database file. Empty means an in-memory
	// registry whose contents do not survive the process.
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{path: path}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Server looks up one server's settings by reference.
func (c *Config) Server(name string) (ServerConfig, error) {
	sc, ok := c.Servers[name]
	if !ok {
		return ServerConfig{}, fmt.Errorf("server %q not configured", name)
	}
	if sc.URL == "" {
		return ServerConfig{}, fmt.Errorf("server %q has no url", name)
	}
	return sc, nil
}

// ServerNames returns the configured server references.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	return names
}

// StatePath resolves the reconciliation state file location: the
// configured state_file if set, otherwise state.yaml beside the config
// file.
func (c *Config) StatePath() string {
	if c.StateFile != "" {
		return c.StateFile
	}
	if c.path != "" {
		return filepath.Join(filepath.Dir(c.path), "state.yaml")
	}
	return "state.yaml"
}
