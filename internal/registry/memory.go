// Package registry provides implementations of the reconciler's
// projected-tool registry port: an in-memory store for ephemeral use and
// a SQLite store for durable registries.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mattnowzari/mcpbridge/internal/reconcile"
)

// Memory is an in-memory projected-tool registry. Safe for concurrent
// use. Contents do not survive the process; useful for dry runs and
// tests.
type Memory struct {
	mu    sync.RWMutex
	tools map[string]reconcile.ProjectedTool // keyed by LocalID
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{tools: make(map[string]reconcile.ProjectedTool)}
}

// List returns the projected tools owned by a server, ordered by
// capability name. An empty server lists everything.
func (m *Memory) List(_ context.Context, server string) ([]reconcile.ProjectedTool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []reconcile.ProjectedTool
	for _, pt := range m.tools {
		if server == "" || pt.Server == server {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Capability < out[j].Capability
	})
	return out, nil
}

// Create inserts a projected tool. A duplicate LocalID is silently
// ignored so repeated reconciliations are idempotent.
func (m *Memory) Create(_ context.Context, tool reconcile.ProjectedTool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tools[tool.LocalID]; exists {
		return nil
	}
	m.tools[tool.LocalID] = tool
	return nil
}

// Delete removes a projected tool by id. Unknown ids are a no-op.
func (m *Memory) Delete(_ context.Context, localID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tools, localID)
	return nil
}
