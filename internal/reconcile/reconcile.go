// Package reconcile keeps a local tool registry in sync with a user's
// capability selection for remote MCP servers.
//
// A reconciliation pass diffs the desired selection against the
// registry's current projected tools for one server and applies the
// minimal set of creates and deletes, then writes the resulting id list
// back through a config store. The write-back can itself trigger a save
// hook that calls back into Reconcile; a per-server in-flight guard
// turns that re-entrant call into a no-op instead of a storm.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattnowzari/mcpbridge/internal/mcp"
	"github.com/mattnowzari/mcpbridge/internal/schema"
)

// Registry is the host's tool registry port. Create must be
// create-if-absent: a duplicate LocalID is ignored, not an error, so
// repeated passes are idempotent.
type Registry interface {
	List(ctx context.Context, server string) ([]ProjectedTool, error)
	Create(ctx context.Context, tool ProjectedTool) error
	Delete(ctx context.Context, localID string) error
}

// ConfigStore is the host's configuration write-back port: the list of
// projected tool ids associated with each server.
type ConfigStore interface {
	AssociatedIDs(ctx context.Context, server string) ([]string, error)
	WriteAssociatedIDs(ctx context.Context, server string, ids []string) error
}

// Discoverer supplies ground truth about what a server currently
// exposes. Implemented by the execution bridge.
type Discoverer interface {
	Discover(ctx context.Context, server string) ([]mcp.ToolDefinition, error)
}

// Selection is the desired state for one server: which of its
// capabilities should exist as projected tools. Order is irrelevant.
type Selection struct {
	Server       string
	Capabilities []string
}

// Summary reports what one reconciliation pass did.
type Summary struct {
	// Skipped is true when another pass for the same server was
	// already in flight and this call did nothing.
	Skipped bool

	// Created and Deleted list capability names, in the order applied.
	Created []string
	Deleted []string

	// ConfigWritten is true when the associated-id list changed and
	// was written back.
	ConfigWritten bool
}

// ReconciliationError means a pass was aborted before mutating the
// registry, because discovery or the registry read failed. Without
// ground truth the reconciler never guesses at added or removed tools.
type ReconciliationError struct {
	Server string
	Err    error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.Server, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// Reconciler applies capability selections to a registry.
type Reconciler struct {
	discoverer Discoverer
	registry   Registry
	config     ConfigStore
	logger     *slog.Logger

	// inflight holds the servers with a pass currently running. The
	// guard is an atomic check-and-set, not a lock: a concurrent pass
	// for the same server no-ops rather than queueing.
	inflight sync.Map
}

// New creates a reconciler over the given ports.
func New(d Discoverer, r Registry, c ConfigStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		discoverer: d,
		registry:   r,
		config:     c,
		logger:     logger,
	}
}

// Reconcile makes the registry's projected tools for sel.Server match
// sel.Capabilities. Discovery failure aborts the pass with a
// *ReconciliationError and no mutations; individual create or delete
// failures are logged and skipped, never fatal to the batch.
func (r *Reconciler) Reconcile(ctx context.Context, sel Selection) (Summary, error) {
	if _, loaded := r.inflight.LoadOrStore(sel.Server, struct{}{}); loaded {
		r.logger.Debug("reconciliation already in flight, skipping", "server", sel.Server)
		return Summary{Skipped: true}, nil
	}
	defer r.inflight.Delete(sel.Server)

	logger := r.logger.With("server", sel.Server)

	discovered, err := r.discoverer.Discover(ctx, sel.Server)
	if err != nil {
		return Summary{}, &ReconciliationError{Server: sel.Server, Err: fmt.Errorf("discover capabilities: %w", err)}
	}
	byName := make(map[string]mcp.ToolDefinition, len(discovered))
	for _, td := range discovered {
		byName[td.Name] = td
	}

	existing, err := r.registry.List(ctx, sel.Server)
	if err != nil {
		return Summary{}, &ReconciliationError{Server: sel.Server, Err: fmt.Errorf("list projected tools: %w", err)}
	}
	existingByCap := make(map[string]ProjectedTool, len(existing))
	for _, pt := range existing {
		existingByCap[pt.Capability] = pt
	}

	selected := make(map[string]bool, len(sel.Capabilities))
	for _, name := range sel.Capabilities {
		selected[name] = true
	}

	// Lexicographic order keeps repeated passes reproducible.
	var toCreate, toDelete []string
	for name := range selected {
		if _, ok := existingByCap[name]; !ok {
			toCreate = append(toCreate, name)
		}
	}
	for name := range existingByCap {
		if !selected[name] {
			toDelete = append(toDelete, name)
		}
	}
	sort.Strings(toCreate)
	sort.Strings(toDelete)

	var summary Summary
	owned := make(map[string]bool, len(existing))
	for _, pt := range existing {
		owned[pt.LocalID] = true
	}

	// Deletes first, then creates. Each item is independently fallible.
	for _, name := range toDelete {
		pt := existingByCap[name]
		if err := r.registry.Delete(ctx, pt.LocalID); err != nil {
			logger.Warn("delete projected tool failed, skipping", "capability", name, "local_id", pt.LocalID, "error", err)
			continue
		}
		delete(owned, pt.LocalID)
		summary.Deleted = append(summary.Deleted, name)
	}

	for _, name := range toCreate {
		td, ok := byName[name]
		if !ok {
			logger.Warn("selected capability not exposed by server, skipping", "capability", name)
			continue
		}
		pt := ProjectedTool{
			LocalID:     LocalID(sel.Server, name),
			Server:      sel.Server,
			Capability:  name,
			Name:        ToolName(sel.Server, name),
			Description: td.Description,
			Schema:      schema.ToValidator(td.InputSchema),
		}
		if err := r.registry.Create(ctx, pt); err != nil {
			logger.Warn("create projected tool failed, skipping", "capability", name, "error", err)
			continue
		}
		owned[pt.LocalID] = true
		summary.Created = append(summary.Created, name)
	}

	// Write the owned-id list back only when it differs from what the
	// config already records; a redundant write would re-trigger the
	// save hook for nothing.
	ids := make([]string, 0, len(owned))
	for id := range owned {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	previous, err := r.config.AssociatedIDs(ctx, sel.Server)
	if err != nil {
		logger.Warn("read associated ids failed, writing unconditionally", "error", err)
		previous = nil
	}
	if !sameIDs(previous, ids) {
		if err := r.config.WriteAssociatedIDs(ctx, sel.Server, ids); err != nil {
			logger.Warn("write associated ids failed", "error", err)
		} else {
			summary.ConfigWritten = true
		}
	}

	logger.Info("reconciliation complete",
		"created", len(summary.Created),
		"deleted", len(summary.Deleted),
		"config_written", summary.ConfigWritten,
	)
	return summary, nil
}

// sameIDs compares two id lists as sets.
func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
