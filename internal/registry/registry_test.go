package registry

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/mattnowzari/mcpbridge/internal/reconcile"
	"github.com/mattnowzari/mcpbridge/internal/schema"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	return s
}

func tool(server, capability string) reconcile.ProjectedTool {
	return reconcile.ProjectedTool{
		LocalID:     reconcile.LocalID(server, capability),
		Server:      server,
		Capability:  capability,
		Name:        reconcile.ToolName(server, capability),
		Description: "does " + capability,
	}
}

// Both implementations must satisfy the same contract; run every case
// against each.
func forEachRegistry(t *testing.T, fn func(t *testing.T, reg reconcile.Registry)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLite(t)) })
}

func TestRegistry_CreateListDelete(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, reg reconcile.Registry) {
		ctx := context.Background()

		if err := reg.Create(ctx, tool("srv", "search")); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := reg.Create(ctx, tool("srv", "fetch")); err != nil {
			t.Fatalf("create: %v", err)
		}

		tools, err := reg.List(ctx, "srv")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(tools) != 2 {
			t.Fatalf("got %d tools, want 2", len(tools))
		}
		// Ordered by capability.
		if tools[0].Capability != "fetch" || tools[1].Capability != "search" {
			t.Errorf("order = %q, %q", tools[0].Capability, tools[1].Capability)
		}
		if tools[1].Name != "mcp_srv_search" {
			t.Errorf("name = %q", tools[1].Name)
		}
		if tools[1].Description != "does search" {
			t.Errorf("description = %q", tools[1].Description)
		}

		if err := reg.Delete(ctx, reconcile.LocalID("srv", "fetch")); err != nil {
			t.Fatalf("delete: %v", err)
		}
		tools, err = reg.List(ctx, "srv")
		if err != nil {
			t.Fatal(err)
		}
		if len(tools) != 1 || tools[0].Capability != "search" {
			t.Errorf("after delete: %+v", tools)
		}
	})
}

func TestRegistry_DuplicateCreateIgnored(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, reg reconcile.Registry) {
		ctx := context.Background()

		first := tool("srv", "search")
		first.Description = "original"
		if err := reg.Create(ctx, first); err != nil {
			t.Fatal(err)
		}

		dup := tool("srv", "search")
		dup.Description = "replacement"
		if err := reg.Create(ctx, dup); err != nil {
			t.Fatalf("duplicate create must not error: %v", err)
		}

		tools, err := reg.List(ctx, "srv")
		if err != nil {
			t.Fatal(err)
		}
		if len(tools) != 1 {
			t.Fatalf("got %d tools, want 1", len(tools))
		}
		if tools[0].Description != "original" {
			t.Errorf("duplicate create replaced the row: %q", tools[0].Description)
		}
	})
}

func TestRegistry_DeleteUnknownIsNoop(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, reg reconcile.Registry) {
		if err := reg.Delete(context.Background(), "no-such-id"); err != nil {
			t.Errorf("delete of unknown id: %v", err)
		}
	})
}

func TestRegistry_ListScopedByServer(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, reg reconcile.Registry) {
		ctx := context.Background()
		for _, pt := range []reconcile.ProjectedTool{
			tool("alpha", "search"),
			tool("alpha", "fetch"),
			tool("beta", "search"),
		} {
			if err := reg.Create(ctx, pt); err != nil {
				t.Fatal(err)
			}
		}

		alpha, err := reg.List(ctx, "alpha")
		if err != nil {
			t.Fatal(err)
		}
		if len(alpha) != 2 {
			t.Errorf("alpha tools = %d, want 2", len(alpha))
		}
		for _, pt := range alpha {
			if pt.Server != "alpha" {
				t.Errorf("foreign tool in scoped list: %+v", pt)
			}
		}

		all, err := reg.List(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 3 {
			t.Errorf("all tools = %d, want 3", len(all))
		}
		// Ordered by server, then capability.
		if all[0].Server != "alpha" || all[2].Server != "beta" {
			t.Errorf("order: %s, %s, %s", all[0].Server, all[1].Server, all[2].Server)
		}
	})
}

func TestRegistry_SchemaSurvivesStorage(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, reg reconcile.Registry) {
		ctx := context.Background()

		pt := tool("srv", "search")
		pt.Schema = schema.ToValidator(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "search terms"},
				"limit": map[string]any{"type": "integer"},
			},
			"required": []any{"query"},
		})
		if err := reg.Create(ctx, pt); err != nil {
			t.Fatal(err)
		}

		tools, err := reg.List(ctx, "srv")
		if err != nil {
			t.Fatal(err)
		}
		if len(tools) != 1 || tools[0].Schema == nil {
			t.Fatalf("schema lost: %+v", tools)
		}
		v := tools[0].Schema
		if err := v.Validate(map[string]any{"query": "go", "limit": 5}); err != nil {
			t.Errorf("valid args rejected: %v", err)
		}
		if err := v.Validate(map[string]any{"limit": 5}); err == nil {
			t.Error("required constraint lost across storage")
		}
		if err := v.Validate(map[string]any{"query": "go", "limit": 1.5}); err == nil {
			t.Error("integer constraint lost across storage")
		}
	})
}

func TestRegistry_NoSchemaStaysNil(t *testing.T) {
	forEachRegistry(t, func(t *testing.T, reg reconcile.Registry) {
		ctx := context.Background()
		if err := reg.Create(ctx, tool("srv", "ping")); err != nil {
			t.Fatal(err)
		}
		tools, err := reg.List(ctx, "srv")
		if err != nil {
			t.Fatal(err)
		}
		if tools[0].Schema != nil {
			t.Errorf("schema = %+v, want nil", tools[0].Schema)
		}
	})
}

func TestSQLite_MigrationIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	first, err := NewSQLite(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Create(context.Background(), tool("srv", "search")); err != nil {
		t.Fatal(err)
	}

	// Opening a second registry over the same handle must not disturb
	// existing rows.
	second, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	tools, err := second.List(context.Background(), "srv")
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 {
		t.Errorf("rows after re-migration = %d, want 1", len(tools))
	}
}
