package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mattnowzari/mcpbridge/internal/reconcile"
	"github.com/mattnowzari/mcpbridge/internal/schema"
)

// SQLite is a durable projected-tool registry backed by SQLite.
// Validators are stored as JSON alongside the tool row.
type SQLite struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-backed registry, running migrations on
// first use. The caller owns the database handle.
func NewSQLite(db *sql.DB) (*SQLite, error) {
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate registry: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS projected_tools (
			local_id    TEXT PRIMARY KEY,
			server      TEXT NOT NULL,
			capability  TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT,
			schema_json TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_projected_tools_server ON projected_tools(server);
	`)
	return err
}

// List returns the projected tools owned by a server, ordered by
// capability name. An empty server lists everything.
func (s *SQLite) List(ctx context.Context, server string) ([]reconcile.ProjectedTool, error) {
	query := `SELECT local_id, server, capability, name, description, schema_json
	          FROM projected_tools`
	args := []any{}
	if server != "" {
		query += ` WHERE server = ?`
		args = append(args, server)
	}
	query += ` ORDER BY server, capability`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projected tools: %w", err)
	}
	defer rows.Close()

	var out []reconcile.ProjectedTool
	for rows.Next() {
		var (
			pt         reconcile.ProjectedTool
			desc       sql.NullString
			schemaJSON sql.NullString
		)
		if err := rows.Scan(&pt.LocalID, &pt.Server, &pt.Capability, &pt.Name, &desc, &schemaJSON); err != nil {
			return nil, fmt.Errorf("scan projected tool: %w", err)
		}
		pt.Description = desc.String
		if schemaJSON.Valid && schemaJSON.String != "" {
			var v schema.Validator
			if err := json.Unmarshal([]byte(schemaJSON.String), &v); err != nil {
				return nil, fmt.Errorf("decode schema for %s: %w", pt.LocalID, err)
			}
			pt.Schema = &v
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// Create inserts a projected tool. A duplicate LocalID is silently
// ignored so repeated reconciliations are idempotent.
func (s *SQLite) Create(ctx context.Context, tool reconcile.ProjectedTool) error {
	var schemaJSON any
	if tool.Schema != nil {
		data, err := json.Marshal(tool.Schema)
		if err != nil {
			return fmt.Errorf("encode schema for %s: %w", tool.LocalID, err)
		}
		schemaJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO projected_tools
		 (local_id, server, capability, name, description, schema_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tool.LocalID, tool.Server, tool.Capability, tool.Name, tool.Description,
		schemaJSON, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("create projected tool %s: %w", tool.LocalID, err)
	}
	return nil
}

// Delete removes a projected tool by id. Unknown ids are a no-op.
func (s *SQLite) Delete(ctx context.Context, localID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM projected_tools WHERE local_id = ?`, localID,
	)
	if err != nil {
		return fmt.Errorf("delete projected tool %s: %w", localID, err)
	}
	return nil
}
