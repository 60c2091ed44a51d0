package sqlitestore

import (
	"database/sql"
	"fmt"
)

func migrate(db *sql.DB) error {
	stmts := []string{
		// Tree nodes; ancestors is the JSON closure list, parent first
		`CREATE TABLE IF NOT EXISTS nodes (
			id        TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL DEFAULT '',
			ancestors TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS nodes_parent_id ON nodes(parent_id)`,

		// One row per (node, ancestor) so descendant lookups hit an index
		`CREATE TABLE IF NOT EXISTS node_ancestors (
			node_id     TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
			ancestor_id TEXT NOT NULL,
			position    INTEGER NOT NULL,
			PRIMARY KEY (node_id, position)
		)`,
		`CREATE INDEX IF NOT EXISTS node_ancestors_ancestor_id ON node_ancestors(ancestor_id)`,

		// Explicit property assignments
		`CREATE TABLE IF NOT EXISTS assignments (
			node_id     TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			property    TEXT NOT NULL,
			metadata    TEXT NOT NULL DEFAULT 'null',
			PRIMARY KEY (node_id, entity_name, property)
		)`,
		`CREATE INDEX IF NOT EXISTS assignments_entity_property ON assignments(entity_name, property)`,
		`CREATE INDEX IF NOT EXISTS assignments_node_property ON assignments(node_id, property)`,
		`CREATE INDEX IF NOT EXISTS assignments_node_entity ON assignments(node_id, entity_name)`,

		// Materialized nearest definitions
		`CREATE TABLE IF NOT EXISTS materialized (
			node_id     TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			property    TEXT NOT NULL,
			distance    INTEGER NOT NULL,
			metadata    TEXT NOT NULL DEFAULT 'null',
			ancestors   TEXT NOT NULL DEFAULT '[]',
			PRIMARY KEY (node_id, entity_name, property)
		)`,
		`CREATE INDEX IF NOT EXISTS materialized_entity ON materialized(entity_name)`,
		`CREATE INDEX IF NOT EXISTS materialized_property ON materialized(property)`,
		`CREATE INDEX IF NOT EXISTS materialized_node_property ON materialized(node_id, property)`,
		`CREATE INDEX IF NOT EXISTS materialized_node_entity ON materialized(node_id, entity_name)`,
	}

	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", truncate(s, 60), err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
