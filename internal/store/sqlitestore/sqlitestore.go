// Package sqlitestore persists a forest in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lthms/hierprops/internal/hierarchy"
)

var _ hierarchy.Store = (*Store)(nil)

// Config holds store initialization parameters.
type Config struct {
	DBPath string // path to SQLite file
}

// Store is a hierarchy.Store backed by SQLite.
type Store struct {
	db    *sql.DB
	newID func() string
}

// Open opens (or creates) the database at the configured path.
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("sqlitestore: DBPath must not be empty")
	}

	dsn := cfg.DBPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection gives every call the writes of the calls before it.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return Wrap(db), nil
}

// Wrap uses an already migrated database handle.
func Wrap(db *sql.DB) *Store {
	return &Store{db: db, newID: uuid.NewString}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeIDs(raw string) ([]string, error) {
	ids := []string{}
	if raw == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func decodeMetadata(raw string) (hierarchy.Metadata, error) {
	var md hierarchy.Metadata
	if raw == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, err
	}
	return md, nil
}

// inClause renders "(?, ?, ...)" for ids.
func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

// where renders the WHERE clause selecting q.
func where(q hierarchy.Query) (string, []any) {
	var conds []string
	var args []any
	if q.NodeID != "" {
		conds = append(conds, "node_id = ?")
		args = append(args, q.NodeID)
	}
	if q.Entity != "" {
		conds = append(conds, "entity_name = ?")
		args = append(args, q.Entity)
	}
	if q.Property != "" {
		conds = append(conds, "property = ?")
		args = append(args, q.Property)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func writeAncestors(ctx context.Context, tx *sql.Tx, id string, ancestors []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM node_ancestors WHERE node_id = ?`, id); err != nil {
		return fmt.Errorf("clear ancestors: %w", err)
	}
	for i, a := range ancestors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_ancestors (node_id, ancestor_id, position) VALUES (?, ?, ?)`,
			id, a, i,
		); err != nil {
			return fmt.Errorf("insert ancestor: %w", err)
		}
	}
	return nil
}

// InsertNode creates a node row and its closure rows in one transaction.
func (s *Store) InsertNode(ctx context.Context, parentID string, ancestors []string) (string, error) {
	id := s.newID()
	if id == "" {
		return "", fmt.Errorf("insert node: no id allocated")
	}
	raw, err := encodeJSON(nonNil(ancestors))
	if err != nil {
		return "", fmt.Errorf("encode ancestors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (id, parent_id, ancestors) VALUES (?, ?, ?)`,
		id, parentID, raw,
	); err != nil {
		return "", fmt.Errorf("insert node: %w", err)
	}
	if err := writeAncestors(ctx, tx, id, ancestors); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func scanNode(sc interface{ Scan(...any) error }) (*hierarchy.Node, error) {
	var n hierarchy.Node
	var raw string
	if err := sc.Scan(&n.ID, &n.ParentID, &raw); err != nil {
		return nil, err
	}
	ancestors, err := decodeIDs(raw)
	if err != nil {
		return nil, fmt.Errorf("decode ancestors of %s: %w", n.ID, err)
	}
	n.Ancestors = ancestors
	return &n, nil
}

// Node retrieves a node by id.
func (s *Store) Node(ctx context.Context, id string) (*hierarchy.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, parent_id, ancestors FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, hierarchy.ErrNodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return n, nil
}

func (s *Store) queryNodes(ctx context.Context, query string, args ...any) ([]*hierarchy.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*hierarchy.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

// Children returns the nodes whose parent is id.
func (s *Store) Children(ctx context.Context, id string) ([]*hierarchy.Node, error) {
	nodes, err := s.queryNodes(ctx,
		`SELECT id, parent_id, ancestors FROM nodes WHERE parent_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", id, err)
	}
	return nodes, nil
}

// Descendants returns every node with id in its closure list.
func (s *Store) Descendants(ctx context.Context, id string) ([]*hierarchy.Node, error) {
	nodes, err := s.queryNodes(ctx,
		`SELECT n.id, n.parent_id, n.ancestors FROM nodes n
		 JOIN node_ancestors na ON na.node_id = n.id
		 WHERE na.ancestor_id = ?
		 ORDER BY n.id`, id)
	if err != nil {
		return nil, fmt.Errorf("descendants of %s: %w", id, err)
	}
	return nodes, nil
}

// Roots returns every parentless node.
func (s *Store) Roots(ctx context.Context) ([]*hierarchy.Node, error) {
	nodes, err := s.queryNodes(ctx,
		`SELECT id, parent_id, ancestors FROM nodes WHERE parent_id = '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("roots: %w", err)
	}
	return nodes, nil
}

// SetParentAndAncestors rewrites a node's parent and closure list.
func (s *Store) SetParentAndAncestors(ctx context.Context, id, parentID string, ancestors []string) error {
	raw, err := encodeJSON(nonNil(ancestors))
	if err != nil {
		return fmt.Errorf("encode ancestors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE nodes SET parent_id = ?, ancestors = ? WHERE id = ?`, parentID, raw, id)
	if err != nil {
		return fmt.Errorf("update node %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("node %s: %w", id, hierarchy.ErrNodeNotFound)
	}
	if err := writeAncestors(ctx, tx, id, ancestors); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteNodes removes node rows and their closure rows.
func (s *Store) DeleteNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_ancestors WHERE node_id IN `+in, args...); err != nil {
		return fmt.Errorf("delete closure rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id IN `+in, args...); err != nil {
		return fmt.Errorf("delete nodes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Assignment looks up one explicit assignment.
func (s *Store) Assignment(ctx context.Context, key hierarchy.Key) (hierarchy.Assignment, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM assignments WHERE node_id = ? AND entity_name = ? AND property = ?`,
		key.NodeID, key.Entity, key.Property,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return hierarchy.Assignment{}, false, nil
	}
	if err != nil {
		return hierarchy.Assignment{}, false, fmt.Errorf("get assignment: %w", err)
	}
	md, err := decodeMetadata(raw)
	if err != nil {
		return hierarchy.Assignment{}, false, fmt.Errorf("decode metadata: %w", err)
	}
	return hierarchy.Assignment{Key: key, Metadata: md}, true, nil
}

// InsertAssignment stores a new assignment. An existing one is a constraint error.
func (s *Store) InsertAssignment(ctx context.Context, a hierarchy.Assignment) error {
	raw, err := encodeJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assignments (node_id, entity_name, property, metadata) VALUES (?, ?, ?, ?)`,
		a.NodeID, a.Entity, a.Property, raw,
	)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// DeleteAssignment removes one assignment.
func (s *Store) DeleteAssignment(ctx context.Context, key hierarchy.Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM assignments WHERE node_id = ? AND entity_name = ? AND property = ?`,
		key.NodeID, key.Entity, key.Property,
	)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

// FindAssignments returns the assignments matching q.
func (s *Store) FindAssignments(ctx context.Context, q hierarchy.Query) ([]hierarchy.Assignment, error) {
	clause, args := where(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, entity_name, property, metadata FROM assignments`+clause+
			` ORDER BY node_id, entity_name, property`, args...)
	if err != nil {
		return nil, fmt.Errorf("find assignments: %w", err)
	}
	defer rows.Close()

	var out []hierarchy.Assignment
	for rows.Next() {
		var a hierarchy.Assignment
		var raw string
		if err := rows.Scan(&a.NodeID, &a.Entity, &a.Property, &raw); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if a.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return out, nil
}

// DeleteAssignmentsAt removes every assignment held by the given nodes.
func (s *Store) DeleteAssignmentsAt(ctx context.Context, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	in, args := inClause(nodeIDs)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM assignments WHERE node_id IN `+in, args...); err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	return nil
}

func scanEntry(sc interface{ Scan(...any) error }) (hierarchy.Entry, error) {
	var e hierarchy.Entry
	var rawMeta, rawAncestors string
	if err := sc.Scan(&e.NodeID, &e.Entity, &e.Property, &e.Distance, &rawMeta, &rawAncestors); err != nil {
		return e, err
	}
	var err error
	if e.Metadata, err = decodeMetadata(rawMeta); err != nil {
		return e, fmt.Errorf("decode metadata: %w", err)
	}
	if e.Ancestors, err = decodeIDs(rawAncestors); err != nil {
		return e, fmt.Errorf("decode ancestors: %w", err)
	}
	return e, nil
}

// Entry looks up one materialized entry.
func (s *Store) Entry(ctx context.Context, key hierarchy.Key) (hierarchy.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node_id, entity_name, property, distance, metadata, ancestors
		 FROM materialized WHERE node_id = ? AND entity_name = ? AND property = ?`,
		key.NodeID, key.Entity, key.Property,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hierarchy.Entry{}, false, nil
	}
	if err != nil {
		return hierarchy.Entry{}, false, fmt.Errorf("get entry: %w", err)
	}
	return e, true, nil
}

// UpsertEntry inserts or replaces an entry.
func (s *Store) UpsertEntry(ctx context.Context, e hierarchy.Entry) error {
	rawMeta, err := encodeJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	rawAncestors, err := encodeJSON(nonNil(e.Ancestors))
	if err != nil {
		return fmt.Errorf("encode ancestors: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO materialized (node_id, entity_name, property, distance, metadata, ancestors)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id, entity_name, property) DO UPDATE SET
		   distance = excluded.distance,
		   metadata = excluded.metadata,
		   ancestors = excluded.ancestors`,
		e.NodeID, e.Entity, e.Property, e.Distance, rawMeta, rawAncestors,
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

// DeleteEntry removes one entry.
func (s *Store) DeleteEntry(ctx context.Context, key hierarchy.Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM materialized WHERE node_id = ? AND entity_name = ? AND property = ?`,
		key.NodeID, key.Entity, key.Property,
	)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// FindEntries returns the entries matching q.
func (s *Store) FindEntries(ctx context.Context, q hierarchy.Query) ([]hierarchy.Entry, error) {
	clause, args := where(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, entity_name, property, distance, metadata, ancestors FROM materialized`+clause+
			` ORDER BY node_id, entity_name, property`, args...)
	if err != nil {
		return nil, fmt.Errorf("find entries: %w", err)
	}
	defer rows.Close()

	var out []hierarchy.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// DeleteEntriesAt removes every entry held by the given nodes.
func (s *Store) DeleteEntriesAt(ctx context.Context, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	in, args := inClause(nodeIDs)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM materialized WHERE node_id IN `+in, args...); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
