// Package badgerstore persists a forest in an embedded BadgerDB.
//
// Records are JSON values under prefixed keys. Secondary indexes are empty
// values whose keys carry the indexed fields, so every lookup the engine
// needs is a prefix scan:
//
//	node/<id>                          node record
//	child/<parent>\x00<id>             children of parent ("" for roots)
//	desc/<ancestor>\x00<id>            descendants of ancestor
//	asg/<node>\x00<entity>\x00<prop>   assignment record
//	asgi/<entity>\x00<prop>\x00<node>  assignments by (entity, property)
//	ent/<node>\x00<entity>\x00<prop>   materialized entry
//
// Every key part is escaped with keyPart so a name containing \x00 can never
// be mistaken for a separator. Bulk deletes go through a WriteBatch, which
// splits work across as many transactions as badger needs.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/lthms/hierprops/internal/hierarchy"
)

var _ hierarchy.Store = (*Store)(nil)

const sep = "\x00"

var (
	partEscaper   = strings.NewReplacer("\x01", "\x01\x02", "\x00", "\x01\x01")
	partUnescaper = strings.NewReplacer("\x01\x02", "\x01", "\x01\x01", "\x00")
)

// keyPart escapes s so that the result holds no \x00 byte.
func keyPart(s string) string { return partEscaper.Replace(s) }

func unKeyPart(s string) string { return partUnescaper.Replace(s) }

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store is a hierarchy.Store backed by BadgerDB.
type Store struct {
	db    *badger.DB
	newID func() string
}

// Open creates and opens a BadgerDB instance with the given configuration.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, errors.Wrapf(err, "create database directory %s", cfg.Path)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger database")
	}
	return &Store{db: db, newID: uuid.NewString}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func joinKey(kind string, parts ...string) []byte {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = keyPart(p)
	}
	return []byte(kind + strings.Join(escaped, sep))
}

func nodeKey(id string) []byte             { return joinKey("node/", id) }
func childKey(parent, id string) []byte    { return joinKey("child/", parent, id) }
func descKey(ancestor, id string) []byte   { return joinKey("desc/", ancestor, id) }
func childPrefix(parent string) []byte     { return joinKey("child/", parent, "") }
func descPrefix(ancestor string) []byte    { return joinKey("desc/", ancestor, "") }
func assignmentKey(k hierarchy.Key) []byte { return joinKey("asg/", k.NodeID, k.Entity, k.Property) }
func entryKey(k hierarchy.Key) []byte      { return joinKey("ent/", k.NodeID, k.Entity, k.Property) }

func pairKey(k hierarchy.Key) []byte {
	return joinKey("asgi/", k.Entity, k.Property, k.NodeID)
}

// recordPrefix narrows a scan of "asg/" or "ent/" records to one node when
// the query names it.
func recordPrefix(kind string, q hierarchy.Query) []byte {
	if q.NodeID == "" {
		return []byte(kind)
	}
	if q.Entity == "" {
		return joinKey(kind, q.NodeID, "")
	}
	return joinKey(kind, q.NodeID, q.Entity, "")
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(raw []byte) error {
		return json.Unmarshal(raw, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

// scanKeys returns the unescaped suffixes of every key under prefix. The
// prefix must end on a separator so the suffix is a single key part.
func scanKeys(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, unKeyPart(string(bytes.TrimPrefix(it.Item().KeyCopy(nil), prefix))))
	}
	return out
}

// scanRawKeys returns copies of every key under prefix.
func scanRawKeys(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out
}

// deleteKeys removes keys through a WriteBatch. It is not atomic across the
// whole set; a failure can leave a prefix of keys deleted.
func (s *Store) deleteKeys(keys [][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// scanValues decodes every value under prefix with fn.
func scanValues(txn *badger.Txn, prefix []byte, fn func(raw []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func putNodeIndexes(txn *badger.Txn, n *hierarchy.Node) error {
	if err := txn.Set(childKey(n.ParentID, n.ID), nil); err != nil {
		return err
	}
	for _, a := range n.Ancestors {
		if err := txn.Set(descKey(a, n.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func dropNodeIndexes(txn *badger.Txn, n *hierarchy.Node) error {
	if err := txn.Delete(childKey(n.ParentID, n.ID)); err != nil {
		return err
	}
	for _, a := range n.Ancestors {
		if err := txn.Delete(descKey(a, n.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertNode(_ context.Context, parentID string, ancestors []string) (string, error) {
	id := s.newID()
	if id == "" {
		return "", errors.New("badgerstore: no id allocated")
	}
	n := &hierarchy.Node{ID: id, ParentID: parentID, Ancestors: nonNil(ancestors)}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(id)); err == nil {
			return errors.Newf("duplicate node id %s", id)
		}
		if err := setJSON(txn, nodeKey(id), n); err != nil {
			return err
		}
		return putNodeIndexes(txn, n)
	})
	if err != nil {
		return "", errors.Wrap(err, "insert node")
	}
	return id, nil
}

func loadNode(txn *badger.Txn, id string) (*hierarchy.Node, error) {
	var n hierarchy.Node
	ok, err := getJSON(txn, nodeKey(id), &n)
	if err != nil {
		return nil, errors.Wrapf(err, "get node %s", id)
	}
	if !ok {
		return nil, errors.Wrapf(hierarchy.ErrNodeNotFound, "node %s", id)
	}
	n.Ancestors = nonNil(n.Ancestors)
	return &n, nil
}

func (s *Store) Node(_ context.Context, id string) (*hierarchy.Node, error) {
	var n *hierarchy.Node
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = loadNode(txn, id)
		return err
	})
	return n, err
}

// nodesUnder loads the nodes listed by an index prefix.
func (s *Store) nodesUnder(prefix []byte) ([]*hierarchy.Node, error) {
	var nodes []*hierarchy.Node
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range scanKeys(txn, prefix) {
			n, err := loadNode(txn, id)
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
		}
		return nil
	})
	return nodes, err
}

func (s *Store) Children(_ context.Context, id string) ([]*hierarchy.Node, error) {
	nodes, err := s.nodesUnder(childPrefix(id))
	return nodes, errors.Wrapf(err, "children of %s", id)
}

func (s *Store) Descendants(_ context.Context, id string) ([]*hierarchy.Node, error) {
	nodes, err := s.nodesUnder(descPrefix(id))
	return nodes, errors.Wrapf(err, "descendants of %s", id)
}

func (s *Store) Roots(_ context.Context) ([]*hierarchy.Node, error) {
	nodes, err := s.nodesUnder(childPrefix(""))
	return nodes, errors.Wrap(err, "roots")
}

func (s *Store) SetParentAndAncestors(_ context.Context, id, parentID string, ancestors []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		old, err := loadNode(txn, id)
		if err != nil {
			return err
		}
		if err := dropNodeIndexes(txn, old); err != nil {
			return errors.Wrap(err, "drop node indexes")
		}
		n := &hierarchy.Node{ID: id, ParentID: parentID, Ancestors: nonNil(ancestors)}
		if err := setJSON(txn, nodeKey(id), n); err != nil {
			return errors.Wrapf(err, "update node %s", id)
		}
		return errors.Wrap(putNodeIndexes(txn, n), "put node indexes")
	})
}

// DeleteNodes removes node records with their index keys. Index keys go
// before records so a partial failure leaves records that can be deleted
// again.
func (s *Store) DeleteNodes(_ context.Context, ids []string) error {
	var indexes, records [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			n, err := loadNode(txn, id)
			if hierarchy.KindOf(err) == hierarchy.KindNodeNotFound {
				continue
			}
			if err != nil {
				return err
			}
			indexes = append(indexes, childKey(n.ParentID, n.ID))
			for _, a := range n.Ancestors {
				indexes = append(indexes, descKey(a, n.ID))
			}
			records = append(records, nodeKey(id))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Wrap(s.deleteKeys(append(indexes, records...)), "delete nodes")
}

func (s *Store) Assignment(_ context.Context, key hierarchy.Key) (hierarchy.Assignment, bool, error) {
	var a hierarchy.Assignment
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = getJSON(txn, assignmentKey(key), &a)
		return err
	})
	if err != nil {
		return hierarchy.Assignment{}, false, errors.Wrap(err, "get assignment")
	}
	return a, ok, nil
}

func (s *Store) InsertAssignment(_ context.Context, a hierarchy.Assignment) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, assignmentKey(a.Key), a); err != nil {
			return err
		}
		return txn.Set(pairKey(a.Key), nil)
	})
	return errors.Wrap(err, "insert assignment")
}

func (s *Store) DeleteAssignment(_ context.Context, key hierarchy.Key) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(assignmentKey(key)); err != nil {
			return err
		}
		return txn.Delete(pairKey(key))
	})
	return errors.Wrap(err, "delete assignment")
}

func (s *Store) FindAssignments(_ context.Context, q hierarchy.Query) ([]hierarchy.Assignment, error) {
	var out []hierarchy.Assignment
	err := s.db.View(func(txn *badger.Txn) error {
		if q.NodeID == "" && q.Entity != "" && q.Property != "" {
			prefix := joinKey("asgi/", q.Entity, q.Property, "")
			for _, node := range scanKeys(txn, prefix) {
				var a hierarchy.Assignment
				ok, err := getJSON(txn, assignmentKey(hierarchy.Key{NodeID: node, Entity: q.Entity, Property: q.Property}), &a)
				if err != nil {
					return err
				}
				if ok {
					out = append(out, a)
				}
			}
			return nil
		}
		return scanValues(txn, recordPrefix("asg/", q), func(raw []byte) error {
			var a hierarchy.Assignment
			if err := json.Unmarshal(raw, &a); err != nil {
				return err
			}
			if q.MatchKey(a.Key) {
				out = append(out, a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "find assignments")
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	return out, nil
}

func (s *Store) DeleteAssignmentsAt(_ context.Context, nodeIDs []string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range nodeIDs {
			err := scanValues(txn, recordPrefix("asg/", hierarchy.Query{NodeID: id}), func(raw []byte) error {
				var a hierarchy.Assignment
				if err := json.Unmarshal(raw, &a); err != nil {
					return err
				}
				keys = append(keys, pairKey(a.Key), assignmentKey(a.Key))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		err = s.deleteKeys(keys)
	}
	return errors.Wrap(err, "delete assignments")
}

func (s *Store) Entry(_ context.Context, key hierarchy.Key) (hierarchy.Entry, bool, error) {
	var e hierarchy.Entry
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = getJSON(txn, entryKey(key), &e)
		return err
	})
	if err != nil {
		return hierarchy.Entry{}, false, errors.Wrap(err, "get entry")
	}
	e.Ancestors = nonNil(e.Ancestors)
	return e, ok, nil
}

func (s *Store) UpsertEntry(_ context.Context, e hierarchy.Entry) error {
	e.Ancestors = nonNil(e.Ancestors)
	err := s.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, entryKey(e.Key), e)
	})
	return errors.Wrap(err, "upsert entry")
}

func (s *Store) DeleteEntry(_ context.Context, key hierarchy.Key) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(key))
	})
	return errors.Wrap(err, "delete entry")
}

func (s *Store) FindEntries(_ context.Context, q hierarchy.Query) ([]hierarchy.Entry, error) {
	var out []hierarchy.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		return scanValues(txn, recordPrefix("ent/", q), func(raw []byte) error {
			var e hierarchy.Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			if q.MatchKey(e.Key) {
				e.Ancestors = nonNil(e.Ancestors)
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "find entries")
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	return out, nil
}

func (s *Store) DeleteEntriesAt(_ context.Context, nodeIDs []string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range nodeIDs {
			keys = append(keys, scanRawKeys(txn, recordPrefix("ent/", hierarchy.Query{NodeID: id}))...)
		}
		return nil
	})
	if err == nil {
		err = s.deleteKeys(keys)
	}
	return errors.Wrap(err, "delete entries")
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func lessKey(a, b hierarchy.Key) bool {
	if a.NodeID != b.NodeID {
		return a.NodeID < b.NodeID
	}
	if a.Entity != b.Entity {
		return a.Entity < b.Entity
	}
	return a.Property < b.Property
}
