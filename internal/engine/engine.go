// Package engine maintains the materialized index of a property forest.
//
// Every mutation first rewrites nodes or assignments, then runs one of the
// propagation primitives to bring the nearest-definition entries back in
// line. Traversals are worklists over ids fetched from the store, so depth is
// bounded by memory, not by the goroutine stack.
//
// The engine does not serialize callers. Mutations touching overlapping
// subtrees must not run concurrently; a cancelled mutation can leave the
// index stale, which Verify reports and Repair fixes.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lthms/hierprops/internal/hierarchy"
)

// Engine bundles the stores of one forest with the operations over them.
type Engine struct {
	store  hierarchy.Store
	name   string
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithName names the forest. The name tags every log line.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// New returns an engine over store.
func New(store hierarchy.Store, opts ...Option) *Engine {
	e := &Engine{store: store, name: "default", logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("forest", e.name)
	return e
}

// Name returns the forest name.
func (e *Engine) Name() string { return e.name }

// Store returns the underlying store.
func (e *Engine) Store() hierarchy.Store { return e.store }

// track records the outcome of one public operation.
func (e *Engine) track(op string, start time.Time, errp *error) {
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "success"
	if err := *errp; err != nil {
		result = hierarchy.KindOf(err).String()
		e.logger.Debug("operation failed", "op", op, "kind", result, "err", err)
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}

func (e *Engine) node(ctx context.Context, id string) (*hierarchy.Node, error) {
	n, err := e.store.Node(ctx, id)
	if err != nil {
		return nil, hierarchy.StoreError(err, "load node %s", id)
	}
	return n, nil
}

func checkKey(entity, property string) error {
	if entity == "" {
		return errors.Wrap(hierarchy.ErrInvalidArgument, "entity name is empty")
	}
	if property == "" {
		return errors.Wrap(hierarchy.ErrInvalidArgument, "property is empty")
	}
	return nil
}

// without returns ids minus every id in drop, order preserved.
func without(ids []string, drop ...string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		keep := true
		for _, d := range drop {
			if id == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, id)
		}
	}
	return out
}

func nodeIDs(nodes []*hierarchy.Node) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}
