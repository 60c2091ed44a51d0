package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts public operations by result kind.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hierprops_operations_total",
		Help: "Total forest operations by operation and result",
	}, []string{"operation", "result"})

	// operationDuration tracks latency of public operations.
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hierprops_operation_duration_seconds",
		Help:    "Forest operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"operation"})

	// entriesWritten counts materialized entries written, by primitive.
	entriesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hierprops_materialized_entries_written_total",
		Help: "Materialized entries upserted by propagation primitive",
	}, []string{"primitive"})

	// entriesDeleted counts materialized entries removed, by primitive.
	entriesDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hierprops_materialized_entries_deleted_total",
		Help: "Materialized entries deleted by propagation primitive",
	}, []string{"primitive"})

	// propagationStops counts subtrees skipped because a node owns the key.
	propagationStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hierprops_propagation_stops_total",
		Help: "Propagation steps stopped at a node holding its own assignment",
	})
)
