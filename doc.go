// Package incrtable implements the incremental-table backbone for a chain of
// derived environment layers: each layer computes its table from the layer
// below and, on an upstream change, recomputes only the invalidated entries
// while guaranteeing the result is exactly what a from-scratch rebuild would
// produce.
//
// Components:
//   - Spec[P, K, V, T]: per-layer contract (key/trigger conversions, the
//     Produce recomputation function, upstream dependency filtering).
//   - Table: generic layer built from a Spec. NewRetained keeps values
//     resident for lookups; NewTransient keeps only store bytes and
//     recomputes on miss. Both share one update algorithm.
//   - depgraph.Registry: process-wide arena of dependency tokens and
//     recorded read edges.
//   - store.Store: byte store under the tables (memory, ristretto, bigcache,
//     badger, redis).
//   - codec.Codec[V]: (de)serializes values for storage and snapshots.
//   - scheduler.Mapper: injected parallel-map primitive for recomputation.
//
// Update pattern:
//
//	res, err := table.Update(ctx, prevResult, changedRoots)
//	view, _ := table.ReadOnly(res)
//	v, ok, err := view.Get(ctx, key)
//
// An unchanged recomputed value is written back but excluded from the
// result's locally-triggered set, so invalidation stops propagating at the
// first fixed point (early cutoff).
package incrtable
