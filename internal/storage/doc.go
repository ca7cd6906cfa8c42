// Package storage orchestrates context writes across the primary store,
// the vector index, and the embedding provider.
//
// The primary store is the source of truth; the vector index is a
// derived projection. Writes go to the primary store first, then to the
// index. An index write that fails after a successful primary write does
// not fail the operation: it is logged, reported on the IndexFailures
// channel, and repaired later by Reconcile. There are no cross-store
// transactions.
package storage
