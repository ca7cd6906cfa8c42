// Package contexts defines the shared data model for the context engine.
//
// A Context is a small unit of retrievable knowledge owned by a workspace.
// Contexts are persisted in a primary store (source of truth) and projected
// into a vector index for semantic search. The package holds the record
// types, the request-scoped scoring types, and the error taxonomy shared by
// the storage, retrieval, and evolution components.
//
// # Consistency model
//
// The primary store is authoritative. The vector index is a derived,
// repairable projection: a context may be temporarily visible in one but not
// the other. Retrieval filters out index hits whose primary record is gone
// (stale index entries); storage surfaces failed index writes through a
// side channel instead of failing the request.
package contexts
