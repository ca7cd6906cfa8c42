package contexts

import "time"

// ContextVersion is an immutable snapshot of a context's content and
// metadata, taken before an update is applied. Versions are keyed by
// (ContextID, Version) where Version increases monotonically from 1.
// Retention is bounded: the storage layer prunes old snapshots.
type ContextVersion struct {
	ContextID string    `json:"context_id"`
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}
