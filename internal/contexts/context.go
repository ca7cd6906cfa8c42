package contexts

import (
	"fmt"
	"time"
)

// Tier is the scope bucket a context belongs to. Tiers determine search
// priority: workspace contexts are most specific, global most general.
type Tier string

const (
	TierWorkspace Tier = "workspace"
	TierHybrid    Tier = "hybrid"
	TierGlobal    Tier = "global"
)

// TierSearchOrder is the fixed priority order for hierarchical retrieval.
// The workspace tier is always searched first and is never skipped.
var TierSearchOrder = []Tier{TierWorkspace, TierHybrid, TierGlobal}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierWorkspace, TierHybrid, TierGlobal:
		return true
	}
	return false
}

// Type categorizes the knowledge a context carries.
type Type string

const (
	TypeFile          Type = "file"
	TypeSymbol        Type = "symbol"
	TypeDocumentation Type = "documentation"
	TypeConversation  Type = "conversation"
	TypeError         Type = "error"
	TypeArchitecture  Type = "architecture"
)

// Valid reports whether t is a known context type.
func (t Type) Valid() bool {
	switch t {
	case TypeFile, TypeSymbol, TypeDocumentation, TypeConversation, TypeError, TypeArchitecture:
		return true
	}
	return false
}

// DefaultConfidence is assigned to contexts created without an explicit
// confidence value. Only the evolution engine mutates it afterward.
const DefaultConfidence = 1.0

// Metadata carries the open per-context attributes. A small closed set of
// fields is first-class; everything else goes into Extra so callers can
// attach arbitrary payload without losing type safety on the hot fields.
type Metadata struct {
	// Source records where the content came from (file path, URL, session id).
	Source string `json:"source,omitempty"`

	// Tags are free-form labels for categorization.
	Tags []string `json:"tags,omitempty"`

	// UsageCount is incremented by the retriever on every successful
	// retrieval. Monotonic non-decreasing.
	UsageCount int `json:"usage_count"`

	// Confidence is a reliability score in [0,1], mutated only by the
	// evolution engine (feedback smoothing and temporal decay).
	Confidence float64 `json:"confidence"`

	// Extra holds open key-value payload not covered by the fields above.
	Extra map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Tags != nil {
		out.Tags = make([]string, len(m.Tags))
		copy(out.Tags, m.Tags)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Context is a retrievable unit of knowledge.
type Context struct {
	// ID is assigned by the primary store on create and never changes.
	ID string `json:"id"`

	// WorkspaceID is the owning workspace. Immutable after create.
	WorkspaceID string `json:"workspace_id"`

	// Tier determines search-order priority.
	Tier Tier `json:"tier"`

	// Type categorizes the content.
	Type Type `json:"type"`

	// Content is the text payload. Changing it triggers re-embedding.
	Content string `json:"content"`

	// Metadata carries usage, confidence, and open attributes.
	Metadata Metadata `json:"metadata"`

	// Embedding is owned exclusively by the storage layer. The retriever
	// and evolution engine never write it.
	Embedding []float32 `json:"-"`

	// CreatedAt is set once on create.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt changes on any mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// LastAccessed changes only on successful retrieval.
	LastAccessed time.Time `json:"last_accessed"`
}

// Clone returns a deep copy of the context.
func (c *Context) Clone() *Context {
	out := *c
	out.Metadata = c.Metadata.Clone()
	if c.Embedding != nil {
		out.Embedding = make([]float32, len(c.Embedding))
		copy(out.Embedding, c.Embedding)
	}
	return &out
}

// Validate checks the invariants a persisted context must hold.
func (c *Context) Validate() error {
	if c.WorkspaceID == "" {
		return fmt.Errorf("%w: workspace id required", ErrValidation)
	}
	if !c.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, c.Tier)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, c.Type)
	}
	if c.Content == "" {
		return fmt.Errorf("%w: content required", ErrValidation)
	}
	if c.Metadata.Confidence < 0 || c.Metadata.Confidence > 1 {
		return fmt.Errorf("%w: confidence %g outside [0,1]", ErrValidation, c.Metadata.Confidence)
	}
	if c.Metadata.UsageCount < 0 {
		return fmt.Errorf("%w: negative usage count", ErrValidation)
	}
	return nil
}

// IndexPayload is the filterable projection of a context stored alongside
// its vector. Content is deliberately excluded: index hits are hydrated from
// the primary store, which stays the source of truth.
func (c *Context) IndexPayload() map[string]any {
	return map[string]any{
		"workspace_id":    c.WorkspaceID,
		"tier":            string(c.Tier),
		"type":            string(c.Type),
		"updated_at_unix": c.UpdatedAt.Unix(),
	}
}
