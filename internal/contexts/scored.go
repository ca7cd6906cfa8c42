package contexts

// ScoreBreakdown records the individual ranking factors that were blended
// into a final score. All factors are clamped to [0,1].
type ScoreBreakdown struct {
	// Semantic is the raw similarity from the vector search.
	Semantic float64 `json:"semantic"`

	// Freshness decays exponentially with the age of the last access.
	Freshness float64 `json:"freshness"`

	// Usage is the usage count min-max normalized within the current
	// candidate set. Relative to the pool, not global.
	Usage float64 `json:"usage"`

	// Confidence is the stored metadata confidence.
	Confidence float64 `json:"confidence"`
}

// ScoredContext pairs a hydrated context with its retrieval scores. It is
// request-scoped and never persisted.
type ScoredContext struct {
	Context *Context `json:"context"`

	// Similarity is the raw vector score before re-ranking.
	Similarity float64 `json:"similarity"`

	// Breakdown holds the individual re-ranking factors.
	Breakdown ScoreBreakdown `json:"score_breakdown"`

	// Score is the blended ranking score.
	Score float64 `json:"score"`
}
