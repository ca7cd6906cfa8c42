package retriever

import (
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/contextcore/internal/contexts"
)

// rankCandidates computes the blended score for every candidate in place
// and sorts the slice descending. Pure apart from mutating its argument,
// so ranking behavior is testable without any collaborator.
//
// score = wSemantic*semantic + wFreshness*freshness + wUsage*usage + wConfidence*confidence
//
// Usage is min-max normalized within this candidate set, not globally:
// the same context can rank differently depending on which other
// candidates it appears with. That relativity is deliberate.
func rankCandidates(candidates []contexts.ScoredContext, weights Weights, decayRate float64, now time.Time) {
	if len(candidates) == 0 {
		return
	}

	minUsage, maxUsage := candidates[0].Context.Metadata.UsageCount, candidates[0].Context.Metadata.UsageCount
	for _, sc := range candidates[1:] {
		u := sc.Context.Metadata.UsageCount
		if u < minUsage {
			minUsage = u
		}
		if u > maxUsage {
			maxUsage = u
		}
	}
	usageRange := float64(maxUsage - minUsage)

	for i := range candidates {
		sc := &candidates[i]

		usage := 0.0
		if usageRange > 0 {
			usage = float64(sc.Context.Metadata.UsageCount-minUsage) / usageRange
		}

		sc.Breakdown = contexts.ScoreBreakdown{
			Semantic:   sc.Similarity,
			Freshness:  freshness(sc.Context, decayRate, now),
			Usage:      usage,
			Confidence: sc.Context.Metadata.Confidence,
		}
		sc.Score = weights.Semantic*sc.Breakdown.Semantic +
			weights.Freshness*sc.Breakdown.Freshness +
			weights.Usage*sc.Breakdown.Usage +
			weights.Confidence*sc.Breakdown.Confidence
	}

	// Deterministic order: score, then recency, then id.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		at, bt := a.Context.LastAccessed, b.Context.LastAccessed
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.Context.ID < b.Context.ID
	})
}

// freshness decays exponentially with age in days, measured from
// lastAccessed and falling back to updatedAt.
func freshness(c *contexts.Context, decayRate float64, now time.Time) float64 {
	ts := c.LastAccessed
	if ts.IsZero() {
		ts = c.UpdatedAt
	}
	if ts.IsZero() {
		return 0
	}
	ageDays := now.Sub(ts).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays * decayRate)
}
