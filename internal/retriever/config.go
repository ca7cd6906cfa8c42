package retriever

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates a malformed retriever configuration. Bad
// configs fail at construction time; a retrieve call never returns
// silently wrong rankings.
var ErrInvalidConfig = errors.New("invalid retriever configuration")

// Weights blends the ranking factors into a single score. They should
// sum to 1 so scores stay interpretable, but that is not enforced.
type Weights struct {
	Semantic   float64
	Freshness  float64
	Usage      float64
	Confidence float64
}

// DefaultWeights favors semantic similarity with freshness as the main
// secondary signal.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.6, Freshness: 0.2, Usage: 0.1, Confidence: 0.1}
}

// Config holds tunables for the retriever.
type Config struct {
	// Weights for the blended ranking score.
	Weights Weights

	// DefaultLimit is the result cap when a request does not set one.
	// Default: 10.
	DefaultLimit int

	// CandidateMultiplier oversamples each tier search relative to the
	// request limit so re-ranking and diversity have room to work.
	// Default: 3.
	CandidateMultiplier int

	// FreshnessDecayRate controls how fast freshness falls per day of
	// age. Default: 0.05.
	FreshnessDecayRate float64

	// EntityConfidenceThreshold gates query expansion; only entities
	// strictly above it are appended to the query. Default: 0.7.
	EntityConfidenceThreshold float64

	// DuplicateThreshold is the token-overlap similarity above which
	// diversity selection rejects a candidate. Default: 0.85.
	DuplicateThreshold float64

	// EarlyStopCount stops the tier loop once this many candidates with
	// similarity >= EarlyStopConfidence have accumulated. The workspace
	// tier is always searched. 0 disables early stopping.
	EarlyStopCount      int
	EarlyStopConfidence float64

	// TierTimeout bounds each tier search. A tier that times out is
	// skipped and the results gathered so far are returned. Default: 2s.
	TierTimeout time.Duration

	// UsageWorkers bounds concurrent usage-tracking writes. Default: 4.
	UsageWorkers int

	// UsageWritesPerSecond rate-limits usage-tracking writes to protect
	// the primary store from retrieval bursts. Default: 100.
	UsageWritesPerSecond float64
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.DefaultLimit == 0 {
		c.DefaultLimit = 10
	}
	if c.CandidateMultiplier == 0 {
		c.CandidateMultiplier = 3
	}
	if c.FreshnessDecayRate == 0 {
		c.FreshnessDecayRate = 0.05
	}
	if c.EntityConfidenceThreshold == 0 {
		c.EntityConfidenceThreshold = 0.7
	}
	if c.DuplicateThreshold == 0 {
		c.DuplicateThreshold = 0.85
	}
	if c.TierTimeout == 0 {
		c.TierTimeout = 2 * time.Second
	}
	if c.UsageWorkers == 0 {
		c.UsageWorkers = 4
	}
	if c.UsageWritesPerSecond == 0 {
		c.UsageWritesPerSecond = 100
	}
}

// Validate rejects configurations that would corrupt rankings.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"semantic":   c.Weights.Semantic,
		"freshness":  c.Weights.Freshness,
		"usage":      c.Weights.Usage,
		"confidence": c.Weights.Confidence,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%w: %s weight %v outside [0,1]", ErrInvalidConfig, name, w)
		}
	}
	if c.Weights.Semantic+c.Weights.Freshness+c.Weights.Usage+c.Weights.Confidence == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidConfig)
	}
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("%w: default limit must be positive", ErrInvalidConfig)
	}
	if c.FreshnessDecayRate < 0 {
		return fmt.Errorf("%w: freshness decay rate must be non-negative", ErrInvalidConfig)
	}
	if c.EntityConfidenceThreshold < 0 || c.EntityConfidenceThreshold > 1 {
		return fmt.Errorf("%w: entity confidence threshold %v outside [0,1]", ErrInvalidConfig, c.EntityConfidenceThreshold)
	}
	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("%w: duplicate threshold %v outside (0,1]", ErrInvalidConfig, c.DuplicateThreshold)
	}
	if c.EarlyStopConfidence < 0 || c.EarlyStopConfidence > 1 {
		return fmt.Errorf("%w: early stop confidence %v outside [0,1]", ErrInvalidConfig, c.EarlyStopConfidence)
	}
	if c.UsageWorkers <= 0 {
		return fmt.Errorf("%w: usage workers must be positive", ErrInvalidConfig)
	}
	return nil
}
