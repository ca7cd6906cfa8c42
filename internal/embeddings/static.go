package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// StaticProvider generates deterministic embeddings derived from a text
// hash. It exists for tests and offline development: equal texts map to
// equal vectors, different texts to (almost certainly) different ones,
// and no external service is needed. The vectors carry no semantic
// meaning.
type StaticProvider struct {
	dimension int
}

// NewStaticProvider creates a deterministic provider with the given
// dimension.
func NewStaticProvider(dimension int) *StaticProvider {
	if dimension <= 0 {
		dimension = 384
	}
	return &StaticProvider{dimension: dimension}
}

// EmbedQuery returns the deterministic vector for text.
func (s *StaticProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	return s.vector(text), nil
}

// EmbedDocuments returns deterministic vectors for each text.
func (s *StaticProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = s.vector(text)
	}
	return out, nil
}

// Dimension returns the configured dimension.
func (s *StaticProvider) Dimension() int { return s.dimension }

// Close is a no-op.
func (s *StaticProvider) Close() error { return nil }

// vector expands the text's SHA-256 digest into a unit vector.
func (s *StaticProvider) vector(text string) []float32 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, s.dimension)

	var norm float64
	state := seed
	for i := 0; i < s.dimension; i++ {
		if i%8 == 0 && i > 0 {
			state = sha256.Sum256(state[:])
		}
		bits := binary.LittleEndian.Uint32(state[(i%8)*4:])
		v := float32(bits)/float32(math.MaxUint32)*2 - 1
		vec[i] = v
		norm += float64(v) * float64(v)
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}
