// Package embed defines LTMC's Embedder boundary and its default
// implementation.
//
// The embedding model is explicitly out of scope for LTMC's core
// (spec.md §1): it is consumed as a fixed interface and, per §5/§9, is
// loaded once as a process-wide singleton rather than re-instantiated
// per call — a known defect class in the system this was adapted from.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Embedder turns text into a fixed-dimension vector. A single
// implementation is active per process; bootstrap constructs it once
// and injects it into the retrieval pipeline and coordinator.
type Embedder interface {
	// Encode embeds a single piece of text.
	Encode(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the fixed output dimension, which must match
	// the configured vector index dimension.
	Dimensions() int
}

// Local is a dependency-free, deterministic Embedder: it hashes
// overlapping shingles of the input into a fixed-dimension vector and
// L2-normalizes the result. It has no notion of semantics beyond lexical
// overlap, but it is stable, has no external dependency, and exercises
// every seam a real model-backed Embedder would (fixed dimension,
// process-wide reuse, deterministic output for deterministic input) —
// suitable as the default for local/offline operation and for tests.
type Local struct {
	dim int
}

// NewLocal constructs the default Embedder for the given dimension.
func NewLocal(dim int) *Local {
	return &Local{dim: dim}
}

func (l *Local) Dimensions() int { return l.dim }

func (l *Local) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, l.dim)
	shingles := shingle(text, 3)
	if len(shingles) == 0 {
		shingles = []string{text}
	}
	for _, s := range shingles {
		h := sha256.Sum256([]byte(s))
		for i := 0; i+8 <= len(h) && i/8 < l.dim; i += 8 {
			bucket := int(binary.LittleEndian.Uint64(h[i:i+8])) % l.dim
			if bucket < 0 {
				bucket += l.dim
			}
			sign := float32(1)
			if h[0]%2 == 0 {
				sign = -1
			}
			vec[bucket] += sign
		}
	}
	normalize(vec)
	return vec, nil
}

func shingle(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		if len(runes) == 0 {
			return nil
		}
		return []string{string(runes)}
	}
	out := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		out = append(out, string(runes[i:i+n]))
	}
	return out
}

func normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range v {
		v[i] /= norm
	}
}
