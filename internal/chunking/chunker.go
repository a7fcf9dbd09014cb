// Package chunking splits resource content into fixed-size-by-tokens
// chunks with configurable overlap, the unit the vector index and
// relational store operate on.
package chunking

import (
	"strings"

	ltmcerrors "ltmc/internal/errors"
)

// Chunk is one slice of content produced by Split, before it has been
// assigned a resource id, vector id, or position in the DAL.
type Chunk struct {
	Text     string
	Position int
}

// Chunker splits content into overlapping, fixed-size-by-tokens pieces.
type Chunker struct {
	maxSize int
	overlap int
}

// New builds a Chunker. maxSize is the maximum number of whitespace
// tokens per chunk; overlap is the number of trailing tokens repeated
// at the start of the next chunk, and must be smaller than maxSize.
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, ltmcerrors.Config("max_chunk_size must be positive, got %d", maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, ltmcerrors.Config("overlap_size (%d) must be non-negative and less than max_chunk_size (%d)", overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Split tokenizes content on whitespace and groups tokens into chunks of
// at most maxSize tokens, each chunk (after the first) starting overlap
// tokens before the previous chunk's end. Empty content is a
// ValidationError — the coordinator rejects store_resource calls with
// nothing to chunk.
func (c *Chunker) Split(content string) ([]Chunk, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ltmcerrors.Validation("content must not be empty")
	}

	tokens := strings.Fields(trimmed)
	if len(tokens) == 0 {
		return nil, ltmcerrors.Validation("content must not be empty")
	}

	step := c.maxSize - c.overlap
	var chunks []Chunk
	position := 0
	for start := 0; start < len(tokens); start += step {
		end := start + c.maxSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, Chunk{
			Text:     strings.Join(tokens[start:end], " "),
			Position: position,
		})
		position++
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}
