// Package vector is LTMC's persisted semantic index: a coder/hnsw graph
// keyed directly by the relational store's monotonic vector ids, saved
// atomically to <data_dir>/vector_index.
package vector

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/logging"
)

// Result is one nearest-neighbor hit.
type Result struct {
	VectorID int64
	Distance float32
}

// Index wraps a coder/hnsw graph. Unlike the teacher's vector adapter
// (Qdrant, a remote service), this one owns a single in-process graph
// and its own persistence — there is no network boundary to retry
// across, so every method here is either fast or an I/O error, never a
// degraded-mode Unavailable.
type Index struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[int64]
	dimensions int
	// live tracks which vector ids currently have a non-deleted entry.
	// coder/hnsw exposes no lookup-by-key, and lazy deletion leaves
	// orphaned nodes behind (deleting the graph's last node corrupts
	// it), so membership is tracked here rather than by querying the
	// graph directly.
	live map[int64]bool
}

type metadata struct {
	Dimensions int
	Live       map[int64]bool
}

// New creates an empty index for vectors of the given dimensionality,
// using cosine distance as spec.md's similarity metric.
func New(dimensions int) *Index {
	g := hnsw.NewGraph[int64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return &Index{graph: g, dimensions: dimensions, live: make(map[int64]bool)}
}

// Add inserts or replaces the vector at vectorID. Replacement uses lazy
// deletion (the old node is orphaned rather than physically removed) —
// coder/hnsw corrupts the graph if the last remaining node is deleted,
// so the node stays until the index is rebuilt from relational truth.
func (idx *Index) Add(ctx context.Context, vectorID int64, vec []float32) error {
	if len(vec) != idx.dimensions {
		return ltmcerrors.Validation("vector has %d dimensions, index expects %d", len(vec), idx.dimensions)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	normalized := make([]float32, len(vec))
	copy(normalized, vec)
	normalize(normalized)

	idx.graph.Add(hnsw.MakeNode(vectorID, normalized))
	idx.live[vectorID] = true
	return nil
}

// Search returns up to k nearest neighbors to query.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if len(query) != idx.dimensions {
		return nil, ltmcerrors.Validation("query has %d dimensions, index expects %d", len(query), idx.dimensions)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalize(normalized)

	nodes := idx.graph.Search(normalized, k)
	out := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		if !idx.live[n.Key] {
			continue
		}
		d := idx.graph.Distance(normalized, n.Value)
		out = append(out, Result{VectorID: n.Key, Distance: d})
	}
	return out, nil
}

// Remove lazily deletes a vector id. The node may remain in the graph
// as an orphan until the index is rebuilt.
func (idx *Index) Remove(ctx context.Context, vectorID int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	// Lazy delete only: physically removing the graph's last node
	// corrupts coder/hnsw's internal state, so live entries are
	// orphaned here and the node itself stays until the index is
	// rebuilt from relational truth.
	delete(idx.live, vectorID)
	return nil
}

// Contains reports whether vectorID currently has a live entry.
func (idx *Index) Contains(vectorID int64) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.live[vectorID]
}

// AllIDs returns every live vector id, used by the consistency sweep to
// detect garbage vectors (present in the index, absent relationally).
func (idx *Index) AllIDs() []int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]int64, 0, len(idx.live))
	for id := range idx.live {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of live vectors (excluding orphaned nodes
// retained in the graph by lazy deletion).
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.live)
}

// Save persists the graph to path via the write-to-tmp, fsync, rename
// sequence spec.md's §4.3 requires, followed by a gob-encoded metadata
// sidecar at path+".meta".
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("creating vector index directory: %w", err))
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("creating temp index file: %w", err))
	}

	if err := idx.graph.Export(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("exporting graph: %w", err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("fsyncing index file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("closing index file: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("renaming index file: %w", err))
	}

	return idx.saveMetadata(path + ".meta")
}

func (idx *Index) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("creating temp metadata file: %w", err))
	}

	if err := gob.NewEncoder(f).Encode(metadata{Dimensions: idx.dimensions, Live: idx.live}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("encoding metadata: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("closing metadata file: %w", err))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return ltmcerrors.Storage(ltmcerrors.BackendVector, fmt.Errorf("renaming metadata file: %w", err))
	}
	return nil
}

// Load reads a previously saved index from path, always at the
// caller's configured dimension — the embedding contract is fixed at
// configuration time (spec.md's Open Question resolution), not inferred
// from whatever happens to be on disk. A missing or corrupt metadata
// sidecar, or a corrupt graph file, is not fatal: §4.3 requires Load to
// fall back to a fresh empty index and record a WARN rather than crash
// the process, so the caller can always call Load once at startup (or
// mid-process, after a failed Save) without special-casing first run or
// a damaged file.
func Load(path string, dimensions int, log logging.Logger) (*Index, error) {
	if log == nil {
		log = logging.Noop{}
	}

	metaPath := path + ".meta"
	metaFile, err := os.Open(metaPath)
	switch {
	case os.IsNotExist(err):
		return New(dimensions), nil
	case err != nil:
		log.Warn("opening vector index metadata failed, starting fresh", "path", metaPath, "error", err.Error())
		return New(dimensions), nil
	}
	defer metaFile.Close()

	var meta metadata
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		log.Warn("decoding vector index metadata failed, starting fresh", "path", metaPath, "error", err.Error())
		return New(dimensions), nil
	}
	if meta.Dimensions != 0 && meta.Dimensions != dimensions {
		log.Warn("vector index metadata dimension does not match configured dimension, starting fresh",
			"path", metaPath, "meta_dimensions", meta.Dimensions, "configured_dimensions", dimensions)
		return New(dimensions), nil
	}

	idx := New(dimensions)
	if meta.Live != nil {
		idx.live = meta.Live
	}

	f, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return idx, nil
	case err != nil:
		log.Warn("opening vector index file failed, starting fresh", "path", path, "error", err.Error())
		return New(dimensions), nil
	}
	defer f.Close()

	if err := idx.graph.Import(bufio.NewReader(f)); err != nil {
		log.Warn("importing vector index graph failed, starting fresh", "path", path, "error", err.Error())
		return New(dimensions), nil
	}

	return idx, nil
}

func normalize(v []float32) {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
