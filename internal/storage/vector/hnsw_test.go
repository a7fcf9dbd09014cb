package vector

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSearch(t *testing.T) {
	idx := New(3)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(ctx, 2, []float32{0, 1, 0}))
	require.NoError(t, idx.Add(ctx, 3, []float32{0.9, 0.1, 0}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, int64(1), results[0].VectorID)
}

func TestAddDimensionMismatch(t *testing.T) {
	idx := New(3)
	err := idx.Add(context.Background(), 1, []float32{1, 0})
	assert.Error(t, err)
}

func TestRemoveIsLazyAndExcludesFromSearch(t *testing.T) {
	idx := New(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, 2, []float32{0, 1}))

	require.NoError(t, idx.Remove(ctx, 1))
	assert.False(t, idx.Contains(1))
	assert.Equal(t, 1, idx.Len())

	results, err := idx.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, int64(1), r.VectorID)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vector_index")

	idx := New(2)
	ctx := context.Background()
	require.NoError(t, idx.Add(ctx, 1, []float32{1, 0}))
	require.NoError(t, idx.Add(ctx, 2, []float32{0, 1}))
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.True(t, loaded.Contains(1))
	assert.True(t, loaded.Contains(2))
}

func TestLoadMissingFileReturnsEmptyIndex(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "does_not_exist"), 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 5, idx.dimensions)
}

func TestLoadCorruptMetadataFallsBackToFreshIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vector_index")
	require.NoError(t, os.WriteFile(path+".meta", []byte("not a gob stream"), 0o644))

	idx, err := Load(path, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 4, idx.dimensions)
}

func TestLoadCorruptGraphFallsBackToFreshIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vector_index")

	metaFile, err := os.Create(path + ".meta")
	require.NoError(t, err)
	require.NoError(t, gob.NewEncoder(metaFile).Encode(metadata{Dimensions: 3, Live: map[int64]bool{1: true}}))
	require.NoError(t, metaFile.Close())
	require.NoError(t, os.WriteFile(path, []byte("not a valid exported graph"), 0o644))

	idx, err := Load(path, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 3, idx.dimensions)
}

func TestLoadDimensionMismatchFallsBackToConfiguredDimension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vector_index")

	idx := New(2)
	require.NoError(t, idx.Add(context.Background(), 1, []float32{1, 0}))
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.dimensions)
	assert.Equal(t, 0, loaded.Len())
}
