package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DATA_DIR", "RELATIONAL_DB_PATH", "VECTOR_INDEX_PATH", "GRAPH_URI",
		"CACHE_URI", "EMBEDDING_DIM", "MAX_CHUNK_SIZE", "OVERLAP_SIZE",
		"CACHE_TTL_SECONDS", "MAX_CONCURRENT_OPERATIONS", "LOG_LEVEL", "LOG_FILE",
	}
	for _, k := range keys {
		os.Unsetenv(envPrefix + k)
	}
}

func TestLoadFailsFastWithoutDataDir(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadResolvesRelativePathsUnderDataDir(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	os.Setenv(envPrefix+"DATA_DIR", dir)
	defer os.Unsetenv(envPrefix + "DATA_DIR")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "primary.db"), cfg.RelationalDBPath)
	assert.Equal(t, filepath.Join(dir, "vector_index"), cfg.VectorIndexPath)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadRejectsBadDimension(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	os.Setenv(envPrefix+"DATA_DIR", dir)
	os.Setenv(envPrefix+"EMBEDDING_DIM", "0")
	defer func() {
		os.Unsetenv(envPrefix + "DATA_DIR")
		os.Unsetenv(envPrefix + "EMBEDDING_DIM")
	}()

	_, err := Load()
	require.Error(t, err)
}

func TestGraphAndCacheConfiguredFlags(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	os.Setenv(envPrefix+"DATA_DIR", dir)
	defer os.Unsetenv(envPrefix + "DATA_DIR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.GraphConfigured())
	assert.False(t, cfg.CacheConfigured())

	os.Setenv(envPrefix+"GRAPH_URI", "bolt://localhost:7687")
	os.Setenv(envPrefix+"CACHE_URI", "redis://localhost:6379")
	defer func() {
		os.Unsetenv(envPrefix + "GRAPH_URI")
		os.Unsetenv(envPrefix + "CACHE_URI")
	}()

	cfg2, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg2.GraphConfigured())
	assert.True(t, cfg2.CacheConfigured())
}
