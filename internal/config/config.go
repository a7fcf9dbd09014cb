// Package config provides LTMC's single source-of-truth configuration,
// loaded from environment variables (optionally via a local .env file)
// with every path resolved to absolute before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	ltmcerrors "ltmc/internal/errors"
)

// envPrefix is the uniform prefix mirrored by every recognized option.
const envPrefix = "LTMC_"

// Config is LTMC's single configuration aggregate, threaded through
// bootstrap into every adapter and the coordinator.
type Config struct {
	DataDir           string
	RelationalDBPath  string
	VectorIndexPath   string

	GraphURI      string
	GraphUser     string
	GraphPassword string
	GraphDatabase string

	CacheURI      string
	CachePassword string

	EmbeddingModelName string
	EmbeddingDim       int

	MaxChunkSize int
	OverlapSize  int

	CacheTTL time.Duration

	MaxConcurrentOperations int

	LogLevel string
	LogFile  string
}

// defaults returns a Config populated with the documented defaults from
// spec.md §6, before environment overrides are applied.
func defaults() *Config {
	return &Config{
		VectorIndexPath:         "vector_index",
		RelationalDBPath:        "primary.db",
		EmbeddingModelName:      "local",
		EmbeddingDim:            384,
		MaxChunkSize:            1000,
		OverlapSize:             200,
		CacheTTL:                300 * time.Second,
		MaxConcurrentOperations: 10,
		LogLevel:                "info",
	}
}

// Load reads configuration from a local .env file (if present) and
// environment variables prefixed LTMC_, validates it, and resolves every
// path to an absolute form. data_dir is required; an empty value fails
// fast with a ConfigError, as do any unresolvable relative paths.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, ltmcerrors.Config("loading .env file: %v", err)
	}

	cfg := defaults()
	loadFromEnv(cfg)

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	str(&cfg.DataDir, "DATA_DIR")
	str(&cfg.RelationalDBPath, "RELATIONAL_DB_PATH")
	str(&cfg.VectorIndexPath, "VECTOR_INDEX_PATH")

	str(&cfg.GraphURI, "GRAPH_URI")
	str(&cfg.GraphUser, "GRAPH_USER")
	str(&cfg.GraphPassword, "GRAPH_PASSWORD")
	str(&cfg.GraphDatabase, "GRAPH_DATABASE")

	str(&cfg.CacheURI, "CACHE_URI")
	str(&cfg.CachePassword, "CACHE_PASSWORD")

	str(&cfg.EmbeddingModelName, "EMBEDDING_MODEL_NAME")
	intVal(&cfg.EmbeddingDim, "EMBEDDING_DIM")

	intVal(&cfg.MaxChunkSize, "MAX_CHUNK_SIZE")
	intVal(&cfg.OverlapSize, "OVERLAP_SIZE")

	if v := os.Getenv(envPrefix + "CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTL = time.Duration(n) * time.Second
		}
	}

	intVal(&cfg.MaxConcurrentOperations, "MAX_CONCURRENT_OPERATIONS")

	str(&cfg.LogLevel, "LOG_LEVEL")
	str(&cfg.LogFile, "LOG_FILE")
}

func str(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func intVal(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// resolvePaths makes DataDir, RelationalDBPath, VectorIndexPath and
// LogFile absolute. A relative RelationalDBPath/VectorIndexPath/LogFile
// is resolved under DataDir; an absolute one is kept as-is.
func (c *Config) resolvePaths() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return ltmcerrors.Config("data_dir is required")
	}

	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return ltmcerrors.Config("resolving data_dir %q: %v", c.DataDir, err)
	}
	c.DataDir = abs

	c.RelationalDBPath = c.resolveUnder(c.RelationalDBPath)
	c.VectorIndexPath = c.resolveUnder(c.VectorIndexPath)
	if c.LogFile != "" {
		c.LogFile = c.resolveUnder(c.LogFile)
	}
	return nil
}

func (c *Config) resolveUnder(p string) string {
	if p == "" {
		return p
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func (c *Config) validate() error {
	if c.EmbeddingDim <= 0 {
		return ltmcerrors.Config("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.MaxChunkSize <= 0 {
		return ltmcerrors.Config("max_chunk_size must be positive, got %d", c.MaxChunkSize)
	}
	if c.OverlapSize < 0 || c.OverlapSize >= c.MaxChunkSize {
		return ltmcerrors.Config("overlap_size (%d) must be non-negative and less than max_chunk_size (%d)", c.OverlapSize, c.MaxChunkSize)
	}
	if c.MaxConcurrentOperations <= 0 {
		return ltmcerrors.Config("max_concurrent_operations must be positive, got %d", c.MaxConcurrentOperations)
	}
	return nil
}

// GraphConfigured reports whether graph credentials were supplied; its
// absence puts the graph adapter into degraded mode from startup.
func (c *Config) GraphConfigured() bool {
	return c.GraphURI != ""
}

// CacheConfigured reports whether a cache endpoint was supplied; its
// absence means no cache is attached at all (§4.5: "purely optional").
func (c *Config) CacheConfigured() bool {
	return c.CacheURI != ""
}

// LogsDir is the directory LTMC writes its server logs under, per §6's
// persisted state layout: <data_dir>/logs/*.log.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{data_dir=%s db=%s vector=%s graph_configured=%t cache_configured=%t dim=%d}",
		c.DataDir, c.RelationalDBPath, c.VectorIndexPath, c.GraphConfigured(), c.CacheConfigured(), c.EmbeddingDim)
}
