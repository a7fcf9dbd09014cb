// Command ltmc-server runs the long-term memory MCP service over stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"ltmc/internal/chunking"
	"ltmc/internal/config"
	"ltmc/internal/coordinator"
	"ltmc/internal/dispatch"
	"ltmc/internal/embed"
	"ltmc/internal/logging"
	"ltmc/internal/retrieval"
	"ltmc/internal/storage/cache"
	"ltmc/internal/storage/graph"
	"ltmc/internal/storage/sqlite"
	"ltmc/internal/storage/vector"
	"ltmc/pkg/mcp/server"
	"ltmc/pkg/mcp/transport"
)

const (
	serverName    = "ltmc"
	serverVersion = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ltmc-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := openLogger(cfg)
	if err != nil {
		return fmt.Errorf("opening logger: %w", err)
	}
	log.Info("starting", "data_dir", cfg.DataDir, "graph_configured", cfg.GraphConfigured(), "cache_configured", cfg.CacheConfigured())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := sqlite.Open(ctx, cfg.RelationalDBPath)
	if err != nil {
		return fmt.Errorf("opening relational store: %w", err)
	}
	defer store.Close()

	vec, err := vector.Load(cfg.VectorIndexPath, cfg.EmbeddingDim, log)
	if err != nil {
		return fmt.Errorf("loading vector index: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}

	var graphStore coordinator.GraphStore
	if cfg.GraphConfigured() {
		adapter, err := graph.New(ctx, cfg.GraphURI, cfg.GraphUser, cfg.GraphPassword)
		if err != nil {
			log.Warn("graph backend unavailable at startup, continuing degraded", "error", err)
		} else {
			graphStore = adapter
			defer func() {
				if err := adapter.Close(ctx); err != nil {
					log.Warn("closing graph driver", "error", err)
				}
			}()
		}
	}

	var cacheStore coordinator.CacheStore
	if cfg.CacheConfigured() {
		cacheStore = cache.New(cfg.CacheURI, cfg.CachePassword, 0)
	}

	chunker, err := chunking.New(cfg.MaxChunkSize, cfg.OverlapSize)
	if err != nil {
		return fmt.Errorf("building chunker: %w", err)
	}

	loadVectorIndex := func(path string) (coordinator.VectorIndex, error) {
		return vector.Load(path, cfg.EmbeddingDim, log)
	}
	coord := coordinator.New(store, vec, cfg.VectorIndexPath, loadVectorIndex, graphStore, cacheStore, chunker, embedder, log)

	report, err := coord.Sweep(ctx)
	if err != nil {
		log.Warn("startup consistency sweep failed", "error", err)
	} else {
		log.Info("startup consistency sweep complete",
			"orphaned_chunks", report.OrphanedChunks,
			"garbage_vectors", report.GarbageVectors,
			"reupserted_edges", report.ReupsertedEdges,
			"deleted_edges", report.DeletedEdges,
			"reembedded_chunks", report.ReembeddedChunks,
		)
	}

	pipeline := retrieval.New(coord, cfg.CacheTTL, log)

	srv := server.NewServer(serverName, serverVersion)
	dispatch.Register(srv, coord, pipeline)
	srv.SetTransport(transport.NewStdioTransportWithConcurrency(os.Stdin, os.Stdout, cfg.MaxConcurrentOperations))

	log.Info("ready")
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

// openLogger opens the server log file under cfg.LogsDir() so that
// stdout stays reserved for the JSON-RPC stream. An explicit LTMC_LOG_FILE
// overrides the default location.
func openLogger(cfg *config.Config) (logging.Logger, error) {
	logFile := cfg.LogFile
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(cfg.LogsDir(), "ltmc.log")
	}
	return logging.NewFromFile(logFile, logging.ParseLevel(cfg.LogLevel))
}

// buildEmbedder selects the embedding backend named by
// cfg.EmbeddingModelName. "local" (the default) needs no external
// service; an "openai:<model>" value switches to the OpenAI-backed
// Embedder, reading its API key from the environment directly since the
// key is a deployment secret, not a persisted configuration value.
func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	const openAIPrefix = "openai:"
	if strings.HasPrefix(cfg.EmbeddingModelName, openAIPrefix) {
		return embed.NewOpenAI(embed.OpenAIConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  strings.TrimPrefix(cfg.EmbeddingModelName, openAIPrefix),
			Dim:    cfg.EmbeddingDim,
		})
	}
	return embed.NewLocal(cfg.EmbeddingDim), nil
}
