package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltmc/internal/chunking"
	"ltmc/internal/coordinator"
	"ltmc/internal/embed"
	"ltmc/internal/retrieval"
	"ltmc/internal/storage/sqlite"
	"ltmc/internal/storage/vector"
)

func loadVector(path string) (coordinator.VectorIndex, error) {
	idx, err := vector.Load(path, 4, nil)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func newTestDeps(t *testing.T) (*coordinator.Coordinator, *retrieval.Pipeline) {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "primary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chunker, err := chunking.New(1000, 200)
	require.NoError(t, err)

	vecPath := filepath.Join(dir, "vector_index")
	c := coordinator.New(store, vector.New(4), vecPath, loadVector, nil, nil, chunker, embed.NewLocal(4), nil)
	p := retrieval.New(c, time.Minute, nil)
	return c, p
}

func TestMemoryStoreAndRetrieveRoundTrip(t *testing.T) {
	c, p := newTestDeps(t)
	_, handler := MemoryTool(c, p)
	ctx := context.Background()

	storeResult, err := handler.Handle(ctx, map[string]interface{}{
		"action":        "store",
		"file_name":     "a.md",
		"resource_type": "document",
		"content":       "the quick brown fox jumps over the lazy dog",
	})
	require.NoError(t, err)
	env := storeResult.(*Envelope)
	require.True(t, env.Success)

	retrieveResult, err := handler.Handle(ctx, map[string]interface{}{
		"action": "retrieve",
		"query":  "quick brown fox",
		"top_k":  float64(5),
	})
	require.NoError(t, err)
	env = retrieveResult.(*Envelope)
	require.True(t, env.Success)
}

func TestMemoryStoreMissingContentIsValidationEnvelope(t *testing.T) {
	c, p := newTestDeps(t)
	_, handler := MemoryTool(c, p)

	result, err := handler.Handle(context.Background(), map[string]interface{}{
		"action":        "store",
		"file_name":     "a.md",
		"resource_type": "document",
	})
	require.NoError(t, err)
	env := result.(*Envelope)
	assert.False(t, env.Success)
	assert.Equal(t, "ValidationError", env.Error.Kind)
}

func TestMemoryUnknownActionIsValidationEnvelope(t *testing.T) {
	c, p := newTestDeps(t)
	_, handler := MemoryTool(c, p)

	result, err := handler.Handle(context.Background(), map[string]interface{}{"action": "explode"})
	require.NoError(t, err)
	env := result.(*Envelope)
	assert.False(t, env.Success)
	assert.Equal(t, "ValidationError", env.Error.Kind)
}

func TestTodoAddCompleteSearchLifecycle(t *testing.T) {
	c, _ := newTestDeps(t)
	_, handler := TodoTool(c)
	ctx := context.Background()

	addResult, err := handler.Handle(ctx, map[string]interface{}{
		"action":   "add",
		"title":    "write tests",
		"priority": "high",
	})
	require.NoError(t, err)
	env := addResult.(*Envelope)
	require.True(t, env.Success)
	id := env.Result.(map[string]interface{})["id"].(int64)

	_, err = handler.Handle(ctx, map[string]interface{}{"action": "complete", "id": float64(id)})
	require.NoError(t, err)

	searchResult, err := handler.Handle(ctx, map[string]interface{}{"action": "search", "status": "completed"})
	require.NoError(t, err)
	env = searchResult.(*Envelope)
	require.True(t, env.Success)
}

func TestChatLogAndContext(t *testing.T) {
	c, p := newTestDeps(t)
	_, memHandler := MemoryTool(c, p)
	_, chatHandler := ChatTool(c, p)
	ctx := context.Background()

	_, err := memHandler.Handle(ctx, map[string]interface{}{
		"action":        "store",
		"file_name":     "a.md",
		"resource_type": "document",
		"content":       "deployment pipelines and release automation",
	})
	require.NoError(t, err)

	logResult, err := chatHandler.Handle(ctx, map[string]interface{}{
		"action":          "log",
		"conversation_id": "c1",
		"role":            "user",
		"content":         "hello",
	})
	require.NoError(t, err)
	env := logResult.(*Envelope)
	require.True(t, env.Success)

	ctxResult, err := chatHandler.Handle(ctx, map[string]interface{}{
		"action":          "context",
		"query":           "deployment pipelines",
		"conversation_id": "c1",
		"top_k":           float64(2),
	})
	require.NoError(t, err)
	env = ctxResult.(*Envelope)
	require.True(t, env.Success)
}

func TestPatternLogAndAnalyze(t *testing.T) {
	c, _ := newTestDeps(t)
	_, handler := PatternTool(c)
	ctx := context.Background()

	logResult, err := handler.Handle(ctx, map[string]interface{}{
		"action":         "log",
		"input_prompt":   "write a sorter",
		"generated_code": "func Sort() {}",
		"result":         "pass",
	})
	require.NoError(t, err)
	env := logResult.(*Envelope)
	require.True(t, env.Success)

	analyzeResult, err := handler.Handle(ctx, map[string]interface{}{"action": "analyze"})
	require.NoError(t, err)
	env = analyzeResult.(*Envelope)
	require.True(t, env.Success)
	stats := env.Result.(patternStats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pass)
}

func TestGraphLinkThenGetRelationshipsFallsBackToRelational(t *testing.T) {
	c, p := newTestDeps(t)
	_, memHandler := MemoryTool(c, p)
	_, graphHandler := GraphTool(c, p)
	ctx := context.Background()

	_, err := memHandler.Handle(ctx, map[string]interface{}{
		"action": "store", "file_name": "a.md", "resource_type": "document", "content": "a",
	})
	require.NoError(t, err)
	_, err = memHandler.Handle(ctx, map[string]interface{}{
		"action": "store", "file_name": "b.md", "resource_type": "document", "content": "b",
	})
	require.NoError(t, err)

	linkResult, err := graphHandler.Handle(ctx, map[string]interface{}{
		"action": "link", "source_id": float64(1), "target_id": float64(2), "link_type": "relates_to",
	})
	require.NoError(t, err)
	env := linkResult.(*Envelope)
	require.True(t, env.Success)

	relResult, err := graphHandler.Handle(ctx, map[string]interface{}{"action": "get_relationships", "resource_id": float64(1)})
	require.NoError(t, err)
	env = relResult.(*Envelope)
	require.True(t, env.Success)
	payload := env.Result.(map[string]interface{})
	assert.Equal(t, true, payload["fallback"])
}

func TestCacheToolReportsUnconfigured(t *testing.T) {
	c, _ := newTestDeps(t)
	_, handler := CacheTool(c)

	result, err := handler.Handle(context.Background(), map[string]interface{}{"action": "stats"})
	require.NoError(t, err)
	env := result.(*Envelope)
	require.True(t, env.Success)
	assert.Equal(t, false, env.Result.(map[string]interface{})["configured"])
}

func TestCacheToolHealthReportsGraphAvailability(t *testing.T) {
	c, _ := newTestDeps(t)
	_, handler := CacheTool(c)

	result, err := handler.Handle(context.Background(), map[string]interface{}{"action": "health"})
	require.NoError(t, err)
	env := result.(*Envelope)
	require.True(t, env.Success)
	payload := env.Result.(map[string]interface{})
	assert.Equal(t, false, payload["graph_available"])
	assert.Equal(t, false, payload["cache_configured"])
}
