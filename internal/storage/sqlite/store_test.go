package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(context.Background(), filepath.Join(dir, "primary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenRunsMigrationsAndVerifiesSchema(t *testing.T) {
	store := newTestStore(t)
	cols, err := tableColumns(context.Background(), store.db, "code_patterns")
	require.NoError(t, err)
	for _, col := range requiredColumns["code_patterns"] {
		assert.True(t, cols[col], "missing column %s", col)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primary.db")
	s1, err := Open(context.Background(), path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s2.Close()
}

func TestAllocateVectorIDMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := AllocateVectorID(ctx, tx)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, tx.Commit())

	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}

	tx2, err := store.BeginTx(ctx)
	require.NoError(t, err)
	next, err := AllocateVectorID(ctx, tx2)
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())
	assert.Greater(t, next, ids[len(ids)-1])
}

func TestInsertResourceAndChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	resourceID, err := InsertResource(ctx, tx, "a.md", types.ResourceTypeDocument, time.Now().UTC())
	require.NoError(t, err)

	vid, err := AllocateVectorID(ctx, tx)
	require.NoError(t, err)

	chunkIDs, err := InsertChunks(ctx, tx, resourceID, []ChunkInsert{
		{Text: "hello world", VectorID: vid, Position: 0},
	})
	require.NoError(t, err)
	require.Len(t, chunkIDs, 1)
	require.NoError(t, tx.Commit())

	res, err := store.GetResource(ctx, resourceID)
	require.NoError(t, err)
	assert.Equal(t, "a.md", res.FileName)
	assert.Equal(t, types.ResourceTypeDocument, res.ResourceType)

	hydrated, err := store.GetChunksByVectorIDs(ctx, []int64{vid})
	require.NoError(t, err)
	require.Len(t, hydrated, 1)
	assert.Equal(t, "hello world", hydrated[0].ChunkText)
	assert.Equal(t, resourceID, hydrated[0].Resource.ID)
}

func TestGetChunksByVectorIDsDropsMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hydrated, err := store.GetChunksByVectorIDs(ctx, []int64{9999})
	require.NoError(t, err)
	assert.Empty(t, hydrated)
}

func TestGetResourceNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetResource(context.Background(), 12345)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindNotFound, e.Kind)
}

func TestDeleteResourceCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	resourceID, err := InsertResource(ctx, tx, "b.md", types.ResourceTypeDocument, time.Now().UTC())
	require.NoError(t, err)
	vid, err := AllocateVectorID(ctx, tx)
	require.NoError(t, err)
	_, err = InsertChunks(ctx, tx, resourceID, []ChunkInsert{{Text: "x", VectorID: vid, Position: 0}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, store.DeleteResource(ctx, resourceID))

	_, err = store.GetResource(ctx, resourceID)
	assert.Error(t, err)

	chunks, err := store.ChunksByResource(ctx, resourceID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDeleteResourceNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.DeleteResource(context.Background(), 999)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindNotFound, e.Kind)
}

func TestCreateResourceLinkAlreadyExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	source := mustInsertResource(t, store, "s.md")
	target := mustInsertResource(t, store, "t.md")

	link := types.ResourceLink{
		SourceResourceID: source,
		TargetResourceID: target,
		LinkType:         "semantic_similarity_v1",
		Weight:           0.9,
		CreatedAt:        time.Now().UTC(),
	}
	id, err := store.CreateResourceLink(ctx, link)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = store.CreateResourceLink(ctx, link)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindExists, e.Kind)
}

func TestCreateResourceLinkNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateResourceLink(context.Background(), types.ResourceLink{
		SourceResourceID: 1,
		TargetResourceID: 2,
		LinkType:         "related_to",
		CreatedAt:        time.Now().UTC(),
	})
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindNotFound, e.Kind)
}

func TestCreateResourceLinkPreservesLinkType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	source := mustInsertResource(t, store, "s2.md")
	target := mustInsertResource(t, store, "t2.md")

	_, err := store.CreateResourceLink(ctx, types.ResourceLink{
		SourceResourceID: source,
		TargetResourceID: target,
		LinkType:         "depends_on",
		Weight:           0.5,
		CreatedAt:        time.Now().UTC(),
	})
	require.NoError(t, err)

	links, err := store.LinksBySource(ctx, source)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "depends_on", links[0].LinkType)
}

func TestAddCompleteSearchTodos(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.AddTodo(ctx, "write tests", "cover the DAL", types.PriorityHigh, time.Now().UTC())
	require.NoError(t, err)

	pending, err := store.SearchTodos(ctx, types.TodoPending, "", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "write tests", pending[0].Title)

	require.NoError(t, store.CompleteTodo(ctx, id, time.Now().UTC()))

	completed, err := store.SearchTodos(ctx, types.TodoCompleted, types.PriorityHigh, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].CompletedAt)
}

func TestCompleteTodoNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.CompleteTodo(context.Background(), 42, time.Now().UTC())
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindNotFound, e.Kind)
}

func TestChatHistoryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertChatMessage(ctx, types.ChatMessage{
		ConversationID: "c1",
		Role:           types.RoleAssistant,
		Content:        "hi there",
		Timestamp:      time.Now().UTC(),
		SourceTool:     "cli",
	})
	require.NoError(t, err)

	msgs, err := store.ChatByTool(ctx, "c1", "", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	filtered, err := store.ChatByTool(ctx, "c1", "other-tool", 10)
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func TestContextLinkRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	resourceID, err := InsertResource(ctx, tx, "c.md", types.ResourceTypeDocument, time.Now().UTC())
	require.NoError(t, err)
	vid, err := AllocateVectorID(ctx, tx)
	require.NoError(t, err)
	chunkIDs, err := InsertChunks(ctx, tx, resourceID, []ChunkInsert{{Text: "y", VectorID: vid, Position: 0}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	msgID, err := store.InsertChatMessage(ctx, types.ChatMessage{
		ConversationID: "c2", Role: types.RoleAssistant, Content: "answer", Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)

	tx2, err := store.BeginTx(ctx)
	require.NoError(t, err)
	_, err = InsertContextLink(ctx, tx2, msgID, chunkIDs[0])
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())

	linked, err := store.ContextForMessage(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, []int64{chunkIDs[0]}, linked)
}

func TestCodePatternRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	vid, err := AllocateVectorID(ctx, tx)
	require.NoError(t, err)

	execMs := int64(42)
	id, err := InsertCodePattern(ctx, tx, types.CodePattern{
		FunctionName:    "Foo",
		FileName:        "foo.go",
		ModuleName:      "pkg",
		InputPrompt:     "write foo",
		GeneratedCode:   "func Foo() {}",
		Result:          types.PatternPass,
		ExecutionTimeMs: &execMs,
		Tags:            []string{"go", "generated"},
		VectorID:        vid,
		CreatedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := store.GetCodePattern(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Foo", got.FunctionName)
	assert.Equal(t, types.PatternPass, got.Result)
	assert.Equal(t, []string{"go", "generated"}, got.Tags)
	require.NotNil(t, got.ExecutionTimeMs)
	assert.Equal(t, int64(42), *got.ExecutionTimeMs)

	list, err := store.ListCodePatterns(ctx, types.PatternPass, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMarkChunkOrphanedAndSweepHelpers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	resourceID, err := InsertResource(ctx, tx, "o.md", types.ResourceTypeDocument, time.Now().UTC())
	require.NoError(t, err)
	vid, err := AllocateVectorID(ctx, tx)
	require.NoError(t, err)
	chunkIDs, err := InsertChunks(ctx, tx, resourceID, []ChunkInsert{{Text: "z", VectorID: vid, Position: 0}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, store.MarkChunkOrphaned(ctx, chunkIDs[0]))

	orphaned, err := store.OrphanedChunks(ctx)
	require.NoError(t, err)
	require.Len(t, orphaned, 1)
	assert.True(t, orphaned[0].Orphaned)
	assert.Equal(t, chunkIDs[0], orphaned[0].ID)

	ids, err := store.AllChunkVectorIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, vid)
}

func mustInsertResource(t *testing.T, store *Store, fileName string) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	id, err := InsertResource(ctx, tx, fileName, types.ResourceTypeDocument, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}
