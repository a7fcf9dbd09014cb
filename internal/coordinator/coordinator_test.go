package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ltmc/internal/chunking"
	"ltmc/internal/embed"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/storage/sqlite"
	"ltmc/internal/storage/vector"
	"ltmc/internal/types"
)

func newTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "primary.db")
	store, err := sqlite.Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, filepath.Join(dir, "vector_index")
}

func loadVector(path string) (VectorIndex, error) {
	idx, err := vector.Load(path, 4, nil)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store, vecPath := newTestStore(t)
	chunker, err := chunking.New(1000, 200)
	require.NoError(t, err)
	return New(store, vector.New(4), vecPath, loadVector, nil, nil, chunker, embed.NewLocal(4), nil)
}

// failingVector wraps a real vector.Index but fails Save, simulating
// spec.md §8 scenario 2 (vector persistence failure mid-write).
type failingVector struct {
	*vector.Index
	failSave bool
}

func (f *failingVector) Save(path string) error {
	if f.failSave {
		return errors.New("simulated disk failure")
	}
	return f.Index.Save(path)
}

func TestStoreResourceSuccess(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.StoreResource(ctx, "a.md", types.ResourceTypeDocument, "The quick brown fox jumps.", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ResourceID)
	assert.Equal(t, 1, res.ChunkCount)

	got, err := c.Store().GetResource(ctx, res.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "a.md", got.FileName)

	assert.Len(t, c.Vector().AllIDs(), 1)
}

func TestStoreResourceEmptyContentIsValidationError(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.StoreResource(context.Background(), "empty.md", types.ResourceTypeDocument, "   ", nil)
	require.Error(t, err)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindValidation, e.Kind)
}

func TestStoreResourceVectorFailureRollsBackRelational(t *testing.T) {
	store, vecPath := newTestStore(t)
	chunker, err := chunking.New(1000, 200)
	require.NoError(t, err)

	fv := &failingVector{Index: vector.New(4), failSave: true}
	c := New(store, fv, vecPath, loadVector, nil, nil, chunker, embed.NewLocal(4), nil)

	ctx := context.Background()
	_, err = c.StoreResource(ctx, "b.md", types.ResourceTypeDocument, "hello world", nil)
	require.Error(t, err)

	var count int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&count))
	assert.Equal(t, 0, count)

	var chunkCount int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM resource_chunks`).Scan(&chunkCount))
	assert.Equal(t, 0, chunkCount)
}

// TestStoreResourceSurvivesVectorFailureOnFirstEverSave reproduces the
// scenario where a Phase B save fails before any save has ever
// succeeded: discardVectorMutations reloads from a vector index file
// that does not exist yet, and the reload must come back at the
// coordinator's configured dimension, not dimension 0 — otherwise every
// subsequent StoreResource call on the same process fails with a
// spurious dimension-mismatch ValidationError.
func TestStoreResourceSurvivesVectorFailureOnFirstEverSave(t *testing.T) {
	store, vecPath := newTestStore(t)
	chunker, err := chunking.New(1000, 200)
	require.NoError(t, err)

	fv := &failingVector{Index: vector.New(4), failSave: true}
	c := New(store, fv, vecPath, loadVector, nil, nil, chunker, embed.NewLocal(4), nil)

	ctx := context.Background()
	_, err = c.StoreResource(ctx, "b.md", types.ResourceTypeDocument, "hello world", nil)
	require.Error(t, err)

	// c.vec is now the reloaded on-disk index (vector_index doesn't
	// exist yet, since Save never succeeded), not fv — this call must
	// not fail with a dimension mismatch against a dimension-0 reload.
	res, err := c.StoreResource(ctx, "c.md", types.ResourceTypeDocument, "hello again", nil)
	require.NoError(t, err)
	assert.NotZero(t, res.ResourceID)
}

func TestMonotonicAllocatorUnderConcurrency(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			_, err := c.StoreResource(ctx, filepath.Join("concurrent", string(rune('a'+n))), types.ResourceTypeDocument,
				"alpha beta gamma delta epsilon zeta eta theta", nil)
			errs <- err
		}(i)
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
	}

	rows, err := c.Store().DB().QueryContext(ctx, `SELECT vector_id FROM resource_chunks ORDER BY vector_id`)
	require.NoError(t, err)
	defer rows.Close()

	seen := make(map[int64]bool)
	var ids []int64
	for rows.Next() {
		var id int64
		require.NoError(t, rows.Scan(&id))
		assert.False(t, seen[id], "duplicate vector id %d", id)
		seen[id] = true
		ids = append(ids, id)
	}
	assert.Len(t, ids, writers)
}

func TestCreateResourceLinkDuplicateIsAlreadyExists(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	r1, err := c.StoreResource(ctx, "src.md", types.ResourceTypeDocument, "source content here", nil)
	require.NoError(t, err)
	r2, err := c.StoreResource(ctx, "dst.md", types.ResourceTypeDocument, "target content here", nil)
	require.NoError(t, err)

	_, err = c.CreateResourceLink(ctx, r1.ResourceID, r2.ResourceID, "semantic_similarity_v1", 0.9, nil)
	require.NoError(t, err)

	_, err = c.CreateResourceLink(ctx, r1.ResourceID, r2.ResourceID, "semantic_similarity_v1", 0.9, nil)
	require.Error(t, err)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindExists, e.Kind)
}

func TestCreateResourceLinkMissingEndpointIsNotFound(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.CreateResourceLink(context.Background(), 999, 1000, "similar_to", 1.0, nil)
	require.Error(t, err)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindNotFound, e.Kind)
}

func TestLogCodePatternAllocatesVectorID(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.LogCodePattern(ctx, types.CodePattern{
		InputPrompt:   "write a fibonacci function",
		GeneratedCode: "func fib(n int) int { return n }",
		Result:        types.PatternPass,
	})
	require.NoError(t, err)

	p, err := c.Store().GetCodePattern(ctx, res.PatternID)
	require.NoError(t, err)
	assert.True(t, c.Vector().Contains(p.VectorID))
}

func TestLogChatRecordsMessage(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.LogChat(ctx, "conv-1", types.RoleUser, "hello there", "")
	require.NoError(t, err)
	assert.NotZero(t, res.MessageID)
}

func TestTodoLifecycle(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	id, err := c.AddTodo(ctx, "write tests", "", types.PriorityHigh)
	require.NoError(t, err)

	require.NoError(t, c.CompleteTodo(ctx, id))

	todos, err := c.SearchTodos(ctx, types.TodoCompleted, "", 10)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, id, todos[0].ID)
}

func TestDeleteResourceRemovesVectorsAndRow(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.StoreResource(ctx, "gone.md", types.ResourceTypeDocument, "The quick brown fox jumps.", nil)
	require.NoError(t, err)

	vecIDs := c.Vector().AllIDs()
	require.Len(t, vecIDs, 1)

	require.NoError(t, c.DeleteResource(ctx, res.ResourceID))

	_, err = c.Store().GetResource(ctx, res.ResourceID)
	require.Error(t, err)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindNotFound, e.Kind)

	assert.False(t, c.Vector().Contains(vecIDs[0]))
}

func TestDeleteResourceUnknownIsNotFound(t *testing.T) {
	c := newTestCoordinator(t)
	err := c.DeleteResource(context.Background(), 999)
	require.Error(t, err)
	e, ok := ltmcerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ltmcerrors.KindNotFound, e.Kind)
}

func TestSweepRemovesGarbageVectorAndOrphansChunk(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	res, err := c.StoreResource(ctx, "sweep.md", types.ResourceTypeDocument, "sweep me please", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunkCount)

	// Simulate a vector going missing from the index without the
	// relational row being touched (I1 violation).
	vecIdx := c.Vector()
	allIDs := vecIdx.AllIDs()
	require.Len(t, allIDs, 1)
	require.NoError(t, vecIdx.Remove(ctx, allIDs[0]))

	// Simulate a garbage vector: present in the index, no Chunk row.
	require.NoError(t, vecIdx.Add(ctx, 999999, []float32{1, 0, 0, 0}))

	report, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrphanedChunks)
	assert.Equal(t, 1, report.GarbageVectors)
	assert.Equal(t, 1, report.ReembeddedChunks)

	assert.False(t, c.Vector().Contains(999999))
	assert.True(t, c.Vector().Contains(allIDs[0]))
}
