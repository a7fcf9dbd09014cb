// Package coordinator implements LTMC's atomic multi-store engine
// (§4.1): every write fans out across the relational, vector, and graph
// stores as a single logical transaction, with cache invalidation
// trailing best-effort. It is the only component in LTMC allowed to
// begin a relational transaction that spans more than one backend.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ltmc/internal/chunking"
	"ltmc/internal/embed"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/logging"
	"ltmc/internal/storage/cache"
	"ltmc/internal/storage/sqlite"
	"ltmc/internal/storage/vector"
	"ltmc/internal/types"
)

// VectorIndex is the subset of vector.Index the coordinator drives. It is
// an interface (rather than a concrete *vector.Index) so tests can
// inject a fault on Save to exercise the Phase B rollback path (spec.md
// §8 scenario 2) without needing a real corrupt-disk setup.
type VectorIndex interface {
	Add(ctx context.Context, vectorID int64, vec []float32) error
	Remove(ctx context.Context, vectorID int64) error
	Search(ctx context.Context, query []float32, k int) ([]vector.Result, error)
	Contains(vectorID int64) bool
	AllIDs() []int64
	Save(path string) error
}

// GraphStore is the subset of graph.Adapter the coordinator and the
// retrieval pipeline's enrichment step drive.
type GraphStore interface {
	Available() bool
	UpsertResourceNode(ctx context.Context, id int64, fileName, resourceType string) error
	CreateEdge(ctx context.Context, link types.ResourceLink) error
	Neighbors(ctx context.Context, resourceID int64, linkType string) ([]types.GraphEdge, error)
	Query(ctx context.Context, cypher string, params map[string]interface{}) ([]map[string]interface{}, error)
	AllEdges(ctx context.Context) ([]types.GraphEdge, error)
	DeleteEdge(ctx context.Context, sourceID, targetID int64, linkType string) error
}

// CacheStore is the subset of cache.Adapter the coordinator and the
// retrieval pipeline drive.
type CacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
	Flush(ctx context.Context, scope string) error
	Health(ctx context.Context) bool
	Stats() cache.Stats
}

// VectorIndexLoader reloads a VectorIndex from its on-disk canonical
// path — used to discard in-memory vector additions after a failed save
// (§4.1 Phase B: "any in-memory vector additions are discarded by
// reloading the on-disk index").
type VectorIndexLoader func(path string) (VectorIndex, error)

// Coordinator is LTMC's atomic multi-store engine.
type Coordinator struct {
	store    *sqlite.Store
	chunker  *chunking.Chunker
	embedder embed.Embedder
	log      logging.Logger

	vectorPath string
	loadVector VectorIndexLoader

	vecMu sync.RWMutex
	vec   VectorIndex

	graph GraphStore
	cache CacheStore

	resourceLocks sync.Map // file_name -> *sync.Mutex

	graphDegraded bool
	degradedMu    sync.RWMutex
}

// New builds a Coordinator. graph and cacheStore may be nil — the
// coordinator treats a nil graph as permanently unavailable (degraded
// mode from construction) and a nil cache as simply absent, matching
// §4.4/§4.5's "purely optional" contracts.
func New(store *sqlite.Store, vec VectorIndex, vectorPath string, loadVector VectorIndexLoader, graph GraphStore, cacheStore CacheStore, chunker *chunking.Chunker, embedder embed.Embedder, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Noop{}
	}
	c := &Coordinator{
		store:      store,
		vec:        vec,
		vectorPath: vectorPath,
		loadVector: loadVector,
		graph:      graph,
		cache:      cacheStore,
		chunker:    chunker,
		embedder:   embedder,
		log:        log.WithComponent("coordinator"),
	}
	if graph == nil || !graph.Available() {
		c.graphDegraded = true
	}
	return c
}

func (c *Coordinator) lockFor(fileName string) *sync.Mutex {
	mu, _ := c.resourceLocks.LoadOrStore(fileName, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Coordinator) setGraphDegraded(v bool) {
	c.degradedMu.Lock()
	defer c.degradedMu.Unlock()
	c.graphDegraded = v
}

// GraphDegraded reports whether the graph backend is currently in
// degraded mode, for health reporting (§4.4).
func (c *Coordinator) GraphDegraded() bool {
	c.degradedMu.RLock()
	defer c.degradedMu.RUnlock()
	return c.graphDegraded
}

func (c *Coordinator) currentVector() VectorIndex {
	c.vecMu.RLock()
	defer c.vecMu.RUnlock()
	return c.vec
}

// StoreResourceResult is returned by StoreResource.
type StoreResourceResult struct {
	ResourceID int64
	ChunkCount int
}

// StoreResource implements the atomic write protocol of §4.1 for a new
// Resource and its Chunks. Writes to the same file_name serialize on a
// per-resource lock.
func (c *Coordinator) StoreResource(ctx context.Context, fileName string, resourceType types.ResourceType, content string, metadata map[string]interface{}) (*StoreResourceResult, error) {
	if !resourceType.Valid() {
		return nil, ltmcerrors.Validation("unknown resource_type %q", resourceType)
	}

	lock := c.lockFor(fileName)
	lock.Lock()
	defer lock.Unlock()

	pieces, err := c.chunker.Split(content)
	if err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(pieces))
	for i, p := range pieces {
		vec, err := c.embedder.Encode(ctx, p.Text)
		if err != nil {
			return nil, ltmcerrors.Internal(fmt.Errorf("embedding chunk %d: %w", i, err))
		}
		embeddings[i] = vec
	}

	now := time.Now().UTC()

	// Phase A: relational insert, not yet committed.
	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	resourceID, err := sqlite.InsertResource(ctx, tx, fileName, resourceType, now)
	if err != nil {
		return nil, err
	}

	vectorIDs := make([]int64, len(pieces))
	inserts := make([]sqlite.ChunkInsert, len(pieces))
	for i, p := range pieces {
		vid, err := sqlite.AllocateVectorID(ctx, tx)
		if err != nil {
			return nil, err
		}
		vectorIDs[i] = vid
		inserts[i] = sqlite.ChunkInsert{Text: p.Text, VectorID: vid, Position: p.Position}
	}

	if _, err := sqlite.InsertChunks(ctx, tx, resourceID, inserts); err != nil {
		return nil, err
	}

	// Phase B: vector persistence. A failure here aborts the relational
	// transaction and discards any in-memory vector mutations by
	// reloading the canonical on-disk index.
	vec := c.currentVector()
	for i, vid := range vectorIDs {
		if err := vec.Add(ctx, vid, embeddings[i]); err != nil {
			c.discardVectorMutations()
			return nil, err
		}
	}
	if err := vec.Save(c.vectorPath); err != nil {
		c.discardVectorMutations()
		return nil, ltmcerrors.Storage(ltmcerrors.BackendVector, err)
	}

	// Phase C: graph, best-effort.
	c.upsertGraphNode(ctx, resourceID, fileName, string(resourceType))

	// Phase D: commit relational.
	if err := tx.Commit(); err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	committed = true

	// Phase E: cache invalidation, best-effort.
	c.invalidateRetrieval(ctx)

	return &StoreResourceResult{ResourceID: resourceID, ChunkCount: len(pieces)}, nil
}

// discardVectorMutations reloads the vector index from its last-saved
// on-disk state, undoing any Add calls made during a Phase B that
// ultimately failed.
func (c *Coordinator) discardVectorMutations() {
	if c.loadVector == nil {
		return
	}
	reloaded, err := c.loadVector(c.vectorPath)
	if err != nil {
		c.log.Error("reloading vector index after failed save", "error", err.Error())
		return
	}
	c.vecMu.Lock()
	c.vec = reloaded
	c.vecMu.Unlock()
}

func (c *Coordinator) upsertGraphNode(ctx context.Context, id int64, fileName, resourceType string) {
	if c.graph == nil {
		return
	}
	if err := c.graph.UpsertResourceNode(ctx, id, fileName, resourceType); err != nil {
		c.log.Warn("graph upsert failed, continuing in degraded mode", "resource_id", id, "error", err.Error())
		c.setGraphDegraded(true)
		return
	}
	c.setGraphDegraded(false)
}

func (c *Coordinator) invalidateRetrieval(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, "retrieve:*"); err != nil {
		c.log.Warn("cache invalidation failed", "error", err.Error())
	}
}

// CreateResourceLinkResult is returned by CreateResourceLink.
type CreateResourceLinkResult struct {
	LinkID int64
}

// CreateResourceLink creates a typed edge between two resources,
// mirrored in the relational store and (best-effort) the graph. It
// reports AlreadyExists if the (source, target, link_type) triple is
// already present and NotFound if either endpoint is missing (both
// surfaced directly from the relational layer).
func (c *Coordinator) CreateResourceLink(ctx context.Context, sourceID, targetID int64, linkType string, weight float64, metadata map[string]interface{}) (*CreateResourceLinkResult, error) {
	if linkType == "" {
		return nil, ltmcerrors.Validation("link_type must not be empty")
	}

	link := types.ResourceLink{
		SourceResourceID: sourceID,
		TargetResourceID: targetID,
		LinkType:         linkType,
		Weight:           weight,
		Metadata:         metadata,
		CreatedAt:        time.Now().UTC(),
	}

	id, err := c.store.CreateResourceLink(ctx, link)
	if err != nil {
		return nil, err
	}
	link.ID = id

	if c.graph != nil {
		if err := c.graph.CreateEdge(ctx, link); err != nil {
			c.log.Warn("graph edge creation failed, relational mirror stands", "link_id", id, "error", err.Error())
			c.setGraphDegraded(true)
		} else {
			c.setGraphDegraded(false)
		}
	}

	if c.cache != nil {
		entity := fmt.Sprintf("%d", sourceID)
		_ = c.cache.Invalidate(ctx, "graph:"+entity+":*")
		entity = fmt.Sprintf("%d", targetID)
		_ = c.cache.Invalidate(ctx, "graph:"+entity+":*")
	}

	return &CreateResourceLinkResult{LinkID: id}, nil
}

// LogCodePatternResult is returned by LogCodePattern.
type LogCodePatternResult struct {
	PatternID int64
}

// LogCodePattern records one code-generation attempt with the same
// atomicity discipline as StoreResource: the embedded text is
// input_prompt + "\n" + generated_code (§4.1), stored under a single
// newly allocated vector id.
func (c *Coordinator) LogCodePattern(ctx context.Context, p types.CodePattern) (*LogCodePatternResult, error) {
	if p.InputPrompt == "" || p.GeneratedCode == "" {
		return nil, ltmcerrors.Validation("input_prompt and generated_code must not be empty")
	}
	if !p.Result.Valid() {
		return nil, ltmcerrors.Validation("unknown pattern result %q", p.Result)
	}

	embedText := p.InputPrompt + "\n" + p.GeneratedCode
	vec, err := c.embedder.Encode(ctx, embedText)
	if err != nil {
		return nil, ltmcerrors.Internal(fmt.Errorf("embedding code pattern: %w", err))
	}

	tx, err := c.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	vid, err := sqlite.AllocateVectorID(ctx, tx)
	if err != nil {
		return nil, err
	}
	p.VectorID = vid
	p.CreatedAt = time.Now().UTC()

	id, err := sqlite.InsertCodePattern(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	idx := c.currentVector()
	if err := idx.Add(ctx, vid, vec); err != nil {
		c.discardVectorMutations()
		return nil, err
	}
	if err := idx.Save(c.vectorPath); err != nil {
		c.discardVectorMutations()
		return nil, ltmcerrors.Storage(ltmcerrors.BackendVector, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	committed = true

	c.invalidateRetrieval(ctx)

	return &LogCodePatternResult{PatternID: id}, nil
}

// LogChatResult is returned by LogChat.
type LogChatResult struct {
	MessageID int64
}

// LogChat records one conversation turn. Chat writes are relational-only
// (§4.1); cache invalidation covers the message's scoped chat key.
func (c *Coordinator) LogChat(ctx context.Context, conversationID string, role types.Role, content, sourceTool string) (*LogChatResult, error) {
	if !role.Valid() {
		return nil, ltmcerrors.Validation("unknown role %q", role)
	}
	if content == "" {
		return nil, ltmcerrors.Validation("content must not be empty")
	}

	id, err := c.store.InsertChatMessage(ctx, types.ChatMessage{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Timestamp:      time.Now().UTC(),
		SourceTool:     sourceTool,
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		_ = c.cache.Invalidate(ctx, "chat:"+conversationID+":*")
	}

	return &LogChatResult{MessageID: id}, nil
}

// AddTodo inserts a new pending Todo.
func (c *Coordinator) AddTodo(ctx context.Context, title, description string, priority types.Priority) (int64, error) {
	if title == "" {
		return 0, ltmcerrors.Validation("title must not be empty")
	}
	if !priority.Valid() {
		return 0, ltmcerrors.Validation("unknown priority %q", priority)
	}

	id, err := c.store.AddTodo(ctx, title, description, priority, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if c.cache != nil {
		_ = c.cache.Invalidate(ctx, "todo:*")
	}
	return id, nil
}

// CompleteTodo marks a Todo completed.
func (c *Coordinator) CompleteTodo(ctx context.Context, id int64) error {
	if err := c.store.CompleteTodo(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	if c.cache != nil {
		_ = c.cache.Invalidate(ctx, "todo:*")
	}
	return nil
}

// SearchTodos is relational-only, no cache invalidation needed.
func (c *Coordinator) SearchTodos(ctx context.Context, status types.TodoStatus, priority types.Priority, limit int) ([]types.Todo, error) {
	return c.store.SearchTodos(ctx, status, priority, limit)
}

// DeleteResource removes a Resource and its Chunks (relational cascade),
// then removes the now-orphaned vectors from the index and re-saves it,
// and invalidates any cached retrieval results that might still
// reference the deleted content (§4.5: "invalidation precedes deletion
// ack"). The graph backend is not touched here: the resource's
// resource_links rows go with the relational cascade, and Sweep later
// deletes graph edges that no longer have a backing row.
func (c *Coordinator) DeleteResource(ctx context.Context, resourceID int64) error {
	chunks, err := c.store.ChunksByResource(ctx, resourceID)
	if err != nil {
		return err
	}

	c.invalidateRetrieval(ctx)

	if err := c.store.DeleteResource(ctx, resourceID); err != nil {
		return err
	}

	idx := c.currentVector()
	removedAny := false
	for _, ch := range chunks {
		if err := idx.Remove(ctx, ch.VectorID); err != nil {
			c.log.Warn("removing vector after resource delete", "vector_id", ch.VectorID, "error", err.Error())
			continue
		}
		removedAny = true
	}
	if removedAny {
		if err := idx.Save(c.vectorPath); err != nil {
			c.log.Error("saving vector index after resource delete", "error", err.Error())
			return ltmcerrors.Storage(ltmcerrors.BackendVector, err)
		}
	}

	return nil
}

// Store exposes the relational DAL for read-mostly dispatch paths
// (chat history, todo listing, pattern lookups) that don't need the
// coordinator's write discipline.
func (c *Coordinator) Store() *sqlite.Store { return c.store }

// Vector exposes the current live vector index, for the retrieval
// pipeline's search step.
func (c *Coordinator) Vector() VectorIndex { return c.currentVector() }

// Graph exposes the graph backend, for the retrieval pipeline's
// enrichment step.
func (c *Coordinator) Graph() GraphStore { return c.graph }

// Cache exposes the cache backend, for the retrieval pipeline's
// memoization.
func (c *Coordinator) Cache() CacheStore { return c.cache }

// Embedder exposes the process-wide Embedder singleton.
func (c *Coordinator) Embedder() embed.Embedder { return c.embedder }

// NewConversationID mints a fresh conversation id for callers that don't
// supply their own, grounded on the teacher's pervasive use of
// google/uuid for entity identifiers.
func NewConversationID() string {
	return uuid.NewString()
}
