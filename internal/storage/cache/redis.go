// Package cache is LTMC's optional memoization layer: a Redis adapter
// implementing the key scheme and conservative invalidation rules of
// §4.5, grounded on the TTL/hit-miss bookkeeping in the teacher's
// embeddings.EmbeddingCache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	ltmcerrors "ltmc/internal/errors"
)

// DefaultRetrievalTTL is the TTL applied to retrieve:* entries unless
// the caller configures a different one.
const DefaultRetrievalTTL = 300 * time.Second

// Stats mirrors the hit/miss bookkeeping the teacher's
// in-process embedding cache keeps, applied here to the shared Redis
// instance.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Adapter wraps a go-redis client. On connection failure Get, Set and
// Invalidate return an Unavailable error, which the coordinator and the
// retrieval pipeline treat as non-fatal — spec.md §4.5 makes the cache
// purely optional.
type Adapter struct {
	client *redis.Client
	hits   atomic.Int64
	misses atomic.Int64
}

// New connects to a Redis instance at addr. It does not ping eagerly;
// Health performs that check on demand so a transient outage at startup
// never blocks the server.
func New(addr, password string, db int) *Adapter {
	return &Adapter{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromClient wraps an already-constructed client, used by tests
// backed by miniredis.
func NewFromClient(client *redis.Client) *Adapter {
	return &Adapter{client: client}
}

// Get fetches and unmarshals a cached value into dest. It reports
// (false, nil) on a miss and (false, err) only for an unexpected
// backend failure — callers treat both the same way (fall through to a
// direct read) but the distinction helps Health reporting.
func (a *Adapter) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := a.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		a.misses.Add(1)
		return false, nil
	}
	if err != nil {
		a.misses.Add(1)
		return false, ltmcerrors.Unavailable("cache get %s: %v", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, ltmcerrors.Internal(err)
	}
	a.hits.Add(1)
	return true, nil
}

// Set stores value under key with the given ttl.
func (a *Adapter) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return ltmcerrors.Internal(err)
	}
	if err := a.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return ltmcerrors.Unavailable("cache set %s: %v", key, err)
	}
	return nil
}

// Invalidate deletes every key matching a glob pattern (e.g. "retrieve:*").
func (a *Adapter) Invalidate(ctx context.Context, pattern string) error {
	iter := a.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return ltmcerrors.Unavailable("cache scan %s: %v", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := a.client.Del(ctx, keys...).Err(); err != nil {
		return ltmcerrors.Unavailable("cache del %s: %v", pattern, err)
	}
	return nil
}

// Flush removes every key under a scope prefix (e.g. "todo:").
func (a *Adapter) Flush(ctx context.Context, scope string) error {
	return a.Invalidate(ctx, scope+"*")
}

// Health reports whether Redis answers a PING.
func (a *Adapter) Health(ctx context.Context) bool {
	return a.client.Ping(ctx).Err() == nil
}

// Stats returns cumulative hit/miss counters since process start.
func (a *Adapter) Stats() Stats {
	return Stats{Hits: a.hits.Load(), Misses: a.misses.Load()}
}

// Close releases the underlying connection pool.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// RetrieveKey builds the retrieve:{hash(query)}:{top_k}:{filters_hash} key.
func RetrieveKey(query string, topK int, filters string) string {
	return fmt.Sprintf("retrieve:%s:%d:%s", hashString(query), topK, hashString(filters))
}

// ChatKey builds the chat:{conversation_id}:{source_tool}:{limit} key.
func ChatKey(conversationID, sourceTool string, limit int) string {
	return fmt.Sprintf("chat:%s:%s:%d", conversationID, sourceTool, limit)
}

// TodoKey builds the todo:{status}:{priority}:{limit} key.
func TodoKey(status, priority string, limit int) string {
	return fmt.Sprintf("todo:%s:%s:%d", status, priority, limit)
}

// GraphKey builds the graph:{entity}:{relation_type} key.
func GraphKey(entity, relationType string) string {
	return fmt.Sprintf("graph:%s:%s", entity, relationType)
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
