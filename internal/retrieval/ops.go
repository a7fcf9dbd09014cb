package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/storage/sqlite"
	"ltmc/internal/types"
)

// AskWithContextResult is returned by AskWithContext.
type AskWithContextResult struct {
	MessageID int64
	Chunks    []RetrievedChunk
	LinkedIDs []int64 // context_link ids actually written
}

// AskWithContext implements §4.6's ask_with_context: retrieve, then
// log_chat, then bind ContextLinks from the new message to each
// returned chunk. The three steps are deliberately NOT atomic across
// stores (per spec): if log_chat fails after a successful retrieve, no
// links are written; if link creation partially fails, the message
// itself still stands because links are additive, not required for the
// message to be valid.
func (p *Pipeline) AskWithContext(ctx context.Context, query, conversationID string, topK int) (*AskWithContextResult, error) {
	if conversationID == "" {
		return nil, ltmcerrors.Validation("conversation_id must not be empty")
	}

	chunks, err := p.Retrieve(ctx, query, topK, RetrieveOptions{})
	if err != nil {
		return nil, err
	}

	chatRes, err := p.c.LogChat(ctx, conversationID, types.RoleAssistant, query, "ask_with_context")
	if err != nil {
		return nil, err
	}

	var linkedIDs []int64
	for _, chunk := range chunks {
		id, err := p.linkContext(ctx, chatRes.MessageID, chunk.ID)
		if err != nil {
			p.log.Warn("context link write failed, message stands without it",
				"message_id", chatRes.MessageID, "chunk_id", chunk.ID, "error", err.Error())
			continue
		}
		linkedIDs = append(linkedIDs, id)
	}

	return &AskWithContextResult{MessageID: chatRes.MessageID, Chunks: chunks, LinkedIDs: linkedIDs}, nil
}

func (p *Pipeline) linkContext(ctx context.Context, messageID, chunkID int64) (int64, error) {
	tx, err := p.c.Store().BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	id, err := sqlite.InsertContextLink(ctx, tx, messageID, chunkID)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, ltmcerrors.Storage(ltmcerrors.BackendRelational, err)
	}
	return id, nil
}

// AutoLinkDocuments implements §4.6's auto_link_documents: pairwise
// cosine similarity between the given resources' centroids (re-derived
// from their chunk text by resourceCentroids), creating a "similar_to" ResourceLink for every
// pair scoring above threshold, capped at maxLinksPerDoc per resource
// and skipping pairs already linked. Idempotent: a second run over the
// same document set creates no new links, since CreateResourceLink
// reports (and this treats as a no-op) AlreadyExists.
func (p *Pipeline) AutoLinkDocuments(ctx context.Context, resourceIDs []int64, similarityThreshold float64, maxLinksPerDoc int) (int, error) {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.7
	}
	if maxLinksPerDoc <= 0 {
		maxLinksPerDoc = 5
	}
	if len(resourceIDs) < 2 {
		return 0, nil
	}

	centroids, err := p.resourceCentroids(ctx, resourceIDs)
	if err != nil {
		return 0, err
	}

	type candidate struct {
		targetID   int64
		similarity float64
	}
	byDoc := make(map[int64][]candidate, len(centroids))

	for i := 0; i < len(resourceIDs); i++ {
		for j := i + 1; j < len(resourceIDs); j++ {
			a, b := resourceIDs[i], resourceIDs[j]
			va, okA := centroids[a]
			vb, okB := centroids[b]
			if !okA || !okB {
				continue
			}
			sim := cosineSimilarity(va, vb)
			if sim < similarityThreshold {
				continue
			}
			byDoc[a] = append(byDoc[a], candidate{targetID: b, similarity: sim})
			byDoc[b] = append(byDoc[b], candidate{targetID: a, similarity: sim})
		}
	}

	created := 0
	linked := make(map[[2]int64]bool)
	for _, source := range resourceIDs {
		cands := byDoc[source]
		sort.Slice(cands, func(i, j int) bool { return cands[i].similarity > cands[j].similarity })
		if len(cands) > maxLinksPerDoc {
			cands = cands[:maxLinksPerDoc]
		}
		for _, cand := range cands {
			key := linkKey(source, cand.targetID)
			if linked[key] {
				continue
			}
			linked[key] = true

			_, err := p.c.CreateResourceLink(ctx, source, cand.targetID, "similar_to", cand.similarity, nil)
			if err != nil {
				if e, ok := ltmcerrors.As(err); ok && e.Kind == ltmcerrors.KindExists {
					continue
				}
				return created, err
			}
			created++
		}
	}

	return created, nil
}

func linkKey(a, b int64) [2]int64 {
	if a < b {
		return [2]int64{a, b}
	}
	return [2]int64{b, a}
}

// resourceCentroids computes, per resource, the mean of its chunks'
// embeddings. The vector index has no lookup-by-id API (coder/hnsw
// exposes search, not retrieval), so centroids are re-derived straight
// from the relational chunk text through the process-wide Embedder —
// the same source that produced each chunk's stored vector at
// store_resource time.
func (p *Pipeline) resourceCentroids(ctx context.Context, resourceIDs []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(resourceIDs))
	dim := p.c.Embedder().Dimensions()

	for _, id := range resourceIDs {
		chunks, err := p.c.Store().ChunksByResource(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			continue
		}

		sum := make([]float32, dim)
		for _, ch := range chunks {
			vec, err := p.c.Embedder().Encode(ctx, ch.ChunkText)
			if err != nil {
				return nil, ltmcerrors.Internal(err)
			}
			for i := 0; i < dim && i < len(vec); i++ {
				sum[i] += vec[i]
			}
		}
		n := float32(len(chunks))
		for i := range sum {
			sum[i] /= n
		}
		out[id] = sum
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Context is the formatted output of BuildContext: the retrieved chunks
// plus a single concatenated text blob truncated to a token (whitespace
// token, matching the chunker's own unit) budget, ready to splice into a
// downstream prompt.
type Context struct {
	Chunks      []RetrievedChunk `json:"chunks"`
	Text        string           `json:"text"`
	TotalTokens int              `json:"total_tokens"`
}

const defaultContextTokenBudget = 2048

// BuildContext retrieves chunks for query and formats them into a single
// context window, filling greedily in rank order until maxTokens
// (whitespace tokens) would be exceeded. maxTokens <= 0 uses the default
// budget.
func (p *Pipeline) BuildContext(ctx context.Context, query string, topK int, typeFilter types.ResourceType, maxTokens int) (*Context, error) {
	if maxTokens <= 0 {
		maxTokens = defaultContextTokenBudget
	}

	chunks, err := p.Retrieve(ctx, query, topK, RetrieveOptions{TypeFilter: typeFilter})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &Context{Chunks: []RetrievedChunk{}}, nil
	}

	var b strings.Builder
	used := 0
	kept := make([]RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		n := len(strings.Fields(c.ChunkText))
		if used > 0 && used+n > maxTokens {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s#%d] %s", c.Resource.FileName, c.Position, c.ChunkText)
		used += n
		kept = append(kept, c)
	}

	return &Context{Chunks: kept, Text: b.String(), TotalTokens: used}, nil
}
