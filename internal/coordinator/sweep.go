package coordinator

import (
	"context"
	"fmt"

	"ltmc/internal/types"
)

// SweepReport summarizes what the consistency sweep repaired, per
// §4.1.1. It never blocks startup unless the relational store itself is
// unreadable.
type SweepReport struct {
	OrphanedChunks   int // Chunk.vector_id missing from the vector index
	GarbageVectors   int // vector id with no backing Chunk row
	ReupsertedEdges  int // ResourceLink not mirrored in the graph
	DeletedEdges     int // graph edge with no backing ResourceLink row
	ReembeddedChunks int // orphaned chunks successfully re-embedded
}

// Sweep runs the consistency sweep (§4.1.1): it reconciles the
// relational store's Chunk.vector_id column against the vector index in
// both directions, then reconciles ResourceLinks against the graph
// backend if it's available. It is idempotent — running it twice in a
// row with no intervening writes produces an empty report the second
// time.
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	relationalIDs, err := c.store.AllChunkVectorIDs(ctx)
	if err != nil {
		return report, err
	}
	relationalSet := make(map[int64]bool, len(relationalIDs))
	for _, id := range relationalIDs {
		relationalSet[id] = true
	}

	idx := c.currentVector()
	indexSet := make(map[int64]bool)
	for _, id := range idx.AllIDs() {
		indexSet[id] = true
	}

	// I2: vector ids in the index with no backing Chunk row are garbage.
	for id := range indexSet {
		if !relationalSet[id] {
			if err := idx.Remove(ctx, id); err != nil {
				return report, err
			}
			report.GarbageVectors++
		}
	}
	if report.GarbageVectors > 0 {
		if err := idx.Save(c.vectorPath); err != nil {
			return report, err
		}
	}

	// I1: Chunk rows whose vector_id has gone missing are orphaned and
	// scheduled for re-embedding.
	orphaned, err := c.findOrphanedChunks(ctx, relationalIDs, indexSet)
	if err != nil {
		return report, err
	}
	report.OrphanedChunks = len(orphaned)
	for _, chunk := range orphaned {
		if err := c.store.MarkChunkOrphaned(ctx, chunk.ID); err != nil {
			return report, err
		}
	}

	reembedded, err := c.reembedOrphanedChunks(ctx)
	if err != nil {
		return report, err
	}
	report.ReembeddedChunks = reembedded

	if c.graph != nil && c.graph.Available() {
		reupserted, deleted, err := c.sweepGraph(ctx)
		if err != nil {
			c.log.Warn("graph sweep failed, continuing in degraded mode", "error", err.Error())
			c.setGraphDegraded(true)
		} else {
			report.ReupsertedEdges = reupserted
			report.DeletedEdges = deleted
		}
	}

	return report, nil
}

func (c *Coordinator) findOrphanedChunks(ctx context.Context, relationalIDs []int64, indexSet map[int64]bool) ([]types.Chunk, error) {
	var missing []int64
	for _, id := range relationalIDs {
		if !indexSet[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return c.store.GetChunksByVectorIDs(ctx, missing)
}

// reembedOrphanedChunks re-computes embeddings for every chunk marked
// orphaned by a prior sweep pass and re-inserts them into the vector
// index under their existing vector_id, restoring I1 without a new
// allocation. This is idempotent: the orphan marker itself stays on the
// row, but a chunk whose vector_id is already live in the index is
// skipped, so a chunk that re-embedded successfully is not counted or
// re-embedded again on the next pass.
func (c *Coordinator) reembedOrphanedChunks(ctx context.Context) (int, error) {
	chunks, err := c.store.OrphanedChunks(ctx)
	if err != nil {
		return 0, err
	}

	idx := c.currentVector()
	count := 0
	for _, chunk := range chunks {
		if idx.Contains(chunk.VectorID) {
			continue
		}
		vec, err := c.embedder.Encode(ctx, chunk.ChunkText)
		if err != nil {
			c.log.Warn("re-embedding orphaned chunk failed", "chunk_id", chunk.ID, "error", err.Error())
			continue
		}
		if err := idx.Add(ctx, chunk.VectorID, vec); err != nil {
			c.log.Warn("re-adding orphaned chunk to vector index failed", "chunk_id", chunk.ID, "error", err.Error())
			continue
		}
		count++
	}
	if count > 0 {
		if err := idx.Save(c.vectorPath); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (c *Coordinator) sweepGraph(ctx context.Context) (reupserted, deleted int, err error) {
	links, err := c.store.AllResourceLinks(ctx)
	if err != nil {
		return 0, 0, err
	}

	edges, err := c.graph.AllEdges(ctx)
	if err != nil {
		return 0, 0, err
	}
	edgeSet := make(map[string]bool, len(edges))
	for _, e := range edges {
		edgeSet[edgeKey(e.SourceResourceID, e.TargetResourceID, e.LinkType)] = true
	}

	linkSet := make(map[string]bool, len(links))
	for _, l := range links {
		key := edgeKey(l.SourceResourceID, l.TargetResourceID, l.LinkType)
		linkSet[key] = true
		if edgeSet[key] {
			continue
		}
		if err := c.graph.CreateEdge(ctx, l); err != nil {
			return reupserted, deleted, err
		}
		reupserted++
	}

	for _, e := range edges {
		key := edgeKey(e.SourceResourceID, e.TargetResourceID, e.LinkType)
		if !linkSet[key] {
			if err := c.graph.DeleteEdge(ctx, e.SourceResourceID, e.TargetResourceID, e.LinkType); err != nil {
				return reupserted, deleted, err
			}
			deleted++
		}
	}
	return reupserted, deleted, nil
}

func edgeKey(source, target int64, linkType string) string {
	return fmt.Sprintf("%d:%d:%s", source, target, linkType)
}
