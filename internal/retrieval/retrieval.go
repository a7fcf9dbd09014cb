// Package retrieval turns a natural-language query into a ranked list of
// Chunks, per §4.6: cache lookup, embed, vector search, relational
// hydrate, filter, rank, truncate, optional graph enrichment, cache
// store. It also implements the two compound operations built on top of
// it — ask_with_context and auto_link_documents.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"ltmc/internal/coordinator"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/logging"
	"ltmc/internal/storage/cache"
	"ltmc/internal/types"
)

// overfetchFactor is K' = k * factor, widening the vector search beyond
// top_k so that garbage vectors or type-filtered misses don't starve the
// final ranked list.
const overfetchFactor = 3

// Pipeline drives the retrieval algorithm over a Coordinator's backends.
type Pipeline struct {
	c        *coordinator.Coordinator
	cacheTTL time.Duration
	log      logging.Logger
}

// New builds a Pipeline. cacheTTL is the TTL applied to cached retrieve
// results.
func New(c *coordinator.Coordinator, cacheTTL time.Duration, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultRetrievalTTL
	}
	return &Pipeline{c: c, cacheTTL: cacheTTL, log: log.WithComponent("retrieval")}
}

// Neighbor is a 1-hop graph-enrichment result attached to a retrieved
// Resource.
type Neighbor struct {
	ResourceID int64   `json:"resource_id"`
	LinkType   string  `json:"link_type"`
	Weight     float64 `json:"weight"`
}

// RetrievedChunk is one ranked hit, optionally carrying its Resource's
// 1-hop graph neighbors.
type RetrievedChunk struct {
	types.ChunkHydrated
	Neighbors []Neighbor `json:"neighbors,omitempty"`
}

// RetrieveOptions configures a single retrieve call.
type RetrieveOptions struct {
	TypeFilter      types.ResourceType // zero value means no filter
	ConversationID  string             // reserved for future conversation-scoped ranking
	GraphEnrichment bool
}

type cachedRetrieve struct {
	Chunks []RetrievedChunk `json:"chunks"`
}

// Retrieve implements §4.6 steps 1-9.
func (p *Pipeline) Retrieve(ctx context.Context, query string, topK int, opts RetrieveOptions) ([]RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ltmcerrors.Validation("query must not be empty")
	}
	// §8 B2: an explicit top_k=0 means "no results, no error" — it must
	// not be folded into the "unset → default" rule below.
	if topK == 0 {
		return nil, nil
	}
	if topK < 0 {
		topK = 10
	}

	cacheKey := cache.RetrieveKey(query, topK, string(opts.TypeFilter))
	if c := p.c.Cache(); c != nil {
		var cached cachedRetrieve
		if hit, err := c.Get(ctx, cacheKey, &cached); err == nil && hit {
			return cached.Chunks, nil
		}
	}

	queryVec, err := p.c.Embedder().Encode(ctx, query)
	if err != nil {
		return nil, ltmcerrors.Internal(err)
	}

	kPrime := topK * overfetchFactor
	hits, err := p.c.Vector().Search(ctx, queryVec, kPrime)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	distanceByVectorID := make(map[int64]float32, len(hits))
	vectorIDs := make([]int64, len(hits))
	for i, h := range hits {
		vectorIDs[i] = h.VectorID
		distanceByVectorID[h.VectorID] = h.Distance
	}

	hydrated, err := p.c.Store().GetChunksByVectorIDs(ctx, vectorIDs)
	if err != nil {
		return nil, err
	}

	filtered := hydrated[:0]
	for _, ch := range hydrated {
		if opts.TypeFilter != "" && ch.Resource.ResourceType != opts.TypeFilter {
			continue
		}
		filtered = append(filtered, ch)
	}

	ranked := make([]RetrievedChunk, len(filtered))
	for i, ch := range filtered {
		ch.Distance = distanceByVectorID[ch.VectorID]
		ranked[i] = RetrievedChunk{ChunkHydrated: ch}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Resource.CreatedAt.After(b.Resource.CreatedAt)
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	if opts.GraphEnrichment {
		p.enrich(ctx, ranked)
	}

	if c := p.c.Cache(); c != nil {
		if err := c.Set(ctx, cacheKey, cachedRetrieve{Chunks: ranked}, p.cacheTTL); err != nil {
			p.log.Warn("caching retrieve result failed", "error", err.Error())
		}
	}

	return ranked, nil
}

// enrich attaches each ranked hit's 1-hop graph neighbors, falling back
// to the relational ResourceLinks table when the graph backend is
// unavailable (§4.6 step 8, §4.4 degraded mode).
func (p *Pipeline) enrich(ctx context.Context, ranked []RetrievedChunk) {
	graph := p.c.Graph()
	useGraph := graph != nil && graph.Available()

	for i := range ranked {
		resourceID := ranked[i].Resource.ID
		if useGraph {
			edges, err := graph.Neighbors(ctx, resourceID, "")
			if err != nil {
				p.log.Warn("graph neighbor lookup failed, falling back to relational", "resource_id", resourceID, "error", err.Error())
				useGraph = false
			} else {
				ranked[i].Neighbors = edgesToNeighbors(edges)
				continue
			}
		}

		links, err := p.c.Store().LinksBySource(ctx, resourceID)
		if err != nil {
			p.log.Warn("relational neighbor fallback failed", "resource_id", resourceID, "error", err.Error())
			continue
		}
		ranked[i].Neighbors = linksToNeighbors(links)
	}
}

func edgesToNeighbors(edges []types.GraphEdge) []Neighbor {
	out := make([]Neighbor, len(edges))
	for i, e := range edges {
		out[i] = Neighbor{ResourceID: e.TargetResourceID, LinkType: e.LinkType, Weight: e.Weight}
	}
	return out
}

func linksToNeighbors(links []types.ResourceLink) []Neighbor {
	out := make([]Neighbor, len(links))
	for i, l := range links {
		out[i] = Neighbor{ResourceID: l.TargetResourceID, LinkType: l.LinkType, Weight: l.Weight}
	}
	return out
}
