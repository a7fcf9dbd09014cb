package dispatch

import (
	"context"
	"fmt"

	"ltmc/internal/coordinator"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/retrieval"
	"ltmc/pkg/mcp/protocol"
)

type graphOp interface{ isGraphOp() }

type graphLinkOp struct {
	SourceID int64
	TargetID int64
	LinkType string
	Weight   float64
	Metadata map[string]interface{}
}

type graphQueryOp struct {
	Cypher string
	Params map[string]interface{}
}

type graphAutoLinkOp struct {
	ResourceIDs         []int64
	SimilarityThreshold float64
	MaxLinksPerDoc      int
}

type graphGetRelationshipsOp struct {
	ResourceID int64
	LinkType   string
}

func (graphLinkOp) isGraphOp()             {}
func (graphQueryOp) isGraphOp()            {}
func (graphAutoLinkOp) isGraphOp()         {}
func (graphGetRelationshipsOp) isGraphOp() {}

func parseGraphOp(params map[string]interface{}) (graphOp, error) {
	action, err := actionOf(params)
	if err != nil {
		return nil, err
	}

	switch action {
	case "link":
		sourceID, err := requiredInt64(params, "source_id")
		if err != nil {
			return nil, err
		}
		targetID, err := requiredInt64(params, "target_id")
		if err != nil {
			return nil, err
		}
		linkType, err := requiredStr(params, "link_type")
		if err != nil {
			return nil, err
		}
		return graphLinkOp{
			SourceID: sourceID,
			TargetID: targetID,
			LinkType: linkType,
			Weight:   floatVal(params, "weight", 1.0),
			Metadata: mapVal(params, "metadata"),
		}, nil

	case "query":
		cypher, err := requiredStr(params, "cypher")
		if err != nil {
			return nil, err
		}
		return graphQueryOp{Cypher: cypher, Params: mapVal(params, "params")}, nil

	case "auto_link":
		ids, err := int64Slice(params, "resource_ids")
		if err != nil {
			return nil, err
		}
		return graphAutoLinkOp{
			ResourceIDs:         ids,
			SimilarityThreshold: floatVal(params, "similarity_threshold", 0),
			MaxLinksPerDoc:      intVal(params, "max_links_per_doc", 0),
		}, nil

	case "get_relationships":
		resourceID, err := requiredInt64(params, "resource_id")
		if err != nil {
			return nil, err
		}
		return graphGetRelationshipsOp{ResourceID: resourceID, LinkType: strVal(params, "link_type")}, nil

	default:
		return nil, ltmcerrors.Validation("unknown graph action %q", action)
	}
}

// GraphTool returns the protocol.Tool definition and handler for the
// graph action tool: link, query, auto_link, get_relationships.
func GraphTool(c *coordinator.Coordinator, p *retrieval.Pipeline) (protocol.Tool, protocol.ToolHandlerFunc) {
	tool := protocol.Tool{
		Name:        "graph",
		Description: "Create and traverse typed relationships between stored resources.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action":               map[string]interface{}{"type": "string", "enum": []string{"link", "query", "auto_link", "get_relationships"}},
				"source_id":            map[string]interface{}{"type": "integer"},
				"target_id":            map[string]interface{}{"type": "integer"},
				"link_type":            map[string]interface{}{"type": "string"},
				"weight":               map[string]interface{}{"type": "number"},
				"metadata":             map[string]interface{}{"type": "object"},
				"cypher":               map[string]interface{}{"type": "string"},
				"params":               map[string]interface{}{"type": "object"},
				"resource_ids":         map[string]interface{}{"type": "array"},
				"similarity_threshold": map[string]interface{}{"type": "number"},
				"max_links_per_doc":    map[string]interface{}{"type": "integer"},
				"resource_id":          map[string]interface{}{"type": "integer"},
			},
			"required": []string{"action"},
		},
	}

	handler := protocol.ToolHandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		op, err := parseGraphOp(params)
		if err != nil {
			return fail(err), nil
		}

		switch a := op.(type) {
		case graphLinkOp:
			res, err := c.CreateResourceLink(ctx, a.SourceID, a.TargetID, a.LinkType, a.Weight, a.Metadata)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"link_id": res.LinkID}), nil

		case graphQueryOp:
			graph := c.Graph()
			if graph == nil || !graph.Available() {
				return fail(ltmcerrors.Unavailable("graph backend unavailable, query has no relational fallback")), nil
			}
			rows, err := graph.Query(ctx, a.Cypher, a.Params)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"rows": rows}), nil

		case graphAutoLinkOp:
			created, err := p.AutoLinkDocuments(ctx, a.ResourceIDs, a.SimilarityThreshold, a.MaxLinksPerDoc)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"links_created": created}), nil

		case graphGetRelationshipsOp:
			return handleGetRelationships(ctx, c, a)

		default:
			return fail(ltmcerrors.Internal(fmt.Errorf("unhandled graph op %T", a))), nil
		}
	})

	return tool, handler
}

// handleGetRelationships implements B5/scenario 6: when the graph
// backend is down, neighbors come from the relational ResourceLinks
// mirror instead, flagged so the caller knows it's a fallback.
func handleGetRelationships(ctx context.Context, c *coordinator.Coordinator, a graphGetRelationshipsOp) (interface{}, error) {
	graph := c.Graph()
	if graph != nil && graph.Available() {
		edges, err := graph.Neighbors(ctx, a.ResourceID, a.LinkType)
		if err == nil {
			return ok(map[string]interface{}{"relationships": edges, "fallback": false}), nil
		}
	}

	links, err := c.Store().LinksBySource(ctx, a.ResourceID)
	if err != nil {
		return fail(err), nil
	}
	if a.LinkType != "" {
		filtered := links[:0]
		for _, l := range links {
			if l.LinkType == a.LinkType {
				filtered = append(filtered, l)
			}
		}
		links = filtered
	}
	return ok(map[string]interface{}{"relationships": links, "fallback": true}), nil
}
