package dispatch

import (
	"context"
	"fmt"

	"ltmc/internal/coordinator"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/retrieval"
	"ltmc/internal/types"
	"ltmc/pkg/mcp/protocol"
)

// memoryOp is the closed set of typed payloads the memory tool accepts.
type memoryOp interface{ isMemoryOp() }

type memoryStoreOp struct {
	FileName     string
	ResourceType types.ResourceType
	Content      string
	Metadata     map[string]interface{}
}

type memoryRetrieveOp struct {
	Query           string
	TopK            int
	TypeFilter      types.ResourceType
	GraphEnrichment bool
}

type memoryBuildContextOp struct {
	Query      string
	TopK       int
	TypeFilter types.ResourceType
	MaxTokens  int
}

type memoryDeleteOp struct {
	ResourceID int64
}

func (memoryStoreOp) isMemoryOp()        {}
func (memoryRetrieveOp) isMemoryOp()     {}
func (memoryBuildContextOp) isMemoryOp() {}
func (memoryDeleteOp) isMemoryOp()       {}

func parseMemoryOp(params map[string]interface{}) (memoryOp, error) {
	action, err := actionOf(params)
	if err != nil {
		return nil, err
	}

	switch action {
	case "store":
		fileName, err := requiredStr(params, "file_name")
		if err != nil {
			return nil, err
		}
		content, err := requiredStr(params, "content")
		if err != nil {
			return nil, err
		}
		rt := types.ResourceType(strVal(params, "resource_type"))
		if !rt.Valid() {
			return nil, ltmcerrors.Validation("unknown resource_type %q", rt)
		}
		return memoryStoreOp{FileName: fileName, ResourceType: rt, Content: content, Metadata: mapVal(params, "metadata")}, nil

	case "retrieve":
		query, err := requiredStr(params, "query")
		if err != nil {
			return nil, err
		}
		return memoryRetrieveOp{
			Query:           query,
			TopK:            intVal(params, "top_k", 10),
			TypeFilter:      types.ResourceType(strVal(params, "resource_type")),
			GraphEnrichment: boolVal(params, "graph_enrichment", false),
		}, nil

	case "build_context":
		query, err := requiredStr(params, "query")
		if err != nil {
			return nil, err
		}
		return memoryBuildContextOp{
			Query:      query,
			TopK:       intVal(params, "top_k", 10),
			TypeFilter: types.ResourceType(strVal(params, "resource_type")),
			MaxTokens:  intVal(params, "max_tokens", 0),
		}, nil

	case "delete":
		resourceID, err := requiredInt64(params, "resource_id")
		if err != nil {
			return nil, err
		}
		return memoryDeleteOp{ResourceID: resourceID}, nil

	default:
		return nil, ltmcerrors.Validation("unknown memory action %q", action)
	}
}

// MemoryTool returns the protocol.Tool definition and handler for the
// memory action tool: store, retrieve, build_context, delete.
func MemoryTool(c *coordinator.Coordinator, p *retrieval.Pipeline) (protocol.Tool, protocol.ToolHandlerFunc) {
	tool := protocol.Tool{
		Name:        "memory",
		Description: "Store resources and retrieve ranked context from long-term memory.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action":        map[string]interface{}{"type": "string", "enum": []string{"store", "retrieve", "build_context", "delete"}},
				"file_name":     map[string]interface{}{"type": "string"},
				"resource_type": map[string]interface{}{"type": "string"},
				"content":       map[string]interface{}{"type": "string"},
				"metadata":      map[string]interface{}{"type": "object"},
				"query":         map[string]interface{}{"type": "string"},
				"top_k":         map[string]interface{}{"type": "integer"},
				"max_tokens":    map[string]interface{}{"type": "integer"},
				"resource_id":   map[string]interface{}{"type": "integer"},
			},
			"required": []string{"action"},
		},
	}

	handler := protocol.ToolHandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		op, err := parseMemoryOp(params)
		if err != nil {
			return fail(err), nil
		}

		switch a := op.(type) {
		case memoryStoreOp:
			res, err := c.StoreResource(ctx, a.FileName, a.ResourceType, a.Content, a.Metadata)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"resource_id": res.ResourceID, "chunk_count": res.ChunkCount}), nil

		case memoryRetrieveOp:
			chunks, err := p.Retrieve(ctx, a.Query, a.TopK, retrieval.RetrieveOptions{
				TypeFilter:      a.TypeFilter,
				GraphEnrichment: a.GraphEnrichment,
			})
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"chunks": chunks}), nil

		case memoryBuildContextOp:
			built, err := p.BuildContext(ctx, a.Query, a.TopK, a.TypeFilter, a.MaxTokens)
			if err != nil {
				return fail(err), nil
			}
			return ok(built), nil

		case memoryDeleteOp:
			if err := c.DeleteResource(ctx, a.ResourceID); err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"resource_id": a.ResourceID, "deleted": true}), nil

		default:
			return fail(ltmcerrors.Internal(fmt.Errorf("unhandled memory op %T", a))), nil
		}
	})

	return tool, handler
}
