package dispatch

import (
	"context"
	"fmt"

	"ltmc/internal/coordinator"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/pkg/mcp/protocol"
)

type cacheOp interface{ isCacheOp() }

type cacheStatsOp struct{}
type cacheHealthOp struct{}
type cacheFlushOp struct{ Scope string }
type cacheResetOp struct{}

func (cacheStatsOp) isCacheOp()  {}
func (cacheHealthOp) isCacheOp() {}
func (cacheFlushOp) isCacheOp()  {}
func (cacheResetOp) isCacheOp()  {}

func parseCacheOp(params map[string]interface{}) (cacheOp, error) {
	action, err := actionOf(params)
	if err != nil {
		return nil, err
	}

	switch action {
	case "stats":
		return cacheStatsOp{}, nil
	case "health":
		return cacheHealthOp{}, nil
	case "flush":
		return cacheFlushOp{Scope: strVal(params, "scope")}, nil
	case "reset":
		return cacheResetOp{}, nil
	default:
		return nil, ltmcerrors.Validation("unknown cache action %q", action)
	}
}

// CacheTool returns the protocol.Tool definition and handler for the
// cache action tool: stats, flush, health, reset. Every action is a
// no-op when no cache backend is configured, matching §4.5's "purely
// optional" contract.
func CacheTool(c *coordinator.Coordinator) (protocol.Tool, protocol.ToolHandlerFunc) {
	tool := protocol.Tool{
		Name:        "cache",
		Description: "Inspect and manage the optional retrieval cache.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action": map[string]interface{}{"type": "string", "enum": []string{"stats", "flush", "health", "reset"}},
				"scope":  map[string]interface{}{"type": "string"},
			},
			"required": []string{"action"},
		},
	}

	handler := protocol.ToolHandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		op, err := parseCacheOp(params)
		if err != nil {
			return fail(err), nil
		}

		cache := c.Cache()

		switch a := op.(type) {
		case cacheStatsOp:
			if cache == nil {
				return ok(map[string]interface{}{"configured": false}), nil
			}
			return ok(map[string]interface{}{"configured": true, "stats": cache.Stats()}), nil

		case cacheHealthOp:
			// §8 scenario 6: health reports the coordinator's full
			// cross-store view (graph_available, degraded, ...), not
			// just the cache backend's own reachability.
			sys := c.Health(ctx)
			result := map[string]interface{}{
				"relational_ok":   sys.RelationalOK,
				"vector_ok":       sys.VectorOK,
				"graph_available": sys.GraphAvailable,
				"degraded":        sys.Degraded,
			}
			if cache == nil {
				result["cache_configured"] = false
				result["healthy"] = false
			} else {
				result["cache_configured"] = true
				result["healthy"] = cache.Health(ctx)
			}
			return ok(result), nil

		case cacheFlushOp:
			if cache == nil {
				return ok(map[string]interface{}{"configured": false}), nil
			}
			if err := cache.Flush(ctx, a.Scope); err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"flushed": true}), nil

		case cacheResetOp:
			if cache == nil {
				return ok(map[string]interface{}{"configured": false}), nil
			}
			if err := cache.Invalidate(ctx, "*"); err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"reset": true}), nil

		default:
			return fail(ltmcerrors.Internal(fmt.Errorf("unhandled cache op %T", a))), nil
		}
	})

	return tool, handler
}
