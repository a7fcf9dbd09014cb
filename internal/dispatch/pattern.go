package dispatch

import (
	"context"
	"fmt"

	"ltmc/internal/coordinator"
	ltmcerrors "ltmc/internal/errors"
	"ltmc/internal/types"
	"ltmc/pkg/mcp/protocol"
)

type patternOp interface{ isPatternOp() }

type patternLogOp struct {
	Pattern types.CodePattern
}

type patternGetOp struct {
	ID int64
}

// patternAnalyzeOp requests aggregate pass/fail/partial counts and
// average execution time over logged CodePatterns, grounded on the
// teacher's pattern-analysis shape and trimmed to what the data model
// here actually tracks — no AST extraction.
type patternAnalyzeOp struct {
	Result types.PatternResult
	Limit  int
}

func (patternLogOp) isPatternOp()     {}
func (patternGetOp) isPatternOp()     {}
func (patternAnalyzeOp) isPatternOp() {}

func parsePatternOp(params map[string]interface{}) (patternOp, error) {
	action, err := actionOf(params)
	if err != nil {
		return nil, err
	}

	switch action {
	case "log":
		inputPrompt, err := requiredStr(params, "input_prompt")
		if err != nil {
			return nil, err
		}
		generatedCode, err := requiredStr(params, "generated_code")
		if err != nil {
			return nil, err
		}
		result := types.PatternResult(strVal(params, "result"))
		if !result.Valid() {
			return nil, ltmcerrors.Validation("unknown pattern result %q", result)
		}

		p := types.CodePattern{
			InputPrompt:   inputPrompt,
			GeneratedCode: generatedCode,
			Result:        result,
			FunctionName:  strVal(params, "function_name"),
			FileName:      strVal(params, "file_name"),
			ModuleName:    strVal(params, "module_name"),
			ErrorMessage:  strVal(params, "error_message"),
			Tags:          stringSlice(params, "tags"),
		}
		if ms, ok := int64Val(params, "execution_time_ms"); ok {
			p.ExecutionTimeMs = &ms
		}
		return patternLogOp{Pattern: p}, nil

	case "get":
		id, err := requiredInt64(params, "id")
		if err != nil {
			return nil, err
		}
		return patternGetOp{ID: id}, nil

	case "analyze":
		return patternAnalyzeOp{Result: types.PatternResult(strVal(params, "result")), Limit: intVal(params, "limit", 200)}, nil

	default:
		return nil, ltmcerrors.Validation("unknown pattern action %q", action)
	}
}

// patternStats is the analyze action's aggregate response.
type patternStats struct {
	Total               int     `json:"total"`
	Pass                int     `json:"pass"`
	Fail                int     `json:"fail"`
	Partial             int     `json:"partial"`
	AvgExecutionTimeMs  float64 `json:"avg_execution_time_ms"`
}

func analyzePatterns(patterns []types.CodePattern) patternStats {
	var stats patternStats
	var sum int64
	var timed int

	for _, p := range patterns {
		stats.Total++
		switch p.Result {
		case types.PatternPass:
			stats.Pass++
		case types.PatternFail:
			stats.Fail++
		case types.PatternPartial:
			stats.Partial++
		}
		if p.ExecutionTimeMs != nil {
			sum += *p.ExecutionTimeMs
			timed++
		}
	}
	if timed > 0 {
		stats.AvgExecutionTimeMs = float64(sum) / float64(timed)
	}
	return stats
}

// PatternTool returns the protocol.Tool definition and handler for the
// pattern action tool: log, get, analyze.
func PatternTool(c *coordinator.Coordinator) (protocol.Tool, protocol.ToolHandlerFunc) {
	tool := protocol.Tool{
		Name:        "pattern",
		Description: "Log code-generation attempts and review their success rate.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"action":            map[string]interface{}{"type": "string", "enum": []string{"log", "get", "analyze"}},
				"input_prompt":      map[string]interface{}{"type": "string"},
				"generated_code":    map[string]interface{}{"type": "string"},
				"result":            map[string]interface{}{"type": "string"},
				"function_name":     map[string]interface{}{"type": "string"},
				"file_name":         map[string]interface{}{"type": "string"},
				"module_name":       map[string]interface{}{"type": "string"},
				"execution_time_ms": map[string]interface{}{"type": "integer"},
				"error_message":     map[string]interface{}{"type": "string"},
				"tags":              map[string]interface{}{"type": "array"},
				"id":                map[string]interface{}{"type": "integer"},
				"limit":             map[string]interface{}{"type": "integer"},
			},
			"required": []string{"action"},
		},
	}

	handler := protocol.ToolHandlerFunc(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		op, err := parsePatternOp(params)
		if err != nil {
			return fail(err), nil
		}

		switch a := op.(type) {
		case patternLogOp:
			res, err := c.LogCodePattern(ctx, a.Pattern)
			if err != nil {
				return fail(err), nil
			}
			return ok(map[string]interface{}{"pattern_id": res.PatternID}), nil

		case patternGetOp:
			p, err := c.Store().GetCodePattern(ctx, a.ID)
			if err != nil {
				return fail(err), nil
			}
			return ok(p), nil

		case patternAnalyzeOp:
			patterns, err := c.Store().ListCodePatterns(ctx, a.Result, a.Limit)
			if err != nil {
				return fail(err), nil
			}
			return ok(analyzePatterns(patterns)), nil

		default:
			return fail(ltmcerrors.Internal(fmt.Errorf("unhandled pattern op %T", a))), nil
		}
	})

	return tool, handler
}
